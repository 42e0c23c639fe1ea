package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies defaults, and
// returns a validated [CoreConfig].
func Load(path string) (*CoreConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*CoreConfig, error) {
	cfg := &CoreConfig{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	*cfg = cfg.WithDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values, returning a
// joined error listing every failure found. Soft, non-fatal concerns are
// logged at warn level rather than rejected.
func Validate(cfg *CoreConfig) error {
	var errs []error

	if cfg.Recognition.Endpoint == "" {
		errs = append(errs, errors.New("recognition.endpoint is required"))
	}
	if !cfg.Recognition.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("recognition.backend %q is invalid; valid values: streaming, batch", cfg.Recognition.Backend))
	}
	if cfg.Recognition.ReconnectMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("recognition.reconnect_max_retries %d must be >= 0", cfg.Recognition.ReconnectMaxRetries))
	}
	if cfg.Recognition.ReconnectBaseDelayMs <= 0 {
		errs = append(errs, fmt.Errorf("recognition.reconnect_base_delay_ms %d must be > 0", cfg.Recognition.ReconnectBaseDelayMs))
	}

	if cfg.Overlap.SimilarityThreshold < 0 || cfg.Overlap.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("overlap.similarity_threshold %.2f must be in [0,1]", cfg.Overlap.SimilarityThreshold))
	}
	if cfg.Overlap.MaxCompareLength <= 0 {
		errs = append(errs, fmt.Errorf("overlap.max_compare_length %d must be > 0", cfg.Overlap.MaxCompareLength))
	}

	if cfg.Recognition.Backend == BackendBatch && cfg.Overlap.OverlapDurationMs <= 0 {
		errs = append(errs, errors.New("overlap.overlap_duration_ms must be > 0 when recognition.backend is batch"))
	}
	if cfg.Recognition.Backend == BackendStreaming && cfg.Overlap.OverlapDurationMs != 0 && cfg.Overlap.OverlapDurationMs != DefaultOverlapDurationMs {
		slog.Warn("overlap.overlap_duration_ms is set but recognition.backend is streaming; the Overlap Processor is inactive in this mode")
	}

	if cfg.Credential.ServiceName == "" {
		slog.Warn("credential.service_name is empty; kvStore keys will not be namespaced per spec §6")
	}

	if cfg.Recognition.Language == "multi" {
		slog.Warn("recognition.language is \"multi\"; confirm the configured model supports auto-detection")
	}

	return errors.Join(errs...)
}
