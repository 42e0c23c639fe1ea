// Command captioncore-smoke wires a Manager against file-backed stand-ins
// for the browser host surfaces (tab capture, playback mirror, video
// timeline) so the streaming recognition core can be driven end to end from
// a terminal, without the extension shell spec.md scopes out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/captioncore"
	"github.com/MrWong99/captioncore/pkg/audio"
	"github.com/MrWong99/captioncore/pkg/config"
	"github.com/MrWong99/captioncore/pkg/credstore"
	"github.com/MrWong99/captioncore/pkg/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	kvPath := flag.String("kv", "captioncore.kv.json", "path to the file-backed credential kvStore")
	pcmPath := flag.String("pcm", "", "path to raw little-endian float32 PCM to feed as captured audio (silence if empty)")
	silenceDur := flag.Duration("silence", 10*time.Second, "how long to emit silence when -pcm is empty")
	apiKey := flag.String("save-api-key", "", "verify and persist this recognition-service API key, then exit")
	logLevel := flag.String("log-level", "info", "debug, info, warn, or error")
	metricsOn := flag.Bool("metrics", false, "record captioncore metrics to the process-global MeterProvider")
	flag.Parse()

	slog.SetDefault(newLogger(*logLevel))

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "captioncore-smoke: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "captioncore-smoke: %v\n", err)
		}
		return 1
	}

	kv := newFileKVStore(*kvPath)
	creds := credstore.New(kv, cfg.Credential.ServiceName,
		credstore.DefaultFingerprintInputs(cfg.Recognition.Language),
		credstore.WithVerifyURL(cfg.Credential.VerifyURL))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *apiKey != "" {
		res, err := creds.VerifyAndSave(ctx, *apiKey)
		if err != nil {
			slog.Error("captioncore-smoke: verify and save failed", "error", err)
			return 1
		}
		slog.Info("captioncore-smoke: credential saved",
			"project_uuid", res.ProjectID, "scopes", res.Scopes)
		return 0
	}

	var metrics *observe.Metrics
	if *metricsOn {
		metrics = observe.DefaultMetrics()
	}

	deps := captioncore.Deps{
		Capture: newFileCaptureSource(ctx, *pcmPath, 48000, 1, *silenceDur),
		Mirror:  noopMirror{},
		Times:   newWallClockTimeSource(),
	}
	if cfg.Recognition.Backend == config.BackendBatch {
		deps.Encoder = rawEncoder{}
	}

	mgr, err := captioncore.New(*cfg, deps,
		captioncore.WithCredentialStore(creds),
		captioncore.WithMetrics(metrics))
	if err != nil {
		slog.Error("captioncore-smoke: wire manager failed", "error", err)
		return 1
	}

	slog.Info("captioncore-smoke: opening session",
		"backend", cfg.Recognition.Backend, "model", cfg.Recognition.Model, "language", cfg.Recognition.Language)
	if err := mgr.Open(ctx); err != nil {
		slog.Error("captioncore-smoke: open failed", "error", err)
		return 1
	}
	slog.Info("captioncore-smoke: session open", "session_id", mgr.Session().ID)

	go printSegments(mgr)

	runErr := mgr.Run(ctx)
	closeErr := mgr.Close()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("captioncore-smoke: run error", "error", runErr)
		return 1
	}
	if closeErr != nil {
		slog.Error("captioncore-smoke: close error", "error", closeErr)
		return 1
	}
	slog.Info("captioncore-smoke: goodbye")
	return 0
}

func printSegments(mgr *captioncore.Manager) {
	for seg := range mgr.Segments() {
		fmt.Printf("[%6.2f - %6.2f] %s\n", seg.StartSec, seg.EndSec, seg.Text)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

var _ audio.CaptureSource = (*fileCaptureSource)(nil)
