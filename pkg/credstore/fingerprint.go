package credstore

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// FingerprintInputs holds the device-local, stable, non-secret attributes
// used to derive the at-rest encryption key, per spec §4.1.
//
// Every field must resolve to the same value across every execution context
// the core runs in. Attributes that would otherwise drift between contexts
// (e.g. a browser's window-only globals accessed from a worker) must be
// replaced by sentinel literals rather than a live lookup — see
// [DefaultFingerprintInputs].
type FingerprintInputs struct {
	// UserAgentToken identifies the runtime/browser family. Use a sentinel
	// literal, not a live lookup, if the value is not available identically
	// in every context this core runs in.
	UserAgentToken string

	// Language is a BCP-47 locale tag.
	Language string

	// TimezoneOffsetMinutes is the local UTC offset in minutes.
	TimezoneOffsetMinutes int

	// HardwareConcurrency is the number of logical processors available.
	HardwareConcurrency int

	// PlatformID identifies the OS/platform family.
	PlatformID string
}

// DefaultFingerprintInputs returns a [FingerprintInputs] built from
// process-local, deterministic sources. PlatformID and UserAgentToken are
// sentinel literals rather than live environment lookups, because those
// attributes are the ones most likely to differ between execution contexts
// (e.g. a background worker vs. the main page) — spec §4.1/§9 require the
// fingerprint set to be identical everywhere the core runs.
func DefaultFingerprintInputs(language string) FingerprintInputs {
	_, offsetSec := time.Now().Zone()
	return FingerprintInputs{
		UserAgentToken:        "captioncore",
		Language:              language,
		TimezoneOffsetMinutes: offsetSec / 60,
		HardwareConcurrency:   runtime.NumCPU(),
		PlatformID:            "captioncore-host",
	}
}

// Fingerprint deterministically concatenates in's fields into the string fed
// into PBKDF2 as the key-derivation input, per spec §4.1.
func Fingerprint(in FingerprintInputs) string {
	var b strings.Builder
	b.WriteString(in.UserAgentToken)
	b.WriteByte('|')
	b.WriteString(in.Language)
	b.WriteByte('|')
	fmt.Fprintf(&b, "%d", in.TimezoneOffsetMinutes)
	b.WriteByte('|')
	fmt.Fprintf(&b, "%d", in.HardwareConcurrency)
	b.WriteByte('|')
	b.WriteString(in.PlatformID)
	return b.String()
}
