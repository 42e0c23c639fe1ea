// Package credstore persists a user-supplied recognition-service API key
// confidentially at rest on-device. It implements the Credential Store (CS)
// component of spec §4.1: format validation, remote verification,
// AES-256-GCM encryption with a PBKDF2-derived, device-fingerprint-bound
// key, and a bounded "info" projection that never exposes the plaintext.
package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// KVStore is the abstract key/value surface the store persists through, per
// spec §6. Implementations must be safe for concurrent use.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Key namespace suffixes, per spec §6's persisted-state layout.
const (
	suffixEncrypted = "api_key_encrypted"
	suffixVerified  = "api_key_verified_at"
	suffixScopes    = "api_key_scopes"
	suffixProject   = "project_uuid"
)

var formatPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const minKeyLength = 32

// VerifyResult is the successful response from [Store.Verify], per spec §4.1
// and the auth-check endpoint in §6.
type VerifyResult struct {
	Scopes    []string
	ProjectID string
	ExpiresAt time.Time // zero value if the endpoint did not report one
}

// Info is the bounded projection returned by [Store.Info]: it never exposes
// the plaintext key.
type Info struct {
	Present    bool
	Scopes     []string
	VerifiedAt time.Time
	ProjectID  string
}

// Store implements the Credential Store component. Namespace scopes all
// persisted keys so multiple Stores can share one [KVStore] without
// collision, mirroring spec §6's "<service>." key prefix.
type Store struct {
	kv          KVStore
	namespace   string
	fingerprint string
	passphrase  string
	verifyURL   string
	httpClient  *http.Client
}

// Option configures a [Store].
type Option func(*Store)

// WithPassphrase sets an optional user passphrase concatenated with the
// device fingerprint before key derivation, per spec §4.1.
func WithPassphrase(passphrase string) Option {
	return func(s *Store) { s.passphrase = passphrase }
}

// WithVerifyURL overrides the auth-check endpoint, per spec §6. Defaults to
// the recognition service's production endpoint.
func WithVerifyURL(url string) Option {
	return func(s *Store) { s.verifyURL = url }
}

// WithHTTPClient overrides the HTTP client used for verification requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.httpClient = c }
}

const defaultVerifyURL = "https://api.deepgram.com/v1/auth/token"

// New creates a [Store] backed by kv, namespaced under namespace (e.g. the
// recognition service's name), and bound to the device fingerprint described
// by fp.
func New(kv KVStore, namespace string, fp FingerprintInputs, opts ...Option) *Store {
	s := &Store{
		kv:          kv,
		namespace:   namespace,
		fingerprint: Fingerprint(fp),
		verifyURL:   defaultVerifyURL,
		httpClient:  http.DefaultClient,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) key(suffix string) string {
	return s.namespace + "." + suffix
}

// ValidateFormat trims whitespace and checks local format rules: non-empty,
// at least 32 characters, and restricted to [A-Za-z0-9_-]. It returns the
// trimmed key. These are policy checks, not cryptographic ones, per spec §4.1.
func ValidateFormat(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < minKeyLength {
		return "", newErr(KindInvalidFormat, fmt.Sprintf("key must be at least %d characters", minKeyLength), nil)
	}
	if !formatPattern.MatchString(trimmed) {
		return "", newErr(KindInvalidFormat, "key contains characters outside [A-Za-z0-9_-]", nil)
	}
	return trimmed, nil
}

// MaskKey returns a display-safe projection of s: the first 8 characters,
// asterisks for the middle, and the last 4 characters. Strings shorter than
// 12 characters become "***". Purely a display helper — not cryptographic.
func MaskKey(s string) string {
	if len(s) < 12 {
		return "***"
	}
	middle := strings.Repeat("*", len(s)-12)
	return s[:8] + middle + s[len(s)-4:]
}

type authTokenResponse struct {
	Token      string   `json:"token"`
	ProjectID  string   `json:"project_uuid"`
	Scopes     []string `json:"scopes"`
	Created    string   `json:"created"`
	Expires    string   `json:"expires"`
}

// Verify issues a GET to the recognition service's auth/token introspection
// endpoint with apiKey as a bearer-style credential, per spec §4.1/§6. It is
// idempotent and mutates no stored state.
func (s *Store) Verify(ctx context.Context, apiKey string) (*VerifyResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.verifyURL, nil)
	if err != nil {
		return nil, newErr(KindNetworkError, "build request", err)
	}
	req.Header.Set("Authorization", "Token "+apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, newErr(KindNetworkError, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, newErr(KindInvalidKey, "key rejected", nil)
	case resp.StatusCode == http.StatusForbidden:
		return nil, newErr(KindPermissionDenied, "key lacks required scopes", nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, newErr(KindRateLimited, "verification rate limited", nil)
	case resp.StatusCode >= 500:
		return nil, newErr(KindServiceUnavailable, fmt.Sprintf("service returned %d", resp.StatusCode), nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, newErr(KindNetworkError, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newErr(KindNetworkError, "read response", err)
	}
	var parsed authTokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, newErr(KindNetworkError, "parse response", err)
	}

	result := &VerifyResult{Scopes: parsed.Scopes, ProjectID: parsed.ProjectID}
	if parsed.Expires != "" {
		if t, err := time.Parse(time.RFC3339, parsed.Expires); err == nil {
			result.ExpiresAt = t
		}
	}
	return result, nil
}

// VerifyAndSave runs [Store.Verify], then encrypts and persists apiKey. If
// any step fails, no storage mutation occurs — spec §4.1/§5's atomicity
// requirement.
func (s *Store) VerifyAndSave(ctx context.Context, apiKey string) (*VerifyResult, error) {
	trimmed, err := ValidateFormat(apiKey)
	if err != nil {
		return nil, err
	}

	result, err := s.Verify(ctx, trimmed)
	if err != nil {
		return nil, err
	}

	enc := &encryptor{fingerprint: s.fingerprint, passphrase: s.passphrase}
	record, err := enc.encrypt(trimmed)
	if err != nil {
		return nil, newErr(KindNetworkError, "encrypt for storage", err)
	}

	if err := s.kv.Set(ctx, s.key(suffixEncrypted), record); err != nil {
		return nil, newErr(KindNetworkError, "persist encrypted key", err)
	}
	if err := s.kv.Set(ctx, s.key(suffixVerified), fmt.Sprintf("%d", time.Now().UnixMilli())); err != nil {
		_ = s.kv.Remove(ctx, s.key(suffixEncrypted))
		return nil, newErr(KindNetworkError, "persist verified_at", err)
	}
	if scopes, err := json.Marshal(result.Scopes); err == nil {
		_ = s.kv.Set(ctx, s.key(suffixScopes), string(scopes))
	}
	if result.ProjectID != "" {
		_ = s.kv.Set(ctx, s.key(suffixProject), result.ProjectID)
	}

	return result, nil
}

// Get returns the plaintext API key. It fails with [KindNotFound] if no key
// is stored, or [KindDecryptionFailed] if the stored record cannot be
// decrypted with the current device fingerprint — the latter is a normal
// signal that the device or browser profile changed, not a corrupted store.
func (s *Store) Get(ctx context.Context) (string, error) {
	record, ok, err := s.kv.Get(ctx, s.key(suffixEncrypted))
	if err != nil {
		return "", newErr(KindNetworkError, "read stored key", err)
	}
	if !ok {
		return "", newErr(KindNotFound, "no key stored", nil)
	}

	enc := &encryptor{fingerprint: s.fingerprint, passphrase: s.passphrase}
	plaintext, err := enc.decrypt(record)
	if err != nil {
		return "", err
	}
	return plaintext, nil
}

// Remove deletes all entries associated with this credential.
func (s *Store) Remove(ctx context.Context) error {
	for _, suffix := range []string{suffixEncrypted, suffixVerified, suffixScopes, suffixProject} {
		if err := s.kv.Remove(ctx, s.key(suffix)); err != nil {
			return newErr(KindNetworkError, "remove "+suffix, err)
		}
	}
	return nil
}

// Info returns the bounded presence/scope projection, per spec §4.1. It
// never returns the plaintext key.
func (s *Store) Info(ctx context.Context) (Info, error) {
	_, present, err := s.kv.Get(ctx, s.key(suffixEncrypted))
	if err != nil {
		return Info{}, newErr(KindNetworkError, "read presence", err)
	}
	info := Info{Present: present}
	if !present {
		return info, nil
	}

	if raw, ok, _ := s.kv.Get(ctx, s.key(suffixVerified)); ok {
		var ms int64
		if _, err := fmt.Sscanf(raw, "%d", &ms); err == nil {
			info.VerifiedAt = time.UnixMilli(ms)
		}
	}
	if raw, ok, _ := s.kv.Get(ctx, s.key(suffixScopes)); ok {
		_ = json.Unmarshal([]byte(raw), &info.Scopes)
	}
	if raw, ok, _ := s.kv.Get(ctx, s.key(suffixProject)); ok {
		info.ProjectID = raw
	}
	return info, nil
}
