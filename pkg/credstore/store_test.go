package credstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/captioncore/pkg/credstore/mock"
	"github.com/stretchr/testify/require"
)

func testFingerprint() FingerprintInputs {
	return FingerprintInputs{
		UserAgentToken:        "test-agent",
		Language:              "en-US",
		TimezoneOffsetMinutes: -480,
		HardwareConcurrency:   8,
		PlatformID:            "test-platform",
	}
}

func TestValidateFormat(t *testing.T) {
	t.Run("trims and accepts a valid key", func(t *testing.T) {
		got, err := ValidateFormat("  " + strings.Repeat("a", 32) + "  ")
		require.NoError(t, err)
		require.Len(t, got, 32)
	})

	t.Run("rejects too-short key after trimming", func(t *testing.T) {
		_, err := ValidateFormat("  abc123  ")
		require.Error(t, err)
		require.True(t, IsKind(err, KindInvalidFormat))
	})

	t.Run("rejects disallowed characters", func(t *testing.T) {
		_, err := ValidateFormat(strings.Repeat("a", 31) + "!")
		require.Error(t, err)
		require.True(t, IsKind(err, KindInvalidFormat))
	})

	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ValidateFormat("   ")
		require.Error(t, err)
		require.True(t, IsKind(err, KindInvalidFormat))
	})
}

func TestMaskKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"short", "***"},
		{strings.Repeat("x", 12), strings.Repeat("x", 12)},
		{"sk-test-" + strings.Repeat("y", 40) + "abcd", "sk-test-" + strings.Repeat("*", 40) + "abcd"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, MaskKey(c.in))
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc := &encryptor{fingerprint: Fingerprint(testFingerprint())}
	plaintext := "sk-test-" + strings.Repeat("x", 48)

	record, err := enc.encrypt(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, record)

	got, err := enc.decrypt(record)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)

	t.Run("mutated fingerprint fails to decrypt", func(t *testing.T) {
		other := testFingerprint()
		other.HardwareConcurrency = 4
		wrongEnc := &encryptor{fingerprint: Fingerprint(other)}
		_, err := wrongEnc.decrypt(record)
		require.Error(t, err)
		require.True(t, IsKind(err, KindDecryptionFailed))
	})
}

func TestEncryptDistinctSaltAndIV(t *testing.T) {
	enc := &encryptor{fingerprint: Fingerprint(testFingerprint())}
	r1, err := enc.encrypt("sk-test-" + strings.Repeat("a", 48))
	require.NoError(t, err)
	r2, err := enc.encrypt("sk-test-" + strings.Repeat("a", 48))
	require.NoError(t, err)
	require.NotEqual(t, r1, r2, "salt/iv must be distinct per encryption")
}

func newVerifyServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Token sk-test-key", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestVerify(t *testing.T) {
	t.Run("2xx returns scopes and project", func(t *testing.T) {
		srv := newVerifyServer(t, http.StatusOK, `{"token":"t","project_uuid":"proj-1","scopes":["usage:write"],"created":"now","expires":"2026-01-01T00:00:00Z"}`)
		defer srv.Close()

		s := New(mock.NewKVStore(), "deepgram", testFingerprint(), WithVerifyURL(srv.URL))
		result, err := s.Verify(context.Background(), "sk-test-key")
		require.NoError(t, err)
		require.Equal(t, "proj-1", result.ProjectID)
		require.Equal(t, []string{"usage:write"}, result.Scopes)
	})

	cases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusUnauthorized, KindInvalidKey},
		{http.StatusForbidden, KindPermissionDenied},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusInternalServerError, KindServiceUnavailable},
	}
	for _, c := range cases {
		srv := newVerifyServer(t, c.status, `{}`)
		s := New(mock.NewKVStore(), "deepgram", testFingerprint(), WithVerifyURL(srv.URL))
		_, err := s.Verify(context.Background(), "sk-test-key")
		require.Error(t, err)
		require.True(t, IsKind(err, c.kind), "status %d should map to %s, got %v", c.status, c.kind, err)
		srv.Close()
	}
}

func TestVerifyAndSaveAtomicity(t *testing.T) {
	t.Run("failed verify performs no storage mutation", func(t *testing.T) {
		srv := newVerifyServer(t, http.StatusUnauthorized, `{}`)
		defer srv.Close()

		kv := mock.NewKVStore()
		s := New(kv, "deepgram", testFingerprint(), WithVerifyURL(srv.URL))
		_, err := s.VerifyAndSave(context.Background(), "sk-test-"+strings.Repeat("x", 40))
		require.Error(t, err)
		require.Equal(t, 0, kv.Len())
	})

	t.Run("success persists encrypted key, timestamp, scopes, project", func(t *testing.T) {
		srv := newVerifyServer(t, http.StatusOK, `{"token":"t","project_uuid":"proj-1","scopes":["usage:write"]}`)
		defer srv.Close()

		kv := mock.NewKVStore()
		s := New(kv, "deepgram", testFingerprint(), WithVerifyURL(srv.URL))
		apiKey := "sk-test-" + strings.Repeat("x", 40)
		_, err := s.VerifyAndSave(context.Background(), apiKey)
		require.NoError(t, err)

		got, err := s.Get(context.Background())
		require.NoError(t, err)
		require.Equal(t, apiKey, got)

		info, err := s.Info(context.Background())
		require.NoError(t, err)
		require.True(t, info.Present)
		require.Equal(t, "proj-1", info.ProjectID)
		require.Equal(t, []string{"usage:write"}, info.Scopes)
		require.False(t, info.VerifiedAt.IsZero())
	})
}

func TestGetNotFound(t *testing.T) {
	s := New(mock.NewKVStore(), "deepgram", testFingerprint())
	_, err := s.Get(context.Background())
	require.Error(t, err)
	require.True(t, IsKind(err, KindNotFound))
}

func TestRemoveClearsAllEntries(t *testing.T) {
	srv := newVerifyServer(t, http.StatusOK, `{"token":"t","project_uuid":"proj-1","scopes":["usage:write"]}`)
	defer srv.Close()

	kv := mock.NewKVStore()
	s := New(kv, "deepgram", testFingerprint(), WithVerifyURL(srv.URL))
	_, err := s.VerifyAndSave(context.Background(), "sk-test-"+strings.Repeat("x", 40))
	require.NoError(t, err)
	require.Greater(t, kv.Len(), 0)

	require.NoError(t, s.Remove(context.Background()))
	require.Equal(t, 0, kv.Len())

	_, err = s.Get(context.Background())
	require.True(t, IsKind(err, KindNotFound))
}
