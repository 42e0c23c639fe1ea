package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/captioncore/pkg/captiontypes"
	"github.com/MrWong99/captioncore/pkg/session"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

// newTestServer accepts every WebSocket connection and hands it, with its
// request, to onConn so the test can script the server side.
func newTestServer(t *testing.T, onConn func(ctx context.Context, conn *websocket.Conn, r *http.Request)) (*httptest.Server, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		onConn(r.Context(), conn, r)
	}))
	return srv, srv.Close
}

func wsURL(httpURL string) string {
	return "ws" + httpURL[len("http"):]
}

func disabledKeepAlive() *bool {
	b := false
	return &b
}

func TestClient_OpenSendsAuthHeaderAndQueryParams(t *testing.T) {
	var gotAuth string
	var gotQuery map[string][]string

	srv, closeSrv := newTestServer(t, func(ctx context.Context, conn *websocket.Conn, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query()
		conn.Close(websocket.StatusNormalClosure, "")
	})
	defer closeSrv()

	c := session.New(session.Config{
		Endpoint:          wsURL(srv.URL),
		APIKey:            "sk-test-key",
		Model:              "nova-2",
		Language:           "en",
		KeepAliveEnabled:   disabledKeepAlive(),
	})
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()

	require.Eventually(t, func() bool { return gotAuth != "" }, time.Second, 5*time.Millisecond)
	require.Equal(t, "Token sk-test-key", gotAuth)
	require.Equal(t, []string{"nova-2"}, gotQuery["model"])
	require.Equal(t, []string{"en"}, gotQuery["language"])
}

func TestClient_SendAudioAndReceiveResults(t *testing.T) {
	received := make(chan []byte, 1)
	srv, closeSrv := newTestServer(t, func(ctx context.Context, conn *websocket.Conn, r *http.Request) {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return
		}
		received <- msg
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hi","confidence":0.8}]}}`))
		time.Sleep(50 * time.Millisecond)
		conn.Close(websocket.StatusNormalClosure, "")
	})
	defer closeSrv()

	c := session.New(session.Config{
		Endpoint:         wsURL(srv.URL),
		APIKey:           "key",
		KeepAliveEnabled: disabledKeepAlive(),
	})
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()

	require.NoError(t, c.SendAudio([]byte{1, 2, 3, 4}))

	select {
	case msg := <-received:
		require.Equal(t, []byte{1, 2, 3, 4}, msg)
	case <-time.After(time.Second):
		t.Fatal("server never received audio")
	}

	select {
	case tr := <-c.Finals():
		require.Equal(t, "hi", tr.Text)
		require.True(t, tr.IsFinal)
	case <-time.After(time.Second):
		t.Fatal("expected a final transcript")
	}
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	srv, closeSrv := newTestServer(t, func(ctx context.Context, conn *websocket.Conn, r *http.Request) {
		<-ctx.Done()
	})
	defer closeSrv()

	c := session.New(session.Config{
		Endpoint:         wsURL(srv.URL),
		APIKey:           "key",
		KeepAliveEnabled: disabledKeepAlive(),
	})
	require.NoError(t, c.Open(context.Background()))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

// Mirrors spec §8 scenario 4: a server {"type":"Error","message":"rate_limit"}
// must emit onError(kind=RateLimited), enter Errored, and reconnect with the
// configured backoff.
func TestClient_ServerErrorEntersErroredAndReconnects(t *testing.T) {
	var connCount atomic.Int32
	srv, closeSrv := newTestServer(t, func(ctx context.Context, conn *websocket.Conn, r *http.Request) {
		if connCount.Add(1) == 1 {
			_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Error","message":"rate_limit"}`))
		}
		<-ctx.Done()
	})
	defer closeSrv()

	c := session.New(session.Config{
		Endpoint:             wsURL(srv.URL),
		APIKey:               "key",
		KeepAliveEnabled:     disabledKeepAlive(),
		MaxReconnectAttempts: 3,
		BaseBackoff:          10 * time.Millisecond,
	})
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()

	var errEvent captiontypes.SessionEvent
	deadline := time.After(time.Second)
	for errEvent.Kind == "" {
		select {
		case ev := <-c.Events():
			if ev.Kind != "" {
				errEvent = ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for an error event")
		}
	}
	require.Equal(t, "RateLimited", errEvent.Kind)
	require.Equal(t, "rate_limit", errEvent.Message)

	require.Eventually(t, func() bool {
		return c.State() == captiontypes.StateConnected
	}, time.Second, 5*time.Millisecond, "client should reconnect after the error")
}

func TestClient_AuthRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := session.New(session.Config{
		Endpoint: wsURL(srv.URL),
		APIKey:   "bad-key",
	})
	err := c.Open(context.Background())
	require.Error(t, err)
}
