package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func TestWebhookPostsEvent(t *testing.T) {
	received := make(chan payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := NewWebhook(srv.URL, mockLogger{})
	hook.Notify(context.Background(), "entry_fill", map[string]interface{}{
		"pair": "ETH/USDT", "tradeID": float64(7),
	})

	select {
	case p := <-received:
		assert.Equal(t, "entry_fill", p.Event)
		assert.Equal(t, "ETH/USDT", p.Fields["pair"])
		assert.Equal(t, float64(7), p.Fields["tradeID"])
		assert.WithinDuration(t, time.Now(), p.Timestamp, time.Minute)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was never delivered")
	}
}

func TestWebhookDoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	hook := NewWebhook(srv.URL, mockLogger{})
	done := make(chan struct{})
	go func() {
		hook.Notify(context.Background(), "exit_fill", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a slow endpoint")
	}
}
