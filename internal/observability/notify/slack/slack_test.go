package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	"github.com/driptech/admin-session/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestFormatMessageIncludesFields(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL: "https://hooks.slack.com/services/test",
		Channel:    "#admin-audit",
		Username:   "bot",
	})
	require.NoError(t, err)

	msg := client.formatMessage(notify.SecurityNotice{
		Kind:       domainauth.NotifyAccessDenied,
		Level:      domainauth.LevelError,
		Title:      "Access Denied",
		Message:    "You need <admin> privileges",
		OccurredAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Metadata:   map[string]string{"instance": "api-1", "env": "prod"},
	})

	assert.Equal(t, "bot", msg["username"])
	assert.Equal(t, "#admin-audit", msg["channel"])
	text, ok := msg["text"].(string)
	require.True(t, ok)
	for _, want := range []string{
		":red_circle:", "`access_denied`", "Title: Access Denied", "&lt;admin&gt;",
		"Timestamp: 2026-03-02T09:00:00Z",
	} {
		assert.Contains(t, text, want)
	}
	// Metadata is sorted by key.
	assert.Less(t, strings.Index(text, "env: prod"), strings.Index(text, "instance: api-1"))
}

func TestFormatMessageDefaultsUsername(t *testing.T) {
	client, err := NewClient(Config{WebhookURL: "https://hooks.slack.com/services/test"})
	require.NoError(t, err)
	msg := client.formatMessage(notify.SecurityNotice{Kind: domainauth.NotifySessionExpired})
	assert.Equal(t, "driptech-admin", msg["username"])
	_, hasChannel := msg["channel"]
	assert.False(t, hasChannel)
}

func TestSendSecurityNoticeRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if calls.Add(1) == 1 {
			http.Error(w, "rate_limited", http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(Config{WebhookURL: srv.URL, RetryLimit: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, client.SendSecurityNotice(context.Background(), notify.SecurityNotice{Kind: domainauth.NotifyAccessDenied}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendSecurityNoticeReportsLastError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	client, err := NewClient(Config{WebhookURL: srv.URL, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	err = client.SendSecurityNotice(context.Background(), notify.SecurityNotice{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "invalid_token")
}
