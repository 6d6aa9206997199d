package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name string
	err  error
	sent []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.sent = append(f.sent, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventRebuildFailed, " "}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), EventRebuildCompleted, "done", ""))
	require.NoError(t, n.Notify(context.Background(), EventRebuildFailed, "failed", ""))
	assert.Equal(t, []string{"failed"}, s.sent)
	assert.False(t, n.Enabled(EventGroupBlocked))
}

func TestNotifier_JoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &fakeSender{name: "ok"}
	bad := &fakeSender{name: "bad", err: boom}
	n := NewNotifier([]Sender{bad, ok}, nil, quietLogger())

	err := n.Notify(context.Background(), EventGroupBlocked, "blocked", "SIM101/MNQ")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, []string{"blocked"}, ok.sent)
}

func TestNotifier_NilAndEmpty(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled(EventRebuildFailed))
	assert.NoError(t, NewNotifier(nil, nil, quietLogger()).Notify(context.Background(), EventRebuildFailed, "x", "y"))
}

func TestDiscordSender_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Rebuild failed", "2 groups"))
	assert.Equal(t, "**Rebuild failed**\n2 groups", got["content"])
}

func TestTelegramSender_Send(t *testing.T) {
	var path string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Blocked", "SIM101/MNQ"))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Blocked*\nSIM101/MNQ", got["text"])
}

func TestSender_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")
}
