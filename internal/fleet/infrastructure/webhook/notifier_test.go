package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-dashboard/internal/fleet/application"
)

func TestNotifierForwardsErrorToasts(t *testing.T) {
	received := make(chan payload, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p
	}))
	defer server.Close()

	n, err := NewNotifier(server.URL)
	require.NoError(t, err)

	n.Notify(context.Background(), application.Notification{Kind: application.KindRefresh, Source: "trailers"})
	n.Notify(context.Background(), application.Notification{Kind: application.KindToast, Level: application.LevelSuccess})
	n.Notify(context.Background(), application.Notification{
		Kind:    application.KindToast,
		Level:   application.LevelError,
		Message: "Failed to rename job site",
		Source:  "job_sites",
	})

	select {
	case p := <-received:
		assert.Equal(t, "text", p.MsgType)
		assert.Equal(t, "[Fleet Dashboard]\nSource: job_sites\nLevel: error\nMessage: Failed to rename job site", p.Text.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
	select {
	case p := <-received:
		t.Fatalf("unexpected delivery: %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendReportsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n, err := NewNotifier(server.URL, WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Error(t, n.Send(context.Background(), application.Notification{Message: "x"}))

	_, err = NewNotifier(" ")
	assert.Error(t, err)
}
