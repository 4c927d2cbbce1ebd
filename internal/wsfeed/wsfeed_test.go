package wsfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/stats"
)

func startTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	handler := NewHandler(hub, zap.NewNop())
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialObserver(t *testing.T, srv *httptest.Server, jobID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/observe?job_id=" + jobID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial(%s): %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandlerRequiresJobID(t *testing.T) {
	_, srv := startTestServer(t)
	resp, err := http.Get(srv.URL + "/observe")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHubDeliversPublishedSampleToSubscribedObserver(t *testing.T) {
	hub, srv := startTestServer(t)
	conn := dialObserver(t, srv, "J1")

	waitForConnected(t, hub, 1)

	hub.Publish([]stats.IntervalSample{{
		JobID: "J1", DisplayName: "throughput",
		Owner: stats.Owner{ClientID: "c0", ThreadID: 0},
		Interval: 2, Value: 5, Count: 3,
	}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var update IntervalUpdate
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if update.JobID != "J1" {
		t.Errorf("IntervalUpdate.JobID = %q, want J1", update.JobID)
	}
	if update.DisplayName != "throughput" {
		t.Errorf("IntervalUpdate.DisplayName = %q, want throughput", update.DisplayName)
	}
}

func TestHubDoesNotDeliverToDifferentTopic(t *testing.T) {
	hub, srv := startTestServer(t)
	conn := dialObserver(t, srv, "J1")
	waitForConnected(t, hub, 1)

	hub.Publish([]stats.IntervalSample{{JobID: "J2", DisplayName: "throughput"}})

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected a read timeout; observer subscribed to J1 should not receive J2's sample")
	}
}

func TestHubConnectedCountTracksDisconnect(t *testing.T) {
	hub, srv := startTestServer(t)
	conn := dialObserver(t, srv, "J1")
	waitForConnected(t, hub, 1)

	conn.Close()
	waitForConnected(t, hub, 0)
}

func waitForConnected(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.ConnectedCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("ConnectedCount never reached %d, stuck at %d", want, hub.ConnectedCount())
}
