package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func TestStreamBroadcastsBatchSummaries(t *testing.T) {
	server, _ := newTestServer(t, ServerConfig{})
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/v1/stream?token=" + testServiceKey
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(5 * time.Second)
	for server.hub.size() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	req, err := http.NewRequest(http.MethodPost, httpServer.URL+"/webhooks/dynamics-leads", bytes.NewReader([]byte(`{"data":{"leadid":"L1"}}`)))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("x-webhook-secret", testWebhookSecret)
	resp, err := httpServer.Client().Do(req)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var event Event
	if err := wsjson.Read(ctx, conn, &event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != "batch" || event.Batch == nil || event.Batch.Succeeded != 1 {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestStreamRequiresServiceKey(t *testing.T) {
	server, _ := newTestServer(t, ServerConfig{})
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/v1/stream"})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	resp = doRequest(t, server, request{method: http.MethodGet, path: "/v1/stream?token=wrong"})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", resp.Code)
	}
}

func TestHubDropsEventsForSlowSubscribers(t *testing.T) {
	var sizes []int
	h := newHub(func(n int) { sizes = append(sizes, n) })
	events, unsubscribe := h.subscribe()
	for i := 0; i < streamBuffer*2; i++ {
		h.publish(Event{Type: "batch"})
	}
	if got := len(events); got != streamBuffer {
		t.Fatalf("expected buffered events to cap at %d, got %d", streamBuffer, got)
	}
	unsubscribe()
	if h.size() != 0 {
		t.Fatalf("expected no subscribers after unsubscribe")
	}
	if len(sizes) != 2 || sizes[0] != 1 || sizes[1] != 0 {
		t.Fatalf("unexpected subscriber counts: %v", sizes)
	}
}
