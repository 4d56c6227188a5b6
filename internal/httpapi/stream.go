package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/relaycrm/internal/adsync"
	"github.com/agentworkforce/relaycrm/internal/crm"
)

const (
	streamBuffer       = 32
	streamWriteTimeout = 5 * time.Second
)

// Event is one message on the live stream.
type Event struct {
	Type  string           `json:"type"`
	At    time.Time        `json:"at"`
	Batch *crm.BatchResult `json:"batch,omitempty"`
	Sync  *adsync.Report   `json:"sync,omitempty"`
}

// hub fans events out to stream subscribers. Slow subscribers drop events
// rather than block ingestion.
type hub struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	onChange    func(n int)
}

func newHub(onChange func(n int)) *hub {
	return &hub{subscribers: map[chan Event]struct{}{}, onChange: onChange}
}

func (h *hub) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, streamBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.changedLocked()
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		h.changedLocked()
		h.mu.Unlock()
	}
}

func (h *hub) changedLocked() {
	if h.onChange != nil {
		h.onChange(len(h.subscribers))
	}
}

func (h *hub) publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if authErr := authorizeServiceKey(r.Header.Get("Authorization"), r.URL.Query().Get("token"), s.cfg.ServiceKey); authErr != nil {
		writeError(w, authErr.status, authErr.message)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("stream: upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	events, unsubscribe := s.hub.subscribe()
	defer unsubscribe()
	s.logger.Debug("stream: subscriber connected", zap.Int("subscribers", s.hub.size()))

	// The client never sends; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-events:
			writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				s.logger.Debug("stream: write failed", zap.Error(err))
				return
			}
		}
	}
}
