package handlers

import (
	"log"
	"sync"
	"time"

	"autopilot/internal/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
)

// draftStreamMessage is sent to review clients
type draftStreamMessage struct {
	Type  string               `json:"type"`
	Event *services.DraftEvent `json:"event,omitempty"`
}

// safeConn wraps a websocket.Conn with a mutex for thread-safe writes.
// gorilla/websocket does not support concurrent writers.
type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (sc *safeConn) writeJSON(v interface{}) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return sc.conn.WriteJSON(v)
}

func (sc *safeConn) ping() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
}

// DraftStreamHandler streams the user's draft events over a websocket
type DraftStreamHandler struct {
	events  *services.PubSubService
	metrics *services.Metrics
}

// NewDraftStreamHandler creates a new draft stream handler
func NewDraftStreamHandler(events *services.PubSubService, metrics *services.Metrics) *DraftStreamHandler {
	return &DraftStreamHandler{events: events, metrics: metrics}
}

// Handle serves one websocket connection. Clients only listen; anything they
// send is discarded.
func (h *DraftStreamHandler) Handle(c *websocket.Conn) {
	userID, _ := c.Locals("user_id").(string)
	connID := uuid.New().String()
	sc := &safeConn{conn: c}

	h.metrics.RecordWebSocketConnect()
	defer h.metrics.RecordWebSocketDisconnect()
	log.Printf("🔌 [DRAFT-WS] New connection: connID=%s, userID=%s", connID, userID)

	events, unsubscribe := h.events.Subscribe(userID)
	defer unsubscribe()

	c.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	if err := sc.writeJSON(draftStreamMessage{Type: "connected"}); err != nil {
		log.Printf("❌ [DRAFT-WS] Failed to send connected message: %v", err)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				log.Printf("🔌 [DRAFT-WS] Connection closed for %s: %v", connID, err)
				return
			}
			c.SetReadDeadline(time.Now().Add(wsReadTimeout))
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sc.writeJSON(draftStreamMessage{Type: ev.Type, Event: &ev}); err != nil {
				log.Printf("⚠️ [DRAFT-WS] Write failed for %s: %v", connID, err)
				return
			}
		case <-ticker.C:
			if err := sc.ping(); err != nil {
				log.Printf("🏓 [DRAFT-WS] Ping failed for %s: %v", connID, err)
				return
			}
		}
	}
}
