package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/broadcast"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/intervention"
	"github.com/shubham-kr2002/AI-JOB-AGENT/pkg/telemetry"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The gateway sits behind the frontend proxy; origin policy lives there.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WS upgrades HTTP connections and bridges them onto the event broadcaster.
type WS struct {
	bc            *broadcast.Broadcaster
	interventions *intervention.Manager
	logger        *slog.Logger
}

// NewWS creates the websocket handler.
func NewWS(bc *broadcast.Broadcaster, interventions *intervention.Manager, logger *slog.Logger) *WS {
	return &WS{bc: bc, interventions: interventions, logger: logger}
}

// clientMessage is the envelope clients send over the socket.
type clientMessage struct {
	Type           string         `json:"type"`
	TaskID         string         `json:"task_id,omitempty"`
	InterventionID string         `json:"intervention_id,omitempty"`
	Response       map[string]any `json:"response,omitempty"`
}

// wsClient is one connected socket. It implements broadcast.Subscriber: Send
// enqueues without blocking and reports failure when the outbound buffer is
// full, which makes the broadcaster drop the subscription.
type wsClient struct {
	conn   *websocket.Conn
	out    chan domain.Event
	closed chan struct{}
	once   sync.Once

	mu    sync.Mutex
	tasks map[string]struct{}
}

var errSlowClient = errors.New("websocket send buffer full")

func (c *wsClient) Send(event domain.Event) error {
	select {
	case <-c.closed:
		return errors.New("websocket closed")
	case c.out <- event:
		return nil
	default:
		return errSlowClient
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// Serve handles GET /ws.
func (h *WS) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &wsClient{
		conn:   conn,
		out:    make(chan domain.Event, wsSendBuffer),
		closed: make(chan struct{}),
		tasks:  make(map[string]struct{}),
	}

	telemetry.GatewayWSConnections.Inc()
	defer telemetry.GatewayWSConnections.Dec()

	go h.writeLoop(client)
	h.readLoop(r, client)
}

func (h *WS) writeLoop(c *wsClient) {
	for {
		select {
		case <-c.closed:
			return
		case event := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(event); err != nil {
				c.close()
				return
			}
		}
	}
}

func (h *WS) readLoop(r *http.Request, c *wsClient) {
	defer func() {
		c.mu.Lock()
		for taskID := range c.tasks {
			h.bc.Unsubscribe(taskID, c)
		}
		c.mu.Unlock()
		c.close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", slog.String("error", err.Error()))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = c.Send(domain.Event{Type: domain.EventError, Message: "invalid message"})
			continue
		}

		h.dispatch(r, c, msg)
	}
}

func (h *WS) dispatch(r *http.Request, c *wsClient, msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		if msg.TaskID == "" {
			_ = c.Send(domain.Event{Type: domain.EventError, Message: "task_id is required"})
			return
		}
		c.mu.Lock()
		c.tasks[msg.TaskID] = struct{}{}
		c.mu.Unlock()
		h.bc.Subscribe(msg.TaskID, c)

	case "unsubscribe":
		c.mu.Lock()
		delete(c.tasks, msg.TaskID)
		c.mu.Unlock()
		h.bc.Unsubscribe(msg.TaskID, c)

	case "ping":
		_ = c.Send(domain.Event{Type: domain.EventPong, Timestamp: time.Now().UTC()})

	case "intervention_response":
		if msg.InterventionID == "" {
			_ = c.Send(domain.Event{Type: domain.EventError, Message: "intervention_id is required"})
			return
		}
		req, err := h.interventions.Complete(r.Context(), msg.InterventionID, msg.Response)
		if err != nil {
			var notFound *domain.InterventionNotFoundError
			reason := "intervention request failed"
			if errors.As(err, &notFound) {
				reason = "intervention not found"
			}
			_ = c.Send(domain.Event{Type: domain.EventError, Message: reason})
			return
		}
		_ = c.Send(domain.Event{
			Type:      domain.EventInterventionResponse,
			TaskID:    req.TaskID,
			Timestamp: time.Now().UTC(),
			Data:      map[string]any{"intervention_id": req.ID, "status": string(req.Status)},
		})

	default:
		_ = c.Send(domain.Event{Type: domain.EventError, Message: "unknown message type"})
	}
}
