package handlers

import (
	"context"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/cot-reflect/backend/internal/reflection"
	"github.com/cot-reflect/backend/pkg/logger"
)

// jsonConn is the part of *websocket.Conn the handler uses.
type jsonConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
}

type wsMessage struct {
	Type string `json:"type"`
	ReflectRequest
}

type wsEvent struct {
	Type       string              `json:"type"`
	Stage      reflection.Stage    `json:"stage,omitempty"`
	Content    string              `json:"content,omitempty"`
	Outcome    *reflection.Outcome `json:"outcome,omitempty"`
	SnapshotID int64               `json:"snapshot_id,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// WebSocketHandler runs reflections requested over a websocket and streams
// each stage as it completes.
type WebSocketHandler struct {
	reflect *ReflectHandler
}

func NewWebSocketHandler(reflect *ReflectHandler) *WebSocketHandler {
	return &WebSocketHandler{reflect: reflect}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	h.serve(context.Background(), c)
}

func (h *WebSocketHandler) serve(ctx context.Context, c jsonConn) {
	var mu sync.Mutex
	send := func(ev wsEvent) error {
		mu.Lock()
		defer mu.Unlock()
		return c.WriteJSON(ev)
	}

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			return
		}

		if msg.Type != "reflect" {
			if err := send(wsEvent{Type: "error", Error: "unsupported message type " + msg.Type}); err != nil {
				return
			}
			continue
		}

		if err := send(wsEvent{Type: "status", Content: "Running reflection..."}); err != nil {
			return
		}

		observer := reflection.WithObserver(func(stage reflection.Stage, text string) {
			if err := send(wsEvent{Type: "stage", Stage: stage, Content: text}); err != nil {
				logger.Warn("Failed to send stage event", logger.Stage(stage), zap.Error(err))
			}
		})

		resp, err := h.reflect.run(ctx, msg.ReflectRequest, observer)
		if err != nil {
			logger.Warn("WebSocket reflection failed", zap.Error(err))
			if err := send(wsEvent{Type: "error", Error: publicMessage(err)}); err != nil {
				return
			}
			continue
		}

		if err := send(wsEvent{Type: "complete", Outcome: resp.Outcome, SnapshotID: resp.SnapshotID}); err != nil {
			return
		}
	}
}
