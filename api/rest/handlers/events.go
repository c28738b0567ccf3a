package handlers

import (
	"net/http"

	"finetune-orchestrator/core/manager"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	// The server only binds to loopback for the local UI.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// EventHandler streams job change notifications to observers
type EventHandler struct {
	notifier *manager.Notifier
}

// NewEventHandler creates a new event stream handler
func NewEventHandler(notifier *manager.Notifier) *EventHandler {
	return &EventHandler{notifier: notifier}
}

// Stream handles GET /v1/events, upgrading to a websocket that receives
// every job event as a JSON message.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("Failed to upgrade event stream: %v", err)
		return
	}

	events := h.notifier.Subscribe()
	defer h.notifier.Unsubscribe(events)

	// Reader: only used to detect the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer conn.Close()
	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
