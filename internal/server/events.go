package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	mng "github.com/loykin/agentsync/internal/manager"
	"github.com/loykin/agentsync/internal/notify"
	"github.com/loykin/agentsync/internal/status"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
)

// eventHub streams status records to websocket clients.
type eventHub struct {
	mgr      *mng.Manager
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func newEventHub(mgr *mng.Manager, logger *slog.Logger) *eventHub {
	return &eventHub{
		mgr: mgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true // non-browser clients don't send Origin
				}
				return strings.Contains(origin, r.Host)
			},
		},
		logger: logger,
	}
}

func (h *eventHub) handle(c *gin.Context) {
	agent := c.Query("agent")
	if agent != "" {
		if err := status.ValidateAgent(agent); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch := make(chan status.Record, eventBuffer)
	fn := func(rec status.Record) {
		select {
		case ch <- rec:
		default:
			h.logger.Warn("dropping event for slow websocket client", "agent", rec.Agent, "remote", conn.RemoteAddr())
		}
	}
	var sub *notify.Subscription
	if agent == "" {
		sub = h.mgr.SubscribeAll(fn)
	} else {
		sub = h.mgr.Subscribe(agent, fn)
	}
	defer sub.Cancel()
	h.logger.Debug("websocket client connected", "remote", conn.RemoteAddr(), "agent", agent)

	// read pump: detects client disconnect
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			h.logger.Debug("websocket client disconnected", "remote", conn.RemoteAddr())
			return
		case rec := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(rec); err != nil {
				h.logger.Debug("failed to write to websocket client", "error", err)
				return
			}
		}
	}
}
