package studio

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mostlygeek/genstudio/backend"
	"github.com/mostlygeek/genstudio/event"
	"github.com/mostlygeek/genstudio/studio/config"
)

type messageType string

const (
	msgTypeJobUpdate     messageType = "jobUpdate"
	msgTypeLogData       messageType = "logData"
	msgTypeConfigChanged messageType = "configChanged"
)

type messageEnvelope struct {
	Type messageType `json:"type"`
	Data string      `json:"data"`
}

func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Content-Type-Options", "nosniff")
	// prevent nginx from buffering SSE
	c.Header("X-Accel-Buffering", "no")
}

// apiSendEvents streams job updates, config reloads and log data for as
// long as the client stays connected.
func (pm *Manager) apiSendEvents(c *gin.Context) {
	setSSEHeaders(c)

	sendBuffer := make(chan messageEnvelope, 25)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	send := func(msgType messageType, v any) {
		var data []byte
		switch t := v.(type) {
		case []byte:
			data = t
		default:
			var err error
			if data, err = json.Marshal(v); err != nil {
				return
			}
		}
		select {
		case sendBuffer <- messageEnvelope{Type: msgType, Data: string(data)}:
		case <-ctx.Done():
		default:
		}
	}

	defer event.On(func(e backend.JobUpdatedEvent) {
		send(msgTypeJobUpdate, e.Handle)
	})()
	defer event.On(func(e config.ConfigFileChangedEvent) {
		send(msgTypeConfigChanged, gin.H{"path": e.Path})
	})()
	defer pm.logger.OnLogData(func(data []byte) {
		send(msgTypeLogData, data)
	})()

	send(msgTypeLogData, pm.logger.GetHistory())

	for {
		select {
		case <-ctx.Done():
			return
		case <-pm.shutdownCtx.Done():
			return
		case msg := <-sendBuffer:
			c.SSEvent("message", msg)
			c.Writer.Flush()
		}
	}
}

// apiStreamStatus polls one job and pushes every handle as a "status"
// event, ending after the terminal state. There is no timeout besides the
// client closing the connection.
func (pm *Manager) apiStreamStatus(c *gin.Context) {
	cfg, err := pm.resolver.Resolve(c.Request.Context(), c.Param("slug"))
	if err != nil {
		pm.sendError(c, err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		select {
		case <-pm.shutdownCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	setSSEHeaders(c)
	c.Status(http.StatusOK)

	_, err = pm.dispatcher.Watch(ctx, cfg, &backend.JobHandle{ID: c.Param("id")}, pm.watchInterval, func(h *backend.JobHandle) {
		c.SSEvent("status", h)
		c.Writer.Flush()
	})
	if err != nil && ctx.Err() == nil {
		c.SSEvent("error", gin.H{"error": err.Error()})
		c.Writer.Flush()
	}
}

// forwardJobUpdates records job updates and relays them to websocket
// clients subscribed to the "jobs" channel.
func (pm *Manager) forwardJobUpdates() {
	cancel := event.On(func(e backend.JobUpdatedEvent) {
		pm.jobs.Observe(e.Handle)
		pm.wsHub.Broadcast(WSMessage{Channel: channelJobs, Action: actionUpdate, Data: e.Handle})
	})
	go func() {
		<-pm.shutdownCtx.Done()
		cancel()
	}()
}
