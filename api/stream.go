package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasks-api/domain"
)

const (
	streamBuffer    = 16
	streamKeepAlive = 25 * time.Second
)

// EventBroker fans task events out to connected stream clients. Slow
// clients drop events rather than block the publisher.
type EventBroker struct {
	mu     sync.Mutex
	subs   map[chan domain.TaskEvent]struct{}
	closed bool
}

func NewEventBroker() *EventBroker {
	return &EventBroker{subs: make(map[chan domain.TaskEvent]struct{})}
}

func (b *EventBroker) subscribe() chan domain.TaskEvent {
	ch := make(chan domain.TaskEvent, streamBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

func (b *EventBroker) unsubscribe(ch chan domain.TaskEvent) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Broadcast hands ev to every subscriber with room in its buffer.
func (b *EventBroker) Broadcast(ev domain.TaskEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends every open stream. Later subscribers see a closed channel.
func (b *EventBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// RegisterStream exposes the task event stream. Browsers cannot set headers
// on an EventSource, so the bearer token may also arrive as ?token=.
func RegisterStream(e *echo.Echo, broker *EventBroker, auth Authenticator, logger *log.Logger) {
	e.GET("/api/tasks/events", streamEvents(broker, auth, logger))
}

func streamEvents(broker *EventBroker, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if token := c.QueryParam("token"); authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		userID, err := auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, messageResponse{Message: err.Error()})
		}

		res := c.Response()
		flusher, ok := res.Writer.(http.Flusher)
		if !ok {
			return c.JSON(http.StatusInternalServerError, messageResponse{Message: "stream unsupported"})
		}
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		res.WriteHeader(http.StatusOK)
		flusher.Flush()

		ch := broker.subscribe()
		defer broker.unsubscribe(ch)
		entry := logger.WithFields(log.Fields{"user_id": userID, "request_id": requestID(c)})
		entry.Info("task event stream opened")
		defer entry.Info("task event stream closed")

		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()
		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-keepAlive.C:
				if _, err := res.Write([]byte(": ping\n\n")); err != nil {
					return nil
				}
			case ev, ok := <-ch:
				if !ok {
					return nil
				}
				data, err := sonic.Marshal(ev)
				if err != nil {
					entry.WithError(err).Warn("encode task event")
					continue
				}
				if err := writeEvent(res, ev.Type, data); err != nil {
					return nil
				}
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, data []byte) error {
	buf := make([]byte, 0, len(name)+len(data)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, name...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	_, err := w.Write(buf)
	return err
}
