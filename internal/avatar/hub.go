package avatar

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/avatar-gateway/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	// ErrNoViewer is returned by Render when no viewer is connected
	ErrNoViewer = errors.New("avatar: no viewer connected")

	// ErrViewerGone is returned by Render when the viewer disconnects mid-utterance
	ErrViewerGone = errors.New("avatar: viewer disconnected during playback")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The viewer is served from a different origin in development
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
}

// ViewerSession holds the state of a single connected viewer
type ViewerSession struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	logger zerolog.Logger

	writeMu sync.Mutex
	done    chan struct{}
}

// ID returns the viewer's session id
func (v *ViewerSession) ID() string {
	return v.id
}

func (v *ViewerSession) send(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	if err := v.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return v.conn.WriteMessage(websocket.TextMessage, data)
}

func (v *ViewerSession) ping() error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	return v.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// pendingRender is a speak message waiting for its speak_done
type pendingRender struct {
	viewerID string
	result   chan error
}

// Hub tracks connected viewers. The most recently connected viewer renders speech;
// lifecycle events go to all of them.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	viewers map[string]*ViewerSession
	order   []string
	pending map[string]*pendingRender
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		logger:  observability.ForComponent("avatar_hub"),
		viewers: make(map[string]*ViewerSession),
		pending: make(map[string]*pendingRender),
	}
}

// HandleViewerWS is the entry point for viewer WebSocket connections
func (h *Hub) HandleViewerWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote an HTTP error
			h.logger.Warn().Err(err).Msg("Failed to upgrade viewer connection")
			return
		}
		defer conn.Close()

		id := uuid.New().String()
		viewer := &ViewerSession{
			id:     id,
			conn:   conn,
			hub:    h,
			logger: h.logger.With().Str("viewer_id", id).Logger(),
			done:   make(chan struct{}),
		}

		h.register(viewer)
		defer h.unregister(viewer)

		if err := viewer.send(&Message{Event: EventConnected, ViewerID: viewer.id}); err != nil {
			viewer.logger.Warn().Err(err).Msg("Failed to greet viewer")
			return
		}

		go viewer.keepAlive()
		viewer.readMessages()
	}
}

// Connected returns the number of connected viewers
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Broadcast sends msg to every viewer. Send failures are logged, never returned.
func (h *Hub) Broadcast(msg *Message) {
	h.mu.RLock()
	viewers := make([]*ViewerSession, 0, len(h.viewers))
	for _, v := range h.viewers {
		viewers = append(viewers, v)
	}
	h.mu.RUnlock()

	for _, v := range viewers {
		if err := v.send(msg); err != nil {
			v.logger.Warn().Err(err).Str("event", msg.Event).Msg("Failed to send event to viewer")
		}
	}
}

// PublishUtteranceStart tells viewers an utterance's turn arrived
func (h *Hub) PublishUtteranceStart(id, text, expression string) {
	h.Broadcast(&Message{
		Event:     EventUtteranceStart,
		ID:        id,
		Utterance: &UtterancePayload{UtteranceID: id, Text: text, Expression: expression},
	})
}

// PublishUtteranceComplete tells viewers an utterance is finished
func (h *Hub) PublishUtteranceComplete(id, text, expression string) {
	h.Broadcast(&Message{
		Event:     EventUtteranceComplete,
		ID:        id,
		Utterance: &UtterancePayload{UtteranceID: id, Text: text, Expression: expression},
	})
}

// Close disconnects every viewer. Renders still waiting fail with ErrViewerGone.
func (h *Hub) Close() {
	h.mu.RLock()
	viewers := make([]*ViewerSession, 0, len(h.viewers))
	for _, v := range h.viewers {
		viewers = append(viewers, v)
	}
	h.mu.RUnlock()

	for _, v := range viewers {
		v.writeMu.Lock()
		_ = v.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		v.writeMu.Unlock()
		v.conn.Close()
	}
}

// active returns the most recently connected viewer, or nil
func (h *Hub) active() *ViewerSession {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.order) == 0 {
		return nil
	}
	return h.viewers[h.order[len(h.order)-1]]
}

func (h *Hub) register(v *ViewerSession) {
	h.mu.Lock()
	h.viewers[v.id] = v
	h.order = append(h.order, v.id)
	n := len(h.viewers)
	h.mu.Unlock()

	observability.SetConnectedViewers(n)
	v.logger.Info().Int("viewers", n).Msg("Viewer connected")
}

func (h *Hub) unregister(v *ViewerSession) {
	h.mu.Lock()
	delete(h.viewers, v.id)
	for i, id := range h.order {
		if id == v.id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	// Renders addressed to this viewer will never be acknowledged
	for id, p := range h.pending {
		if p.viewerID == v.id {
			p.result <- ErrViewerGone
			delete(h.pending, id)
		}
	}
	n := len(h.viewers)
	h.mu.Unlock()

	close(v.done)
	observability.SetConnectedViewers(n)
	v.logger.Info().Int("viewers", n).Msg("Viewer disconnected")
}

// expect registers a render waiting for speak_done with id
func (h *Hub) expect(id, viewerID string) <-chan error {
	result := make(chan error, 1)
	h.mu.Lock()
	h.pending[id] = &pendingRender{viewerID: viewerID, result: result}
	h.mu.Unlock()
	return result
}

// forget drops a render nobody waits for any more
func (h *Hub) forget(id string) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

// resolve completes the render waiting for id
func (h *Hub) resolve(id string, err error) bool {
	h.mu.Lock()
	p, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	h.mu.Unlock()

	if ok {
		p.result <- err
	}
	return ok
}

// readMessages handles all incoming messages from one viewer until it disconnects
func (v *ViewerSession) readMessages() {
	v.conn.SetReadLimit(64 * 1024)
	_ = v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				v.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			v.logger.Error().Err(err).Msg("Failed to parse viewer message")
			continue
		}

		switch msg.Event {
		case EventSpeakDone:
			var renderErr error
			if msg.Error != "" {
				renderErr = &ViewerError{Message: msg.Error}
			}
			if !v.hub.resolve(msg.ID, renderErr) {
				v.logger.Debug().Str("id", msg.ID).Msg("speak_done for unknown render")
			}

		default:
			v.logger.Debug().Str("event", msg.Event).Msg("Ignoring viewer event")
		}
	}
}

func (v *ViewerSession) keepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := v.ping(); err != nil {
				v.logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		case <-v.done:
			return
		}
	}
}

// ViewerError is a playback failure reported by the viewer
type ViewerError struct {
	Message string
}

func (e *ViewerError) Error() string {
	return "avatar: viewer reported: " + e.Message
}
