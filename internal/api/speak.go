// Package api exposes the HTTP surface for queueing speech on the avatar.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/avatar-gateway/internal/observability"
	"github.com/lexiqai/avatar-gateway/internal/speech"
)

const maxRequestBytes = 1 << 20

// Speaker queues utterances. Implemented by *speech.Scheduler.
type Speaker interface {
	Speak(u speech.Utterance, hooks speech.Hooks) (string, error)
}

// Publisher announces utterance lifecycle events to viewers. Implemented by *avatar.Hub.
type Publisher interface {
	PublishUtteranceStart(id, text, expression string)
	PublishUtteranceComplete(id, text, expression string)
}

// SpeakRequest is the body of POST /speak
type SpeakRequest struct {
	Text       string `json:"text"`
	Expression string `json:"expression,omitempty"`
	Language   string `json:"language,omitempty"`
}

// SpeakResponse is returned once an utterance is queued
type SpeakResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SpeakHandler accepts utterances over HTTP and hands them to the scheduler
type SpeakHandler struct {
	speaker   Speaker
	publisher Publisher
}

// NewSpeakHandler creates a handler; publisher may be nil
func NewSpeakHandler(speaker Speaker, publisher Publisher) *SpeakHandler {
	return &SpeakHandler{speaker: speaker, publisher: publisher}
}

// ServeHTTP handles POST /speak with a JSON body and GET /speak?text=...
func (h *SpeakHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithCorrelationID(correlationID(r)).
		With().
		Str("component", "api").
		Logger()

	var req SpeakRequest
	switch r.Method {
	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	case http.MethodGet:
		q := r.URL.Query()
		req = SpeakRequest{Text: q.Get("text"), Expression: q.Get("expression"), Language: q.Get("language")}
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	utterance, err := req.toUtterance()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.speak(utterance, logger)
	if err != nil {
		if errors.Is(err, speech.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "shutting down")
			return
		}
		logger.Error().Err(err).Msg("Failed to queue utterance")
		writeError(w, http.StatusInternalServerError, "failed to queue utterance")
		return
	}

	logger.Info().
		Str("utterance_id", id).
		Str("expression", string(utterance.Expression)).
		Msg("Utterance accepted")
	writeJSON(w, http.StatusAccepted, SpeakResponse{ID: id, Status: "queued"})
}

func (req SpeakRequest) toUtterance() (speech.Utterance, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return speech.Utterance{}, errors.New("text is required")
	}
	expression, err := speech.ParseExpression(req.Expression)
	if err != nil {
		return speech.Utterance{}, err
	}
	return speech.Utterance{
		Text:       text,
		Expression: expression,
		Language:   strings.TrimSpace(req.Language),
	}, nil
}

// speak queues u with hooks that log and publish its lifecycle
func (h *SpeakHandler) speak(u speech.Utterance, logger zerolog.Logger) (string, error) {
	// Hooks may fire before Speak returns; they wait until the id is known
	var id string
	ready := make(chan struct{})

	hooks := speech.Hooks{
		OnStart: func() {
			<-ready
			logger.Debug().Str("utterance_id", id).Msg("Utterance started")
			if h.publisher != nil {
				h.publisher.PublishUtteranceStart(id, u.Text, string(u.Expression))
			}
		},
		OnComplete: func() {
			<-ready
			logger.Debug().Str("utterance_id", id).Msg("Utterance complete")
			if h.publisher != nil {
				h.publisher.PublishUtteranceComplete(id, u.Text, string(u.Expression))
			}
		},
	}

	var err error
	id, err = h.speaker.Speak(u, hooks)
	close(ready)
	return id, err
}

func correlationID(r *http.Request) string {
	if id := r.Header.Get("X-Correlation-ID"); id != "" {
		return id
	}
	return observability.NewCorrelationID()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
