package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ent0n29/vtutor/internal/journal"
	"github.com/ent0n29/vtutor/internal/observability"
	"github.com/ent0n29/vtutor/internal/playback"
	"github.com/ent0n29/vtutor/internal/protocol"
	"github.com/ent0n29/vtutor/internal/speech"
	"github.com/ent0n29/vtutor/internal/vtube"
)

const (
	defaultUtteranceLimit = 50
	maxUtteranceLimit     = 500
	maxTextRunes          = 5000
)

// Speaker is the playback side of the API.
type Speaker interface {
	Enqueue(ctx context.Context, text string) (*playback.Ticket, error)
	Status() playback.Status
}

// Avatar is the avatar side of the API.
type Avatar interface {
	Connected() bool
	Hotkeys(ctx context.Context) ([]protocol.Hotkey, error)
	Expressions() []string
	TriggerExpression(ctx context.Context, name string) error
	ParameterValues() map[string]float64
	LiveParameterValues(ctx context.Context) (map[string]float64, error)
}

type Server struct {
	speaker Speaker
	avatar  Avatar
	journal journal.Store
	metrics *observability.Metrics
	log     zerolog.Logger
}

func New(speaker Speaker, avatar Avatar, store journal.Store, metrics *observability.Metrics, log zerolog.Logger) *Server {
	return &Server{
		speaker: speaker,
		avatar:  avatar,
		journal: store,
		metrics: metrics,
		log:     log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Post("/synthesize/", s.handleSynthesize)
	r.Post("/v1/speak", s.handleSpeak)
	r.Get("/v1/speak/status", s.handleSpeakStatus)
	r.Get("/v1/utterances", s.handleListUtterances)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Get("/v1/avatar/hotkeys", s.handleListHotkeys)
	r.Get("/v1/avatar/expressions", s.handleListExpressions)
	r.Post("/v1/avatar/expressions/{name}", s.handleTriggerExpression)
	r.Get("/v1/avatar/parameters", s.handleParameters)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	connected := s.avatar != nil && s.avatar.Connected()
	if !connected {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":           "not_ready",
			"avatar_connected": false,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"avatar_connected": true,
	})
}

type speakRequest struct {
	Text string `json:"text"`
	Wait *bool  `json:"wait,omitempty"`
}

type speakResponse struct {
	UtteranceID string `json:"utterance_id"`
	Status      string `json:"status"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text, ok := s.checkText(w, req.Text)
	if !ok {
		return
	}

	ticket, err := s.speaker.Enqueue(r.Context(), text)
	if err != nil {
		s.respondSpeakError(w, err)
		return
	}
	if req.Wait != nil && !*req.Wait {
		respondJSON(w, http.StatusAccepted, speakResponse{UtteranceID: ticket.ID, Status: string(journal.StatusQueued)})
		return
	}
	if err := ticket.Wait(r.Context()); err != nil {
		s.respondSpeakError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, speakResponse{UtteranceID: ticket.ID, Status: string(journal.StatusPlayed)})
}

// handleSynthesize keeps the legacy synthesis entry point: it blocks until
// the text is spoken and echoes it back.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text, ok := s.checkText(w, req.Text)
	if !ok {
		return
	}
	ticket, err := s.speaker.Enqueue(r.Context(), text)
	if err == nil {
		err = ticket.Wait(r.Context())
	}
	if err != nil {
		s.respondSpeakError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Synthesis complete for text",
		"text":    text,
	})
}

func (s *Server) checkText(w http.ResponseWriter, raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text is required")
		return "", false
	}
	if len([]rune(text)) > maxTextRunes {
		respondError(w, http.StatusRequestEntityTooLarge, "text_too_long", "text exceeds "+strconv.Itoa(maxTextRunes)+" characters")
		return "", false
	}
	return text, true
}

func (s *Server) respondSpeakError(w http.ResponseWriter, err error) {
	var pErr *speech.ProviderError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	case errors.Is(err, speech.ErrEmptyText):
		respondError(w, http.StatusBadRequest, "empty_text", "text has nothing speakable")
	case errors.Is(err, playback.ErrEngineClosed):
		respondError(w, http.StatusServiceUnavailable, "engine_closed", err.Error())
	case errors.Is(err, speech.ErrMissingCredentials), errors.Is(err, speech.ErrUnsupportedVoice), errors.Is(err, speech.ErrUnsupportedFormat):
		respondError(w, http.StatusInternalServerError, "speech_misconfigured", err.Error())
	case errors.As(err, &pErr):
		respondError(w, http.StatusBadGateway, "speech_"+pErr.Code, err.Error())
	default:
		s.log.Error().Err(err).Msg("speak request failed")
		respondError(w, http.StatusInternalServerError, "speak_failed", err.Error())
	}
}

func (s *Server) handleSpeakStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.speaker.Status())
}

func (s *Server) handleListUtterances(w http.ResponseWriter, r *http.Request) {
	limit := defaultUtteranceLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxUtteranceLimit)
	}
	if s.journal == nil {
		respondJSON(w, http.StatusOK, map[string]any{"utterances": []journal.Record{}})
		return
	}
	records, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal_unavailable", err.Error())
		return
	}
	if records == nil {
		records = []journal.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"utterances": records})
}

func (s *Server) handleListHotkeys(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	hotkeys, err := s.avatar.Hotkeys(ctx)
	if err != nil {
		s.respondAvatarError(w, err)
		return
	}
	if hotkeys == nil {
		hotkeys = []protocol.Hotkey{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"hotkeys": hotkeys})
}

func (s *Server) handleListExpressions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"expressions": s.avatar.Expressions()})
}

func (s *Server) handleTriggerExpression(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "invalid_expression", "missing expression name")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.avatar.TriggerExpression(ctx, name); err != nil {
		s.respondAvatarError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"expression": name, "status": "triggered"})
}

// handleParameters reports the locally tracked values, plus the avatar's
// live values when ?live=true.
func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"values": s.avatar.ParameterValues()}
	if live, _ := strconv.ParseBool(r.URL.Query().Get("live")); live {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		values, err := s.avatar.LiveParameterValues(ctx)
		if err != nil {
			s.respondAvatarError(w, err)
			return
		}
		out["live"] = values
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) respondAvatarError(w http.ResponseWriter, err error) {
	var apiErr *protocol.APIError
	switch {
	case errors.Is(err, vtube.ErrValidation):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, vtube.ErrConnectionClosed), errors.Is(err, vtube.ErrClientClosed):
		respondError(w, http.StatusServiceUnavailable, "avatar_unavailable", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "avatar_timeout", err.Error())
	case errors.As(err, &apiErr):
		respondError(w, http.StatusBadGateway, "avatar_api_error", err.Error())
	default:
		s.log.Error().Err(err).Msg("avatar request failed")
		respondError(w, http.StatusInternalServerError, "avatar_failed", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
