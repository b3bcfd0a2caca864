// Package httpapi exposes chat sessions and the engine over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"genied/internal/chat"
	"genied/internal/convo"
	"genied/internal/engine"
	"genied/internal/store"
	"genied/pkg/types"
)

// Engine is the part of engine.Session the HTTP layer drives.
type Engine interface {
	Status() engine.Status
	Restart(ctx context.Context) engine.State
}

// Chats is the part of chat.Manager the HTTP layer drives.
type Chats interface {
	Create(ctx context.Context, userID string) (*chat.Conversation, error)
	Open(ctx context.Context, userID, id string) (*chat.Conversation, error)
	Delete(ctx context.Context, userID, id string) error
	List(ctx context.Context, userID string) ([]store.Summary, error)
}

// NewMux wires every route.
func NewMux(eng Engine, chats Chats) http.Handler {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", UserHeader, "X-Log-Level", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	h := &handlers{eng: eng, chats: chats}
	r.Group(func(r chi.Router) {
		r.Use(inflight)

		r.Get("/sessions", h.listSessions)
		r.Post("/sessions", h.createSession)
		r.Get("/sessions/{id}", h.getSession)
		r.Delete("/sessions/{id}", h.deleteSession)
		r.Post("/sessions/{id}/messages", h.postMessage)
		r.Put("/sessions/{id}/grounding", h.putGrounding)
		r.Delete("/sessions/{id}/grounding", h.deleteGrounding)

		r.Get("/status", h.status)
		r.Post("/engine/restart", h.restart)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		st := eng.Status().State
		if st == engine.StateReady {
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(st.String()))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

type handlers struct {
	eng   Engine
	chats Chats
}

// decodeJSON enforces the content type and body limit of JSON endpoints.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *handlers) open(w http.ResponseWriter, r *http.Request) (*chat.Conversation, bool) {
	c, err := h.chats.Open(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return c, true
}

// listSessions godoc
// @Summary List sessions
// @Tags sessions
// @Produce json
// @Param X-User-ID header string false "Caller identity"
// @Success 200 {object} types.SessionsResponse
// @Router /sessions [get]
func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	sums, err := h.chats.List(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	out := types.SessionsResponse{Sessions: make([]types.SessionSummary, 0, len(sums))}
	for _, s := range sums {
		out.Sessions = append(out.Sessions, types.SessionSummary{
			ID: s.ID, Title: s.Title, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt, Turns: s.Turns,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// createSession godoc
// @Summary Create a session
// @Tags sessions
// @Produce json
// @Success 201 {object} types.SessionResponse
// @Router /sessions [post]
func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	c, err := h.chats.Create(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(c.Snapshot()))
}

// getSession godoc
// @Summary Get a session with its transcript
// @Tags sessions
// @Produce json
// @Param id path string true "Session id"
// @Success 200 {object} types.SessionResponse
// @Failure 404 {object} types.ErrorResponse
// @Router /sessions/{id} [get]
func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	c, ok := h.open(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(c.Snapshot()))
}

// deleteSession godoc
// @Summary Delete a session
// @Tags sessions
// @Param id path string true "Session id"
// @Success 204
// @Failure 404 {object} types.ErrorResponse
// @Router /sessions/{id} [delete]
func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chats.Delete(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// postMessage godoc
// @Summary Send a message
// @Description Streams NDJSON token lines followed by a done line unless stream=false.
// @Tags sessions
// @Accept json
// @Produce application/x-ndjson
// @Param id path string true "Session id"
// @Param stream query bool false "Stream tokens (default true)"
// @Param body body types.MessageRequest true "Message"
// @Success 200 {object} types.DoneEvent
// @Failure 400 {object} types.ErrorResponse
// @Failure 502 {object} types.ErrorResponse
// @Failure 503 {object} types.ErrorResponse
// @Router /sessions/{id}/messages [post]
func (h *handlers) postMessage(w http.ResponseWriter, r *http.Request) {
	var req types.MessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}
	c, ok := h.open(w, r)
	if !ok {
		return
	}
	log := reqLogger(r).With().Str("session", c.ID()).Logger()

	// Shutdown cancels in-flight generations too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if messageTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, messageTimeout)
		defer tcancel()
	}

	start := time.Now()
	log.Info().Msg("message start")
	if r.URL.Query().Get("stream") == "false" {
		reply, err := c.Send(ctx, req.Message, nil)
		if err != nil {
			log.Info().Err(err).Str("kind", engine.ErrorKind(err)).Dur("dur", time.Since(start)).Msg("message end")
			writeError(w, err)
			return
		}
		log.Info().Int("tokens", reply.Metrics.Tokens).Dur("dur", time.Since(start)).Msg("message end")
		writeJSON(w, http.StatusOK, types.MessageResponse{Reply: reply.Text, Metrics: metricsOut(reply.Metrics)})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	reply, err := c.Send(ctx, req.Message, func(tok string) error {
		log.Debug().Str("token", tok).Msg("token")
		if err := enc.Encode(types.TokenEvent{Token: tok}); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	done := types.DoneEvent{Done: true, Reply: reply.Text, Metrics: metricsOut(reply.Metrics)}
	if err != nil {
		done.Error = err.Error()
		done.ErrorKind = engine.ErrorKind(err)
		if done.ErrorKind == "" {
			done.ErrorKind = "internal"
		}
		incStreamError(done.ErrorKind)
		log.Info().Err(err).Str("kind", done.ErrorKind).Dur("dur", time.Since(start)).Msg("message end")
	} else {
		log.Info().Int("tokens", reply.Metrics.Tokens).Dur("dur", time.Since(start)).Msg("message end")
	}
	if r.Context().Err() != nil {
		return
	}
	_ = enc.Encode(done)
	if flusher != nil {
		flusher.Flush()
	}
}

// putGrounding godoc
// @Summary Attach document or OCR text to a session
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session id"
// @Param body body types.GroundingRequest true "Grounding"
// @Success 200 {object} types.Grounding
// @Failure 400 {object} types.ErrorResponse
// @Failure 422 {object} types.ErrorResponse
// @Router /sessions/{id}/grounding [put]
func (h *handlers) putGrounding(w http.ResponseWriter, r *http.Request) {
	var req types.GroundingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind, err := convo.ParseGroundingKind(req.Kind)
	if err != nil || kind == convo.GroundingNone {
		writeJSONError(w, http.StatusBadRequest, "kind must be document or image-ocr")
		return
	}
	hasText := strings.TrimSpace(req.Text) != ""
	if hasText == (req.Path != "") {
		writeJSONError(w, http.StatusBadRequest, "exactly one of text or path is required")
		return
	}
	if req.Path != "" && fileExtractor == nil {
		writeJSONError(w, http.StatusBadRequest, "path grounding is disabled")
		return
	}
	c, ok := h.open(w, r)
	if !ok {
		return
	}

	var g convo.Grounding
	if hasText {
		source := req.Source
		if source == "" {
			source = "upload"
		}
		g = convo.NewGrounding(kind, source, req.Text)
		err = c.SetGrounding(r.Context(), g)
	} else {
		g, err = c.Attach(r.Context(), fileExtractor, req.Path, kind, 0)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groundingOut(&g))
}

// deleteGrounding godoc
// @Summary Clear a session's grounding
// @Tags sessions
// @Param id path string true "Session id"
// @Success 204
// @Router /sessions/{id}/grounding [delete]
func (h *handlers) deleteGrounding(w http.ResponseWriter, r *http.Request) {
	c, ok := h.open(w, r)
	if !ok {
		return
	}
	if err := c.ClearGrounding(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// status godoc
// @Summary Engine status
// @Tags engine
// @Produce json
// @Success 200 {object} types.StatusResponse
// @Router /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusOut(h.eng.Status()))
}

// restart godoc
// @Summary Restart the persistent engine process
// @Tags engine
// @Produce json
// @Success 200 {object} types.StatusResponse
// @Failure 503 {object} types.StatusResponse
// @Router /engine/restart [post]
func (h *handlers) restart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	st := h.eng.Restart(ctx)
	log := reqLogger(r)
	log.Info().Str("state", st.String()).Msg("engine restart")
	code := http.StatusOK
	if st != engine.StateReady {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, statusOut(h.eng.Status()))
}

func statusOut(s engine.Status) types.StatusResponse {
	return types.StatusResponse{
		State:        s.State.String(),
		Pid:          s.Pid,
		Degradations: s.Degradations,
		Generations:  s.Generations,
		LastError:    s.LastError,
	}
}

func metricsOut(m engine.Metrics) types.Metrics {
	return types.Metrics{
		Mode:            string(m.Mode),
		Tokens:          m.Tokens,
		ElapsedMS:       m.Elapsed.Milliseconds(),
		TTFTMS:          m.TimeToFirstToken.Milliseconds(),
		TokensPerSecond: m.TokensPerSecond,
	}
}

func groundingOut(g *convo.Grounding) *types.Grounding {
	if g == nil {
		return nil
	}
	return &types.Grounding{Kind: string(g.Kind), Source: g.Source, Chars: len([]rune(g.Text)), Truncated: g.Truncated}
}

func turnsOut(in []convo.TurnRecord) []types.Turn {
	out := make([]types.Turn, 0, len(in))
	for _, t := range in {
		out = append(out, types.Turn{Role: string(t.Role), Text: t.Text, Ordinal: t.Ordinal})
	}
	return out
}

func sessionResponse(s chat.Snapshot) types.SessionResponse {
	return types.SessionResponse{
		ID:        s.ID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Turns:     turnsOut(s.Turns),
		Window:    turnsOut(s.Window),
		Grounding: groundingOut(s.Grounding),
	}
}
