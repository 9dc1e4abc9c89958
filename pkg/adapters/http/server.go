package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/chatflow"
	"github.com/aretw0/chatflow/internal/compiler"
	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/internal/presentation/graph"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes bounds request bodies; flow documents are the largest payload.
const maxBodyBytes = 4 << 20

// Service is the part of the chatflow engine exposed over HTTP.
type Service interface {
	HandleMessage(ctx context.Context, ev domain.InboundEvent) (*chatflow.Result, error)

	ListFlows(ctx context.Context) ([]domain.FlowSummary, error)
	GetFlow(ctx context.Context, flowID string) (*domain.Flow, error)
	SaveFlow(ctx context.Context, flow *domain.Flow) (*domain.Flow, error)
	ActivateFlow(ctx context.Context, flowID string) (*domain.Flow, error)
	DeleteFlow(ctx context.Context, flowID string) error
	GetActiveFlow(ctx context.Context) (*domain.Flow, error)

	ResetSession(ctx context.Context, chatID string) error
	GetSession(ctx context.Context, chatID string) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]string, error)
}

// Server serves the management API and the inbound message webhook.
type Server struct {
	Service  Service
	Streams  *StreamManager
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	validate *validator.Validate
	parser   *compiler.Parser
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGatherer exposes the given registry on GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewHandler creates the HTTP handler for svc.
func NewHandler(svc Service, opts ...Option) http.Handler {
	s := &Server{
		Service:  svc,
		Streams:  NewStreamManager(),
		logger:   logging.NewNop(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		parser:   compiler.NewParser(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s.Routes()
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/flows", func(r chi.Router) {
		r.Get("/", s.ListFlows)
		r.Post("/", s.SaveFlow)
		r.Get("/active", s.GetActiveFlow)
		r.Get("/{id}", s.GetFlow)
		r.Delete("/{id}", s.DeleteFlow)
		r.Post("/{id}/activate", s.ActivateFlow)
		r.Get("/{id}/mermaid", s.GetMermaid)
	})

	r.Post("/webhook/messages", s.ReceiveMessage)
	r.Get("/events", s.SubscribeEvents)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Get("/{chatID}", s.GetSession)
		r.Delete("/{chatID}", s.ResetSession)
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "chatflow",
		"version": strings.TrimSpace(chatflow.Version),
	})
}

// ListFlows handles GET /flows.
func (s *Server) ListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.Service.ListFlows(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if flows == nil {
		flows = []domain.FlowSummary{}
	}
	s.writeJSON(w, http.StatusOK, flows)
}

// GetFlow handles GET /flows/{id}.
func (s *Server) GetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.Service.GetFlow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flow)
}

// GetActiveFlow handles GET /flows/active.
func (s *Server) GetActiveFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.Service.GetActiveFlow(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flow)
}

// SaveFlow handles POST /flows. The body is checked against the transfer format schema.
func (s *Server) SaveFlow(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.badRequest(w, r, fmt.Sprintf("failed to read body: %v", err))
		return
	}
	flow, err := s.parser.Parse(raw)
	if err != nil {
		s.badRequest(w, r, err.Error())
		return
	}

	saved, err := s.Service.SaveFlow(r.Context(), flow)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("Flow saved", "flow_id", saved.ID, "version", saved.Version)
	s.writeJSON(w, http.StatusCreated, saved)
}

// ActivateFlow handles POST /flows/{id}/activate.
func (s *Server) ActivateFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.Service.ActivateFlow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flow)
}

// DeleteFlow handles DELETE /flows/{id}.
func (s *Server) DeleteFlow(w http.ResponseWriter, r *http.Request) {
	if err := s.Service.DeleteFlow(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetMermaid handles GET /flows/{id}/mermaid. The optional chat_id query
// parameter highlights that chat's path through the flow.
func (s *Server) GetMermaid(w http.ResponseWriter, r *http.Request) {
	flow, err := s.Service.GetFlow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var overlay *graph.Overlay
	if chatID := r.URL.Query().Get("chat_id"); chatID != "" {
		sess, err := s.Service.GetSession(r.Context(), chatID)
		if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			s.writeError(w, r, err)
			return
		}
		if sess != nil && sess.FlowID == flow.ID {
			overlay = graph.OverlayFor(sess)
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, graph.GenerateMermaid(flow, overlay))
}

// messageRequest is the webhook body of one inbound chat message.
type messageRequest struct {
	ChatID     string     `json:"chat_id" validate:"required,max=128"`
	Text       string     `json:"text" validate:"max=4096"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
}

// messageResponse reports what the message produced.
type messageResponse struct {
	ChatID         string          `json:"chat_id"`
	Matched        bool            `json:"matched"`
	Fallback       bool            `json:"fallback"`
	Actions        []domain.Action `json:"actions"`
	Session        *domain.Session `json:"session,omitempty"`
	DispatchErrors []string        `json:"dispatch_errors,omitempty"`
}

func newMessageResponse(res *chatflow.Result) messageResponse {
	out := messageResponse{
		ChatID:   res.ChatID,
		Matched:  res.Matched,
		Fallback: res.Fallback,
		Actions:  res.Actions,
		Session:  res.Session,
	}
	if out.Actions == nil {
		out.Actions = []domain.Action{}
	}
	for _, err := range res.DispatchErrors {
		out.DispatchErrors = append(out.DispatchErrors, err.Error())
	}
	return out
}

// ReceiveMessage handles POST /webhook/messages.
func (s *Server) ReceiveMessage(w http.ResponseWriter, r *http.Request) {
	var body messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		s.badRequest(w, r, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := s.validate.Struct(body); err != nil {
		s.badRequest(w, r, err.Error())
		return
	}

	ev := domain.InboundEvent{ChatID: body.ChatID, Text: body.Text}
	if body.ReceivedAt != nil {
		ev.ReceivedAt = *body.ReceivedAt
	}

	res, err := s.Service.HandleMessage(r.Context(), ev)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := newMessageResponse(res)
	if payload, err := json.Marshal(resp); err == nil {
		s.Streams.Broadcast(ev.ChatID, string(payload))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	chats, err := s.Service.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if chats == nil {
		chats = []string{}
	}
	s.writeJSON(w, http.StatusOK, chats)
}

// GetSession handles GET /sessions/{chatID}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Service.GetSession(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// ResetSession handles DELETE /sessions/{chatID}.
func (s *Server) ResetSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Service.ResetSession(r.Context(), chi.URLParam(r, "chatID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "err", err)
	}
}
