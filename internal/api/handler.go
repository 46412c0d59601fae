// Package api provides the HTTP handlers for the campaign chat API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tribu-digital/campaignbot/internal/analytics"
	"github.com/tribu-digital/campaignbot/internal/chat"
	"github.com/tribu-digital/campaignbot/internal/tribal"
)

// defaultMaxRequestBodySize is the default maximum request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Orchestrator is the conversation loop consumed by the handlers.
type Orchestrator interface {
	Ask(ctx context.Context, req chat.Request) (*chat.Result, error)
	AskOnce(ctx context.Context, sessionID, query string) (*chat.Result, error)
}

// Handler serves the chat endpoints.
type Handler struct {
	orc         Orchestrator
	detector    *tribal.Detector
	rateLimiter *RateLimiter
	maxBodySize int64
}

// Config holds handler settings.
type Config struct {
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	MaxRequestBodySize int64
}

// NewHandler creates the API handler.
func NewHandler(orc Orchestrator, detector *tribal.Detector, cfg Config) *Handler {
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 20
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		orc:         orc,
		detector:    detector,
		rateLimiter: NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		maxBodySize: cfg.MaxRequestBodySize,
	}
}

// RegisterRoutes registers all chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleRoot)
	r.Post("/chat", h.HandleChat)
	r.Post("/tribal-analysis", h.HandleTribalAnalysis)
	r.Post("/analytics-chat", h.HandleAnalyticsChat)
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

// ChatResponse is the success envelope of POST /chat.
type ChatResponse struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id"`
	Degraded  bool   `json:"degraded"`
}

// ErrorResponse is the failure envelope for all endpoints.
type ErrorResponse struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// UserData carries optional caller-supplied context on the tribal and
// analytics endpoints.
type UserData struct {
	Name          string         `json:"name"`
	ReferralCode  string         `json:"referral_code"`
	City          string         `json:"city"`
	AnalyticsData analytics.Data `json:"analytics_data"`
}

// ContextRequest is the body of POST /tribal-analysis and /analytics-chat.
type ContextRequest struct {
	Query     string   `json:"query"`
	SessionID string   `json:"session_id"`
	UserData  UserData `json:"user_data"`
}

// TribalResponse is the envelope of POST /tribal-analysis.
type TribalResponse struct {
	IsTribalRequest    bool   `json:"is_tribal_request"`
	AIResponse         string `json:"ai_response"`
	ReferralCode       string `json:"referral_code,omitempty"`
	UserName           string `json:"user_name,omitempty"`
	ShouldGenerateLink bool   `json:"should_generate_link"`
}

// HandleRoot serves the service banner.
func (h *Handler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"message": "La API del chatbot de campaña está funcionando. Usa /chat para enviar preguntas.",
	})
}

// HandleChat runs one conversational exchange.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	sessionID := h.resolveSessionID(req.SessionID)
	if !h.allow(w, sessionID) {
		return
	}

	result, err := h.orc.Ask(r.Context(), chat.Request{SessionID: sessionID, Query: req.Query})
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}

	JSON(w, http.StatusOK, ChatResponse{
		Answer:    result.Answer,
		SessionID: result.SessionID,
		Degraded:  result.Degraded,
	})
}

// HandleTribalAnalysis classifies the query and answers tribe/referral
// requests with the specialized prompt. Session history is not touched.
func (h *Handler) HandleTribalAnalysis(w http.ResponseWriter, r *http.Request) {
	var req ContextRequest
	if !h.decode(w, r, &req) {
		return
	}
	sessionID := h.resolveSessionID(req.SessionID)
	if !h.allow(w, sessionID) {
		return
	}

	if h.detector.IsTribalRequest(req.Query) {
		prompt := tribal.BuildPrompt(req.UserData.Name, req.UserData.ReferralCode)
		result, err := h.orc.AskOnce(r.Context(), sessionID, prompt)
		if err != nil {
			writeOrchestratorError(w, err)
			return
		}
		JSON(w, http.StatusOK, TribalResponse{
			IsTribalRequest:    true,
			AIResponse:         result.Answer,
			ReferralCode:       req.UserData.ReferralCode,
			UserName:           req.UserData.Name,
			ShouldGenerateLink: true,
		})
		return
	}

	result, err := h.orc.AskOnce(r.Context(), sessionID, req.Query)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	JSON(w, http.StatusOK, TribalResponse{
		IsTribalRequest: false,
		AIResponse:      result.Answer,
	})
}

// HandleAnalyticsChat answers ranking queries from the attached analytics
// data, falling back to a plain one-shot answer when none was sent.
func (h *Handler) HandleAnalyticsChat(w http.ResponseWriter, r *http.Request) {
	var req ContextRequest
	if !h.decode(w, r, &req) {
		return
	}
	sessionID := h.resolveSessionID(req.SessionID)
	if !h.allow(w, sessionID) {
		return
	}

	query := req.Query
	if !req.UserData.AnalyticsData.Empty() {
		query = analytics.BuildPrompt(req.Query, req.UserData.AnalyticsData, req.UserData.City)
	}

	result, err := h.orc.AskOnce(r.Context(), sessionID, query)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	JSON(w, http.StatusOK, ChatResponse{
		Answer:    result.Answer,
		SessionID: result.SessionID,
		Degraded:  result.Degraded,
	})
}

// decode reads a JSON body with the configured size cap. It writes the
// error response itself and reports whether decoding succeeded.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, chat.KindInvalidInput, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, chat.KindInvalidInput, "invalid request body")
		return false
	}
	return true
}

// resolveSessionID returns the client's session id, or a server-assigned
// one when the client sent none.
func (h *Handler) resolveSessionID(sessionID string) string {
	if sessionID == "" {
		return uuid.NewString()
	}
	return sessionID
}

func (h *Handler) allow(w http.ResponseWriter, sessionID string) bool {
	if !h.rateLimiter.Allow(sessionID) {
		Error(w, http.StatusTooManyRequests, "RateLimited", "rate limit exceeded")
		return false
	}
	return true
}

// writeOrchestratorError maps the orchestrator error taxonomy onto HTTP
// statuses. Raw collaborator error text never reaches the client.
func writeOrchestratorError(w http.ResponseWriter, err error) {
	kind := chat.Kind(err)
	switch kind {
	case chat.KindInvalidInput:
		Error(w, http.StatusBadRequest, kind, err.Error())
	case chat.KindGenerationFailed, chat.KindRetrievalFailed:
		Error(w, http.StatusBadGateway, kind, "upstream model unavailable")
	default:
		slog.Error("Request failed", "error_kind", kind, "error", err)
		Error(w, http.StatusInternalServerError, kind, "internal error")
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error_kind": "Internal", "message": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, kind, message string) {
	JSON(w, status, ErrorResponse{ErrorKind: kind, Message: message})
}
