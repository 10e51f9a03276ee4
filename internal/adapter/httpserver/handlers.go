package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/filetools-bot/internal/domain"
	"github.com/fairyhunter13/filetools-bot/internal/usecase"
)

// Server aggregates the handler dependencies.
type Server struct {
	Ingress  *usecase.IngressService
	Credits  domain.CreditLedger
	Queue    domain.Queue
	Validate *validator.Validate

	// Ready reports whether the backing stores are reachable.
	Ready func(ctx domain.Context) error
}

// NewServer constructs a Server with a fresh validator.
func NewServer(ingress *usecase.IngressService, credits domain.CreditLedger, q domain.Queue, ready func(ctx domain.Context) error) *Server {
	return &Server{
		Ingress:  ingress,
		Credits:  credits,
		Queue:    q,
		Validate: validator.New(),
		Ready:    ready,
	}
}

type submitRequest struct {
	UserID      *string        `json:"user_id" validate:"omitempty,min=1"`
	TgUserID    *int64         `json:"tg_user_id"`
	Tool        string         `json:"tool" validate:"required"`
	ToolOptions map[string]any `json:"tool_options"`
	FileLinks   []string       `json:"file_links" validate:"required,min=1,dive,url"`
	FileType    string         `json:"file_type"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// SubmitHandler admits a job through the ingress pipeline. It exists
// alongside the chat front end for server-to-server callers.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeEnvelopeError(w, fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidArgument, err))
			return
		}
		if err := s.Validate.Struct(&req); err != nil {
			writeEnvelopeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
			return
		}
		jobID, err := s.Ingress.Submit(r.Context(), usecase.Submission{
			UserID:      req.UserID,
			TgUserID:    req.TgUserID,
			Tool:        domain.Tool(req.Tool),
			ToolOptions: req.ToolOptions,
			FileLinks:   req.FileLinks,
			FileType:    domain.FileType(req.FileType),
		})
		if err != nil {
			writeEnvelopeError(w, err)
			return
		}
		writeEnvelope(w, http.StatusAccepted, submitResponse{JobID: jobID})
	}
}

// CreditsHandler reports today's pool state, including the fast vs
// durable reconciliation snapshot.
func (s *Server) CreditsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		left, ok, err := s.Credits.GetCreditsLeft(r.Context(), false)
		if err != nil {
			writeEnvelopeError(w, err)
			return
		}
		body := map[string]any{"initialized": ok, "credits_left": left}
		if ok {
			cmp, err := s.Credits.CompareCreditsLeft(r.Context())
			if err != nil {
				writeEnvelopeError(w, err)
				return
			}
			body["comparison"] = cmp
		}
		writeEnvelope(w, http.StatusOK, body)
	}
}

// HealthzHandler is the liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler is the readiness probe; it checks the backing stores.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.Ready(ctx); err != nil {
				LoggerFrom(r).Error("readiness check failed", "error", err)
				writeEnvelopeError(w, fmt.Errorf("%w: dependency not ready", domain.ErrInternal))
				return
			}
		}
		writeEnvelope(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
