package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fairyhunter13/filetools-bot/internal/adapter/observability"
	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

// webhookRequest mirrors the JSON body the processor posts back when a
// task reaches a terminal state.
type webhookRequest struct {
	Event string `json:"event" validate:"required,oneof=task.completed task.failed"`
	Data  struct {
		Task webhookTask `json:"task" validate:"required"`
	} `json:"data"`
}

// Only custom_string (the job fingerprint) is mandatory for every
// event: a failed callback may omit the task fields, and it still has
// to reach the downloader so the refund runs.
type webhookTask struct {
	Tool          string `json:"tool"`
	Server        string `json:"server"`
	Task          string `json:"task"`
	Status        string `json:"status"`
	StatusMessage string `json:"status_message"`
	CustomInt     int64  `json:"custom_int"`
	CustomString  string `json:"custom_string" validate:"required"`
}

type webhookResponse struct {
	IsWaiting bool   `json:"isWaiting"`
	JID       string `json:"jid"`
}

// WebhookHandler ingests processor completion events and hands them to
// the downloader queue. Duplicate deliveries for a job id are absorbed.
func (s *Server) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req webhookRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			observability.WebhookEvent("unknown", "malformed")
			writeEnvelopeError(w, fmt.Errorf("%w: malformed webhook body: %v", domain.ErrInvalidArgument, err))
			return
		}
		if err := s.Validate.Struct(&req); err != nil {
			observability.WebhookEvent(req.Event, "invalid")
			writeEnvelopeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
			return
		}
		task := req.Data.Task
		if req.Event == domain.EventTaskCompleted {
			if task.Task == "" {
				observability.WebhookEvent(req.Event, "invalid")
				writeEnvelopeError(w, fmt.Errorf("%w: completed event requires a task id", domain.ErrInvalidArgument))
				return
			}
			if !domain.Tool(task.Tool).Valid() {
				observability.WebhookEvent(req.Event, "invalid")
				writeEnvelopeError(w, fmt.Errorf("%w: unknown tool %q", domain.ErrInvalidArgument, task.Tool))
				return
			}
		}

		payload := domain.DownloadJobPayload{
			JobID:         task.CustomString,
			Event:         req.Event,
			Tool:          domain.Tool(task.Tool),
			Server:        task.Server,
			TaskID:        task.Task,
			Status:        task.Status,
			StatusMessage: task.StatusMessage,
		}
		if task.CustomInt != 0 {
			tg := task.CustomInt
			payload.TgUserID = &tg
		}

		enqueued, err := s.Queue.EnqueueDownload(r.Context(), payload)
		if err != nil {
			observability.WebhookEvent(req.Event, "error")
			writeEnvelopeError(w, err)
			return
		}
		if enqueued {
			observability.WebhookEvent(req.Event, "enqueued")
		} else {
			observability.WebhookEvent(req.Event, "duplicate")
			LoggerFrom(r).Info("duplicate webhook delivery absorbed",
				"job_id", payload.JobID, "event", req.Event)
		}
		writeEnvelope(w, http.StatusOK, webhookResponse{IsWaiting: enqueued, JID: payload.JobID})
	}
}
