package usecase

import (
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

// RefundSupervisor returns shared credits after a failed job and tells
// the user what happened. The refund is the authoritative action;
// notification failures are logged and swallowed.
type RefundSupervisor struct {
	Credits  domain.CreditLedger
	Notifier domain.Notifier
}

// NewRefundSupervisor constructs a RefundSupervisor.
func NewRefundSupervisor(credits domain.CreditLedger, notifier domain.Notifier) *RefundSupervisor {
	return &RefundSupervisor{Credits: credits, Notifier: notifier}
}

// Refund returns amount credits to the shared pool and, when tgUserID
// is set, sends message to the user.
func (s *RefundSupervisor) Refund(ctx domain.Context, amount int64, reason string, tgUserID *int64, message string) error {
	if err := s.Credits.RefundCredits(ctx, amount, reason); err != nil {
		return fmt.Errorf("op=refund.supervise: %w", err)
	}
	if tgUserID != nil && message != "" && s.Notifier != nil {
		if err := s.Notifier.SendMessage(ctx, *tgUserID, message); err != nil {
			slog.Error("refund notification failed",
				slog.Int64("tg_user_id", *tgUserID), slog.Any("error", err))
		}
	}
	return nil
}
