// Package notify delivers transfer status messages and operational alerts.
// Delivery is best-effort: callers log failures and move on.
package notify

import (
	"context"
	"time"

	"github.com/punchamoorthee/remitops/internal/domain"
	"go.uber.org/zap"
)

// Notification is the receipt sent to the sender of a transfer.
type Notification struct {
	TransferID    string                `json:"transferId"`
	ReferenceCode string                `json:"referenceCode"`
	UserID        string                `json:"userId"`
	Status        domain.TransferStatus `json:"status"`
	Rail          domain.Rail           `json:"payoutRail"`
	SendAmount    string                `json:"sendAmount,omitempty"`
	FromAsset     string                `json:"fromAsset,omitempty"`
	RecipientGets string                `json:"recipientGets,omitempty"`
	ToAsset       string                `json:"toAsset,omitempty"`
	Reason        string                `json:"reason,omitempty"`
	At            time.Time             `json:"at"`
}

type Notifier interface {
	SendTransferStatus(ctx context.Context, n Notification) error
}

// Alert flags a failed transfer to operators.
type Alert struct {
	TransferID    string      `json:"transferId"`
	ReferenceCode string      `json:"referenceCode"`
	Rail          domain.Rail `json:"payoutRail"`
	Reason        string      `json:"reason"`
	At            time.Time   `json:"at"`
}

type Alerter interface {
	TransferFailed(ctx context.Context, a Alert) error
}

// LogNotifier writes notifications and alerts to the log. It is used when
// no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) SendTransferStatus(_ context.Context, n Notification) error {
	l.logger.Info("transfer status notification",
		zap.String("transfer_id", n.TransferID),
		zap.String("reference", n.ReferenceCode),
		zap.String("user_id", n.UserID),
		zap.String("status", string(n.Status)),
		zap.String("recipient_gets", n.RecipientGets),
	)
	return nil
}

func (l *LogNotifier) TransferFailed(_ context.Context, a Alert) error {
	l.logger.Warn("transfer failed alert",
		zap.String("transfer_id", a.TransferID),
		zap.String("reference", a.ReferenceCode),
		zap.String("rail", string(a.Rail)),
		zap.String("reason", a.Reason),
	)
	return nil
}
