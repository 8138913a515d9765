package domain

import (
	"fmt"
	"strings"
	"time"
)

// Rail is the payout method used to deliver funds to the recipient.
type Rail string

const (
	RailBank        Rail = "BANK"
	RailMobileMoney Rail = "MOBILE_MONEY"
	RailLightning   Rail = "LIGHTNING"
)

// Rails lists every supported payout rail.
var Rails = []Rail{RailBank, RailMobileMoney, RailLightning}

// ParseRail normalises s and checks it against the supported rails.
func ParseRail(s string) (Rail, error) {
	r := Rail(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown rail %q", s)
	}
	return r, nil
}

func (r Rail) Valid() bool {
	switch r {
	case RailBank, RailMobileMoney, RailLightning:
		return true
	}
	return false
}

// Asset is a currency known to the catalog.
type Asset struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	Active   bool   `json:"active"`
}

// Route is a priced offer for a corridor, rail and provider. Routes are
// owned by the catalog and are read-only here.
type Route struct {
	ID            string  `json:"id"`
	FromAsset     string  `json:"fromAsset"`
	ToAsset       string  `json:"toAsset"`
	Rail          Rail    `json:"rail"`
	Provider      string  `json:"provider"`
	FeeFixed      float64 `json:"feeFixed"`
	FeePct        float64 `json:"feePct"`
	FXMarginPct   float64 `json:"fxMarginPct"`
	EtaMinMinutes int     `json:"etaMinMinutes"`
	EtaMaxMinutes int     `json:"etaMaxMinutes"`
	Active        bool    `json:"active"`
}

// Margin returns the fee/margin model of the route.
func (r Route) Margin() MarginModel {
	return MarginModel{FXMarginPct: r.FXMarginPct, FeeFixed: r.FeeFixed, FeePct: r.FeePct}
}

// Quote is an immutable priced snapshot. Every numeric field is fixed once
// persisted; expiry is evaluated against the wall clock at use time.
type Quote struct {
	ID               string    `json:"id"`
	FromAsset        string    `json:"fromAsset"`
	ToAsset          string    `json:"toAsset"`
	Rail             Rail      `json:"rail"`
	SendAmount       float64   `json:"sendAmount"`
	MarketRate       float64   `json:"marketRate"`
	RateSource       string    `json:"rateSource"`
	RateTimestamp    time.Time `json:"rateTimestamp"`
	FXMarginPct      float64   `json:"fxMarginPct"`
	FeeFixed         float64   `json:"feeFixed"`
	FeePct           float64   `json:"feePct"`
	FeePercentAmount float64   `json:"feePercentAmount"`
	TotalFee         float64   `json:"totalFee"`
	AppliedRate      float64   `json:"appliedRate"`
	NetAmount        float64   `json:"netAmount"`
	RecipientGets    float64   `json:"recipientGets"`
	ExpiresAt        time.Time `json:"expiresAt"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Expired reports whether the quote can no longer be used at now.
func (q Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// Recipient holds the payout destination. Which fields are required
// depends on the rail.
type Recipient struct {
	Name             string `json:"name,omitempty"`
	BankName         string `json:"bankName,omitempty"`
	BankAccount      string `json:"bankAccount,omitempty"`
	MobileProvider   string `json:"mobileProvider,omitempty"`
	MobileNumber     string `json:"mobileNumber,omitempty"`
	LightningAddress string `json:"lightningAddress,omitempty"`
}

// Validate checks the fields the rail needs to deliver funds.
func (r Recipient) Validate(rail Rail) error {
	switch rail {
	case RailBank:
		if strings.TrimSpace(r.BankName) == "" || strings.TrimSpace(r.BankAccount) == "" {
			return fmt.Errorf("bank payouts require recipient bank name and account")
		}
	case RailMobileMoney:
		if strings.TrimSpace(r.MobileProvider) == "" || strings.TrimSpace(r.MobileNumber) == "" {
			return fmt.Errorf("mobile money payouts require recipient provider and number")
		}
	case RailLightning:
	default:
		return fmt.Errorf("unknown rail %q", rail)
	}
	return nil
}

// Transfer is the unit of work. It is never deleted and only changes
// through sanctioned status transitions.
type Transfer struct {
	ID             string         `json:"id"`
	QuoteID        string         `json:"quoteId"`
	Rail           Rail           `json:"payoutRail"`
	ReferenceCode  string         `json:"referenceCode"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	Recipient      Recipient      `json:"recipient"`
	Status         TransferStatus `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// EventType names an entry in a transfer timeline.
type EventType string

const (
	EventCreated       EventType = "CREATED"
	EventQuoteLocked   EventType = "QUOTE_LOCKED"
	EventInvoiceIssued EventType = "INVOICE_ISSUED"
	EventProcessing    EventType = "PROCESSING"
	EventPayoutPaid    EventType = "PAYOUT_PAID"
	EventCompleted     EventType = "COMPLETED"
	EventFailed        EventType = "FAILED"
	EventCanceled      EventType = "CANCELED"
	EventExpired       EventType = "EXPIRED"
)

// TransferEvent is a write-once timeline entry. ID is assigned by storage
// and orders the timeline.
type TransferEvent struct {
	ID         int64     `json:"id"`
	TransferID string    `json:"transferId"`
	Type       EventType `json:"type"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CryptoPayout tracks the Lightning leg of a transfer. Its status moves
// independently of the parent transfer but a PAID payout is required before
// the transfer can complete.
type CryptoPayout struct {
	TransferID    string       `json:"transferId"`
	Asset         string       `json:"asset"`
	Network       string       `json:"network"`
	Amount        float64      `json:"amount"`
	Destination   string       `json:"destination,omitempty"`
	Status        PayoutStatus `json:"status"`
	Provider      string       `json:"provider,omitempty"`
	FailureReason string       `json:"failureReason,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// AuditEntry is an append-only record of a state-changing operation.
type AuditEntry struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}
