package models

import (
	"github.com/punchamoorthee/remitops/internal/domain"
	"github.com/punchamoorthee/remitops/internal/service"
)

// CryptoDestination carries the Lightning invoice target.
type CryptoDestination struct {
	Destination string `json:"destination"`
}

// CreateTransferRequest is the payload from the client.
type CreateTransferRequest struct {
	QuoteID                   string             `json:"quoteId"`
	PayoutRail                string             `json:"payoutRail"`
	RecipientName             string             `json:"recipientName"`
	RecipientBankName         string             `json:"recipientBankName"`
	RecipientBankAccount      string             `json:"recipientBankAccount"`
	RecipientMobileProvider   string             `json:"recipientMobileProvider"`
	RecipientMobileNumber     string             `json:"recipientMobileNumber"`
	RecipientLightningAddress string             `json:"recipientLightningAddress"`
	Crypto                    *CryptoDestination `json:"crypto,omitempty"`
}

func (r CreateTransferRequest) Recipient() domain.Recipient {
	return domain.Recipient{
		Name:             r.RecipientName,
		BankName:         r.RecipientBankName,
		BankAccount:      r.RecipientBankAccount,
		MobileProvider:   r.RecipientMobileProvider,
		MobileNumber:     r.RecipientMobileNumber,
		LightningAddress: r.RecipientLightningAddress,
	}
}

func (r CreateTransferRequest) CryptoDestination() *service.CryptoDestination {
	if r.Crypto == nil {
		return nil
	}
	return &service.CryptoDestination{Destination: r.Crypto.Destination}
}

// UpdateTransferRequest is the PATCH /transfers/{id} payload.
type UpdateTransferRequest struct {
	Status string `json:"status"`
}

// Display holds money amounts rounded to cents for presentation. The raw
// quote fields keep full precision.
type Display struct {
	SendAmount    string `json:"sendAmount"`
	TotalFee      string `json:"totalFee"`
	NetAmount     string `json:"netAmount"`
	RecipientGets string `json:"recipientGets"`
}

type QuoteResponse struct {
	domain.Quote
	Display Display `json:"display"`
}

func NewQuoteResponse(q domain.Quote) QuoteResponse {
	return QuoteResponse{
		Quote: q,
		Display: Display{
			SendAmount:    domain.MoneyString(q.SendAmount),
			TotalFee:      domain.MoneyString(q.TotalFee),
			NetAmount:     domain.MoneyString(q.NetAmount),
			RecipientGets: domain.MoneyString(q.RecipientGets),
		},
	}
}

// TransferResponse is the canonical response structure.
type TransferResponse struct {
	domain.Transfer
	CryptoPayout *domain.CryptoPayout `json:"cryptoPayout,omitempty"`
}

func NewTransferResponse(st service.TransferState) TransferResponse {
	return TransferResponse{Transfer: st.Transfer, CryptoPayout: st.CryptoPayout}
}

type TransferDetailsResponse struct {
	Transfer     domain.Transfer        `json:"transfer"`
	Quote        QuoteResponse          `json:"quote"`
	CryptoPayout *domain.CryptoPayout   `json:"cryptoPayout,omitempty"`
	Events       []domain.TransferEvent `json:"events"`
	Expired      bool                   `json:"expired"`
	Error        string                 `json:"error,omitempty"`
}

func NewTransferDetailsResponse(d service.TransferDetails) TransferDetailsResponse {
	return TransferDetailsResponse{
		Transfer:     d.Transfer,
		Quote:        NewQuoteResponse(d.Quote),
		CryptoPayout: d.CryptoPayout,
		Events:       d.Events,
		Expired:      d.Transfer.Status == domain.StatusExpired,
	}
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error        string            `json:"error"`
	Code         string            `json:"code"`
	Expired      bool              `json:"expired,omitempty"`
	RetryAfterMs int64             `json:"retryAfterMs,omitempty"`
	Transfer     *TransferResponse `json:"transfer,omitempty"`
}
