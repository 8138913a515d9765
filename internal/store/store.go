// Package store defines the persistence contract of the transfer core.
// Implementations live in the postgres and sqlite subpackages; both rely on
// the database for transactions and unique constraints rather than on
// in-process locks.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/remitops/internal/domain"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrDuplicateReference      = errors.New("duplicate reference code")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrQuoteAlreadyUsed        = errors.New("quote already used by another transfer")
	ErrStaleState              = errors.New("state changed concurrently")
)

// Catalog reads the externally curated asset and route data.
type Catalog interface {
	GetAsset(ctx context.Context, code string) (domain.Asset, error)
	ActiveRoutes(ctx context.Context, fromAsset, toAsset string) ([]domain.Route, error)
}

// CatalogSeeder loads reference data. It is used by operator tooling, not
// by request paths.
type CatalogSeeder interface {
	SeedCatalog(ctx context.Context, assets []domain.Asset, routes []domain.Route) error
}

type QuoteStore interface {
	CreateQuote(ctx context.Context, q domain.Quote) error
	GetQuote(ctx context.Context, id string) (domain.Quote, error)
}

// NewTransfer is everything written when a transfer is created. It is
// persisted in one transaction.
type NewTransfer struct {
	Transfer domain.Transfer
	Payout   *domain.CryptoPayout
	Events   []domain.TransferEvent
}

// StatusChange is a guarded state update. The transfer row moves From -> To
// only if it is still in From; the payout row likewise. An empty To or
// PayoutTo leaves that row alone. Events are appended in the same
// transaction.
type StatusChange struct {
	TransferID   string
	From, To     domain.TransferStatus
	PayoutFrom   domain.PayoutStatus
	PayoutTo     domain.PayoutStatus
	Provider     string
	PayoutReason string
	Events       []domain.TransferEvent
	At           time.Time
}

type TransferStore interface {
	// CreateTransfer returns ErrDuplicateReference, ErrDuplicateIdempotencyKey
	// or ErrQuoteAlreadyUsed when the matching unique constraint fires.
	CreateTransfer(ctx context.Context, nt NewTransfer) error
	GetTransfer(ctx context.Context, id string) (domain.Transfer, error)
	GetTransferByReference(ctx context.Context, reference string) (domain.Transfer, error)
	GetTransferByIdempotencyKey(ctx context.Context, key string) (domain.Transfer, error)
	GetCryptoPayout(ctx context.Context, transferID string) (domain.CryptoPayout, error)
	ListTransferEvents(ctx context.Context, transferID string) ([]domain.TransferEvent, error)
	// ApplyStatusChange returns ErrStaleState when a guard does not match.
	ApplyStatusChange(ctx context.Context, change StatusChange) error
}

// BucketStore backs the fixed-window rate limiter. IncrementBucket is one
// atomic statement: it resets an expired bucket to 1, otherwise increments
// the count but never past limit+1. Callers treat count > limit as rejected.
type BucketStore interface {
	IncrementBucket(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (count int, resetAt time.Time, err error)
}

type AuditLog interface {
	AppendAudit(ctx context.Context, entry domain.AuditEntry) error
}

// Store is the full persistence surface used by the service.
type Store interface {
	Catalog
	CatalogSeeder
	QuoteStore
	TransferStore
	BucketStore
	AuditLog
	Close() error
}
