// Package postgres implements the transfer store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/remitops/internal/domain"
	"github.com/punchamoorthee/remitops/internal/store"
	"github.com/punchamoorthee/remitops/internal/store/postgres/migrations"
)

const uniqueViolation = "23505"

type Store struct {
	Db *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

// Migrate applies the embedded schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, migrations.Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.Db.Close()
	return nil
}

// SeedCatalog bulk-loads assets and routes with CopyFrom. Tables that
// already hold rows are left untouched.
func (s *Store) SeedCatalog(ctx context.Context, assets []domain.Asset, routes []domain.Route) error {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int
	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM assets").Scan(&count); err != nil {
		return fmt.Errorf("count assets: %w", err)
	}
	if count == 0 {
		rows := make([][]any, 0, len(assets))
		for _, a := range assets {
			rows = append(rows, []any{a.Code, a.Name, int32(a.Decimals), a.Active})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"assets"},
			[]string{"code", "name", "decimals", "active"}, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy assets: %w", err)
		}
	}

	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM routes").Scan(&count); err != nil {
		return fmt.Errorf("count routes: %w", err)
	}
	if count == 0 {
		rows := make([][]any, 0, len(routes))
		for _, r := range routes {
			rows = append(rows, []any{r.ID, r.FromAsset, r.ToAsset, string(r.Rail), r.Provider, r.FeeFixed, r.FeePct,
				r.FXMarginPct, int32(r.EtaMinMinutes), int32(r.EtaMaxMinutes), r.Active})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"routes"},
			[]string{"id", "from_asset", "to_asset", "rail", "provider", "fee_fixed", "fee_pct", "fx_margin_pct",
				"eta_min_minutes", "eta_max_minutes", "active"},
			pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy routes: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetAsset retrieves a single asset by code.
func (s *Store) GetAsset(ctx context.Context, code string) (domain.Asset, error) {
	var a domain.Asset
	err := s.Db.QueryRow(ctx, "SELECT code, name, decimals, active FROM assets WHERE code = $1", code).
		Scan(&a.Code, &a.Name, &a.Decimals, &a.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Asset{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Asset{}, fmt.Errorf("get asset: %w", err)
	}
	return a, nil
}

// ActiveRoutes lists active routes for a corridor.
func (s *Store) ActiveRoutes(ctx context.Context, fromAsset, toAsset string) ([]domain.Route, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id, from_asset, to_asset, rail, provider, fee_fixed, fee_pct, fx_margin_pct, eta_min_minutes, eta_max_minutes, active
		 FROM routes WHERE from_asset = $1 AND to_asset = $2 AND active ORDER BY id`,
		fromAsset, toAsset)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()

	var routes []domain.Route
	for rows.Next() {
		var r domain.Route
		var rail string
		if err := rows.Scan(&r.ID, &r.FromAsset, &r.ToAsset, &rail, &r.Provider, &r.FeeFixed, &r.FeePct,
			&r.FXMarginPct, &r.EtaMinMinutes, &r.EtaMaxMinutes, &r.Active); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		r.Rail = domain.Rail(rail)
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

func (s *Store) CreateQuote(ctx context.Context, q domain.Quote) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO quotes (id, from_asset, to_asset, rail, send_amount, market_rate, rate_source, rate_timestamp,
		   fx_margin_pct, fee_fixed, fee_pct, fee_percent_amount, total_fee, applied_rate, net_amount, recipient_gets,
		   expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		q.ID, q.FromAsset, q.ToAsset, string(q.Rail), q.SendAmount, q.MarketRate, q.RateSource, q.RateTimestamp,
		q.FXMarginPct, q.FeeFixed, q.FeePct, q.FeePercentAmount, q.TotalFee, q.AppliedRate, q.NetAmount, q.RecipientGets,
		q.ExpiresAt, q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create quote: %w", err)
	}
	return nil
}

func (s *Store) GetQuote(ctx context.Context, id string) (domain.Quote, error) {
	id, ok := parseID(id)
	if !ok {
		return domain.Quote{}, store.ErrNotFound
	}
	var q domain.Quote
	var rail string
	err := s.Db.QueryRow(ctx,
		`SELECT id::text, from_asset, to_asset, rail, send_amount, market_rate, rate_source, rate_timestamp,
		   fx_margin_pct, fee_fixed, fee_pct, fee_percent_amount, total_fee, applied_rate, net_amount, recipient_gets,
		   expires_at, created_at
		 FROM quotes WHERE id = $1`, id,
	).Scan(&q.ID, &q.FromAsset, &q.ToAsset, &rail, &q.SendAmount, &q.MarketRate, &q.RateSource, &q.RateTimestamp,
		&q.FXMarginPct, &q.FeeFixed, &q.FeePct, &q.FeePercentAmount, &q.TotalFee, &q.AppliedRate, &q.NetAmount,
		&q.RecipientGets, &q.ExpiresAt, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quote{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Quote{}, fmt.Errorf("get quote: %w", err)
	}
	q.Rail = domain.Rail(rail)
	q.RateTimestamp = q.RateTimestamp.UTC()
	q.ExpiresAt = q.ExpiresAt.UTC()
	q.CreatedAt = q.CreatedAt.UTC()
	return q, nil
}

// parseID normalises an id for comparison against a UUID column. A value
// that is not a UUID cannot match any row.
func parseID(id string) (string, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateTransfer inserts the transfer, optional crypto payout and initial
// events inside one transaction. Unique violations are reported by the
// constraint that fired.
func (s *Store) CreateTransfer(ctx context.Context, nt store.NewTransfer) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	t := nt.Transfer
	_, err = tx.Exec(ctx,
		`INSERT INTO transfers (id, quote_id, rail, reference_code, idempotency_key, user_id,
		   recipient_name, recipient_bank_name, recipient_bank_account, recipient_mobile_provider,
		   recipient_mobile_number, recipient_lightning_address, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, t.QuoteID, string(t.Rail), t.ReferenceCode, nullIfEmpty(t.IdempotencyKey), nullIfEmpty(t.UserID),
		t.Recipient.Name, t.Recipient.BankName, t.Recipient.BankAccount, t.Recipient.MobileProvider,
		t.Recipient.MobileNumber, t.Recipient.LightningAddress, string(t.Status), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case "transfers_idempotency_key_uniq":
				return store.ErrDuplicateIdempotencyKey
			case "transfers_reference_code_uniq":
				return store.ErrDuplicateReference
			case "transfers_quote_id_uniq":
				return store.ErrQuoteAlreadyUsed
			}
		}
		return fmt.Errorf("transfer insert failed: %w", err)
	}

	if p := nt.Payout; p != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO crypto_payouts (transfer_id, asset, network, amount, destination, status, provider, failure_reason, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			p.TransferID, p.Asset, p.Network, p.Amount, p.Destination, string(p.Status), p.Provider, p.FailureReason,
			p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("crypto payout insert failed: %w", err)
		}
	}

	if err := insertEvents(ctx, tx, nt.Events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// Batch insert of timeline entries.
func insertEvents(ctx context.Context, tx pgx.Tx, events []domain.TransferEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue("INSERT INTO transfer_events (transfer_id, type, message, created_at) VALUES ($1, $2, $3, $4)",
			e.TransferID, string(e.Type), e.Message, e.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("transfer event insert failed: %w", err)
	}
	return nil
}

const transferColumns = `id::text, quote_id::text, rail, reference_code, COALESCE(idempotency_key, ''), COALESCE(user_id, ''),
  recipient_name, recipient_bank_name, recipient_bank_account, recipient_mobile_provider,
  recipient_mobile_number, recipient_lightning_address, status, created_at, updated_at`

func (s *Store) getTransferWhere(ctx context.Context, where string, arg any) (domain.Transfer, error) {
	var t domain.Transfer
	var rail, status string
	err := s.Db.QueryRow(ctx, "SELECT "+transferColumns+" FROM transfers WHERE "+where, arg).Scan(
		&t.ID, &t.QuoteID, &rail, &t.ReferenceCode, &t.IdempotencyKey, &t.UserID,
		&t.Recipient.Name, &t.Recipient.BankName, &t.Recipient.BankAccount, &t.Recipient.MobileProvider,
		&t.Recipient.MobileNumber, &t.Recipient.LightningAddress, &status, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transfer{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("get transfer: %w", err)
	}
	t.Rail = domain.Rail(rail)
	t.Status = domain.TransferStatus(status)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

// GetTransfer retrieves transfer details.
func (s *Store) GetTransfer(ctx context.Context, id string) (domain.Transfer, error) {
	id, ok := parseID(id)
	if !ok {
		return domain.Transfer{}, store.ErrNotFound
	}
	return s.getTransferWhere(ctx, "id = $1", id)
}

func (s *Store) GetTransferByReference(ctx context.Context, reference string) (domain.Transfer, error) {
	return s.getTransferWhere(ctx, "reference_code = $1", reference)
}

func (s *Store) GetTransferByIdempotencyKey(ctx context.Context, key string) (domain.Transfer, error) {
	return s.getTransferWhere(ctx, "idempotency_key = $1", key)
}

func (s *Store) GetCryptoPayout(ctx context.Context, transferID string) (domain.CryptoPayout, error) {
	transferID, ok := parseID(transferID)
	if !ok {
		return domain.CryptoPayout{}, store.ErrNotFound
	}
	var p domain.CryptoPayout
	var status string
	err := s.Db.QueryRow(ctx,
		`SELECT transfer_id::text, asset, network, amount, destination, status, provider, failure_reason, created_at, updated_at
		 FROM crypto_payouts WHERE transfer_id = $1`, transferID,
	).Scan(&p.TransferID, &p.Asset, &p.Network, &p.Amount, &p.Destination, &status, &p.Provider, &p.FailureReason,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CryptoPayout{}, store.ErrNotFound
	}
	if err != nil {
		return domain.CryptoPayout{}, fmt.Errorf("get crypto payout: %w", err)
	}
	p.Status = domain.PayoutStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

// ListTransferEvents retrieves the timeline of a transfer in write order.
func (s *Store) ListTransferEvents(ctx context.Context, transferID string) ([]domain.TransferEvent, error) {
	transferID, ok := parseID(transferID)
	if !ok {
		return nil, nil
	}
	rows, err := s.Db.Query(ctx,
		"SELECT id, transfer_id::text, type, message, created_at FROM transfer_events WHERE transfer_id = $1 ORDER BY id",
		transferID)
	if err != nil {
		return nil, fmt.Errorf("list transfer events: %w", err)
	}
	defer rows.Close()

	var events []domain.TransferEvent
	for rows.Next() {
		var e domain.TransferEvent
		var typ string
		if err := rows.Scan(&e.ID, &e.TransferID, &typ, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transfer event: %w", err)
		}
		e.Type = domain.EventType(typ)
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// ApplyStatusChange updates the transfer and payout rows only when they are
// still in the expected state, then appends events; all in one transaction.
func (s *Store) ApplyStatusChange(ctx context.Context, change store.StatusChange) error {
	id, ok := parseID(change.TransferID)
	if !ok {
		return store.ErrNotFound
	}
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if change.To != "" {
		tag, err := tx.Exec(ctx,
			"UPDATE transfers SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4",
			string(change.To), change.At, id, string(change.From))
		if err != nil {
			return fmt.Errorf("update transfer status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrStaleState
		}
	}
	if change.PayoutTo != "" {
		tag, err := tx.Exec(ctx,
			`UPDATE crypto_payouts
			 SET status = $1, updated_at = $2,
			     provider = COALESCE(NULLIF($3, ''), provider),
			     failure_reason = COALESCE(NULLIF($4, ''), failure_reason)
			 WHERE transfer_id = $5 AND status = $6`,
			string(change.PayoutTo), change.At, change.Provider, change.PayoutReason, id, string(change.PayoutFrom))
		if err != nil {
			return fmt.Errorf("update crypto payout status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrStaleState
		}
	}
	if err := insertEvents(ctx, tx, change.Events); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// IncrementBucket is one upsert; the row lock taken by ON CONFLICT makes
// concurrent callers on the same key serialise.
func (s *Store) IncrementBucket(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (int, time.Time, error) {
	var count int
	var resetAt time.Time
	err := s.Db.QueryRow(ctx,
		`INSERT INTO rate_limit_buckets (key, count, reset_at) VALUES ($1, 1, $2)
		 ON CONFLICT (key) DO UPDATE SET
		   count = CASE WHEN rate_limit_buckets.reset_at <= $3 THEN 1
		                ELSE LEAST(rate_limit_buckets.count + 1, $4) END,
		   reset_at = CASE WHEN rate_limit_buckets.reset_at <= $3 THEN EXCLUDED.reset_at
		                   ELSE rate_limit_buckets.reset_at END
		 RETURNING count, reset_at`,
		key, now.Add(window), now, limit+1,
	).Scan(&count, &resetAt)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("increment bucket: %w", err)
	}
	return count, resetAt.UTC(), nil
}

func (s *Store) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	if entry.Metadata == nil {
		metadata = []byte("{}")
	}
	_, err = s.Db.Exec(ctx,
		"INSERT INTO audit_log (id, actor, action, entity_type, entity_id, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		entry.ID, entry.Actor, entry.Action, entry.EntityType, entry.EntityID, metadata, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}
