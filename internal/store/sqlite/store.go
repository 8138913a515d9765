// Package sqlite provides a SQLite-backed transfer store for local
// development and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/punchamoorthee/remitops/internal/domain"
	"github.com/punchamoorthee/remitops/internal/store"
	"github.com/punchamoorthee/remitops/internal/store/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists transfer state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ store.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite admits one writer; a single connection serialises transactions
	// instead of surfacing SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// SeedCatalog upserts assets and routes.
func (s *Store) SeedCatalog(ctx context.Context, assets []domain.Asset, routes []domain.Route) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	for _, a := range assets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO assets (code, name, decimals, active) VALUES (?, ?, ?, ?)
			 ON CONFLICT(code) DO UPDATE SET name = excluded.name, decimals = excluded.decimals, active = excluded.active`,
			a.Code, a.Name, a.Decimals, boolToInt(a.Active),
		); err != nil {
			return fmt.Errorf("seed asset %s: %w", a.Code, err)
		}
	}
	for _, r := range routes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO routes (id, from_asset, to_asset, rail, provider, fee_fixed, fee_pct, fx_margin_pct, eta_min_minutes, eta_max_minutes, active)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   from_asset = excluded.from_asset, to_asset = excluded.to_asset, rail = excluded.rail,
			   provider = excluded.provider, fee_fixed = excluded.fee_fixed, fee_pct = excluded.fee_pct,
			   fx_margin_pct = excluded.fx_margin_pct, eta_min_minutes = excluded.eta_min_minutes,
			   eta_max_minutes = excluded.eta_max_minutes, active = excluded.active`,
			r.ID, r.FromAsset, r.ToAsset, string(r.Rail), r.Provider, r.FeeFixed, r.FeePct, r.FXMarginPct,
			r.EtaMinMinutes, r.EtaMaxMinutes, boolToInt(r.Active),
		); err != nil {
			return fmt.Errorf("seed route %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// GetAsset returns one asset by code.
func (s *Store) GetAsset(ctx context.Context, code string) (domain.Asset, error) {
	var a domain.Asset
	var active int
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT code, name, decimals, active FROM assets WHERE code = ?", code,
	).Scan(&a.Code, &a.Name, &a.Decimals, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Asset{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Asset{}, fmt.Errorf("get asset: %w", err)
	}
	a.Active = active == 1
	return a, nil
}

// ActiveRoutes lists active routes for the corridor ordered by id.
func (s *Store) ActiveRoutes(ctx context.Context, fromAsset, toAsset string) ([]domain.Route, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, from_asset, to_asset, rail, provider, fee_fixed, fee_pct, fx_margin_pct, eta_min_minutes, eta_max_minutes
		 FROM routes WHERE from_asset = ? AND to_asset = ? AND active = 1 ORDER BY id`,
		fromAsset, toAsset,
	)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()

	var routes []domain.Route
	for rows.Next() {
		var r domain.Route
		var rail string
		if err := rows.Scan(&r.ID, &r.FromAsset, &r.ToAsset, &rail, &r.Provider, &r.FeeFixed, &r.FeePct,
			&r.FXMarginPct, &r.EtaMinMinutes, &r.EtaMaxMinutes); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		r.Rail = domain.Rail(rail)
		r.Active = true
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// CreateQuote inserts an immutable quote.
func (s *Store) CreateQuote(ctx context.Context, q domain.Quote) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO quotes (id, from_asset, to_asset, rail, send_amount, market_rate, rate_source, rate_timestamp,
		   fx_margin_pct, fee_fixed, fee_pct, fee_percent_amount, total_fee, applied_rate, net_amount, recipient_gets,
		   expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.FromAsset, q.ToAsset, string(q.Rail), q.SendAmount, q.MarketRate, q.RateSource, toMillis(q.RateTimestamp),
		q.FXMarginPct, q.FeeFixed, q.FeePct, q.FeePercentAmount, q.TotalFee, q.AppliedRate, q.NetAmount, q.RecipientGets,
		toMillis(q.ExpiresAt), toMillis(q.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create quote: %w", err)
	}
	return nil
}

// GetQuote returns one quote by id.
func (s *Store) GetQuote(ctx context.Context, id string) (domain.Quote, error) {
	var q domain.Quote
	var rail string
	var rateTS, expiresAt, createdAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, from_asset, to_asset, rail, send_amount, market_rate, rate_source, rate_timestamp,
		   fx_margin_pct, fee_fixed, fee_pct, fee_percent_amount, total_fee, applied_rate, net_amount, recipient_gets,
		   expires_at, created_at
		 FROM quotes WHERE id = ?`, id,
	).Scan(&q.ID, &q.FromAsset, &q.ToAsset, &rail, &q.SendAmount, &q.MarketRate, &q.RateSource, &rateTS,
		&q.FXMarginPct, &q.FeeFixed, &q.FeePct, &q.FeePercentAmount, &q.TotalFee, &q.AppliedRate, &q.NetAmount,
		&q.RecipientGets, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Quote{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Quote{}, fmt.Errorf("get quote: %w", err)
	}
	q.Rail = domain.Rail(rail)
	q.RateTimestamp = fromMillis(rateTS)
	q.ExpiresAt = fromMillis(expiresAt)
	q.CreatedAt = fromMillis(createdAt)
	return q, nil
}

// CreateTransfer writes the transfer, its payout and its first events in
// one transaction.
func (s *Store) CreateTransfer(ctx context.Context, nt store.NewTransfer) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	t := nt.Transfer
	_, err = tx.ExecContext(ctx,
		`INSERT INTO transfers (id, quote_id, rail, reference_code, idempotency_key, user_id,
		   recipient_name, recipient_bank_name, recipient_bank_account, recipient_mobile_provider,
		   recipient_mobile_number, recipient_lightning_address, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.QuoteID, string(t.Rail), t.ReferenceCode, nullIfEmpty(t.IdempotencyKey), nullIfEmpty(t.UserID),
		t.Recipient.Name, t.Recipient.BankName, t.Recipient.BankAccount, t.Recipient.MobileProvider,
		t.Recipient.MobileNumber, t.Recipient.LightningAddress, string(t.Status), toMillis(t.CreatedAt), toMillis(t.UpdatedAt),
	)
	if err != nil {
		if dup := classifyUniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("transfer insert failed: %w", err)
	}

	if p := nt.Payout; p != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO crypto_payouts (transfer_id, asset, network, amount, destination, status, provider, failure_reason, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.TransferID, p.Asset, p.Network, p.Amount, p.Destination, string(p.Status), p.Provider, p.FailureReason,
			toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
		); err != nil {
			return fmt.Errorf("crypto payout insert failed: %w", err)
		}
	}

	if err := insertEvents(ctx, tx, nt.Events); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, events []domain.TransferEvent) error {
	for _, e := range events {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO transfer_events (transfer_id, type, message, created_at) VALUES (?, ?, ?, ?)",
			e.TransferID, string(e.Type), e.Message, toMillis(e.CreatedAt),
		); err != nil {
			return fmt.Errorf("transfer event insert failed: %w", err)
		}
	}
	return nil
}

// classifyUniqueViolation maps a constraint failure on transfers to the
// store sentinel for the offending column.
func classifyUniqueViolation(err error) error {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return nil
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
	default:
		return nil
	}
	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "transfers.idempotency_key"):
		return store.ErrDuplicateIdempotencyKey
	case strings.Contains(message, "transfers.reference_code"):
		return store.ErrDuplicateReference
	case strings.Contains(message, "transfers.quote_id"):
		return store.ErrQuoteAlreadyUsed
	}
	return nil
}

const transferColumns = `id, quote_id, rail, reference_code, COALESCE(idempotency_key, ''), COALESCE(user_id, ''),
  recipient_name, recipient_bank_name, recipient_bank_account, recipient_mobile_provider,
  recipient_mobile_number, recipient_lightning_address, status, created_at, updated_at`

func (s *Store) getTransferWhere(ctx context.Context, where string, arg any) (domain.Transfer, error) {
	var t domain.Transfer
	var rail, status string
	var createdAt, updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx, "SELECT "+transferColumns+" FROM transfers WHERE "+where, arg).Scan(
		&t.ID, &t.QuoteID, &rail, &t.ReferenceCode, &t.IdempotencyKey, &t.UserID,
		&t.Recipient.Name, &t.Recipient.BankName, &t.Recipient.BankAccount, &t.Recipient.MobileProvider,
		&t.Recipient.MobileNumber, &t.Recipient.LightningAddress, &status, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transfer{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("get transfer: %w", err)
	}
	t.Rail = domain.Rail(rail)
	t.Status = domain.TransferStatus(status)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return t, nil
}

func (s *Store) GetTransfer(ctx context.Context, id string) (domain.Transfer, error) {
	return s.getTransferWhere(ctx, "id = ?", id)
}

func (s *Store) GetTransferByReference(ctx context.Context, reference string) (domain.Transfer, error) {
	return s.getTransferWhere(ctx, "reference_code = ?", reference)
}

func (s *Store) GetTransferByIdempotencyKey(ctx context.Context, key string) (domain.Transfer, error) {
	return s.getTransferWhere(ctx, "idempotency_key = ?", key)
}

// GetCryptoPayout returns the payout attached to a transfer.
func (s *Store) GetCryptoPayout(ctx context.Context, transferID string) (domain.CryptoPayout, error) {
	var p domain.CryptoPayout
	var status string
	var createdAt, updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT transfer_id, asset, network, amount, destination, status, provider, failure_reason, created_at, updated_at
		 FROM crypto_payouts WHERE transfer_id = ?`, transferID,
	).Scan(&p.TransferID, &p.Asset, &p.Network, &p.Amount, &p.Destination, &status, &p.Provider, &p.FailureReason,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CryptoPayout{}, store.ErrNotFound
	}
	if err != nil {
		return domain.CryptoPayout{}, fmt.Errorf("get crypto payout: %w", err)
	}
	p.Status = domain.PayoutStatus(status)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

// ListTransferEvents returns the timeline in insertion order.
func (s *Store) ListTransferEvents(ctx context.Context, transferID string) ([]domain.TransferEvent, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT id, transfer_id, type, message, created_at FROM transfer_events WHERE transfer_id = ? ORDER BY id",
		transferID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transfer events: %w", err)
	}
	defer rows.Close()

	var events []domain.TransferEvent
	for rows.Next() {
		var e domain.TransferEvent
		var typ string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.TransferID, &typ, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transfer event: %w", err)
		}
		e.Type = domain.EventType(typ)
		e.CreatedAt = fromMillis(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ApplyStatusChange performs guarded updates and appends events atomically.
func (s *Store) ApplyStatusChange(ctx context.Context, change store.StatusChange) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	at := toMillis(change.At)
	if change.To != "" {
		res, err := tx.ExecContext(ctx,
			"UPDATE transfers SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
			string(change.To), at, change.TransferID, string(change.From),
		)
		if err != nil {
			return fmt.Errorf("update transfer status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrStaleState
		}
	}
	if change.PayoutTo != "" {
		res, err := tx.ExecContext(ctx,
			`UPDATE crypto_payouts
			 SET status = ?, updated_at = ?,
			     provider = CASE WHEN ? <> '' THEN ? ELSE provider END,
			     failure_reason = CASE WHEN ? <> '' THEN ? ELSE failure_reason END
			 WHERE transfer_id = ? AND status = ?`,
			string(change.PayoutTo), at, change.Provider, change.Provider, change.PayoutReason, change.PayoutReason,
			change.TransferID, string(change.PayoutFrom),
		)
		if err != nil {
			return fmt.Errorf("update crypto payout status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrStaleState
		}
	}
	if err := insertEvents(ctx, tx, change.Events); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// IncrementBucket runs the fixed-window upsert as a single statement.
func (s *Store) IncrementBucket(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (int, time.Time, error) {
	nowMs := toMillis(now)
	var count int
	var resetAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`INSERT INTO rate_limit_buckets (key, count, reset_at) VALUES (?, 1, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   count = CASE WHEN rate_limit_buckets.reset_at <= ? THEN 1
		                ELSE MIN(rate_limit_buckets.count + 1, ?) END,
		   reset_at = CASE WHEN rate_limit_buckets.reset_at <= ? THEN excluded.reset_at
		                   ELSE rate_limit_buckets.reset_at END
		 RETURNING count, reset_at`,
		key, toMillis(now.Add(window)), nowMs, limit+1, nowMs,
	).Scan(&count, &resetAt)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("increment bucket: %w", err)
	}
	return count, fromMillis(resetAt), nil
}

// AppendAudit inserts one audit entry.
func (s *Store) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	metadata := []byte("{}")
	if len(entry.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(entry.Metadata); err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}
	_, err := s.sqlDB.ExecContext(ctx,
		"INSERT INTO audit_log (id, actor, action, entity_type, entity_id, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		entry.ID, entry.Actor, entry.Action, entry.EntityType, entry.EntityID, string(metadata), toMillis(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// ListAudit returns audit entries for an entity, oldest first.
func (s *Store) ListAudit(ctx context.Context, entityType, entityID string) ([]domain.AuditEntry, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, actor, action, entity_type, entity_id, metadata, created_at
		 FROM audit_log WHERE entity_type = ? AND entity_id = ? ORDER BY created_at, id`,
		entityType, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var metadata string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.EntityType, &e.EntityID, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode audit metadata: %w", err)
		}
		e.CreatedAt = fromMillis(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
