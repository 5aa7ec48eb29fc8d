// Package pgstore implements the core ledger store on PostgreSQL. Level rows
// are locked with SELECT ... FOR UPDATE under a transaction-local
// lock_timeout; lock waits that expire surface as core.ErrLockTimeout.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"inventory-ledger/internal/core"
)

const (
	sqlstateLockNotAvailable = "55P03"
	sqlstateDeadlock         = "40P01"
)

type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func New(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Store{pool: pool, lockTimeout: lockTimeout}
}

// translate maps lock-wait failures to core.ErrLockTimeout. A statement cut
// short by the context deadline counts as one.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", core.ErrLockTimeout, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateLockNotAvailable, sqlstateDeadlock:
			return fmt.Errorf("%w: %s", core.ErrLockTimeout, pgErr.Message)
		}
	}
	return err
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx core.LedgerTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", timeout); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return translate(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return translate(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (p *pgTx) ClaimSource(ctx context.Context, src core.SourceRef) error {
	tag, err := p.tx.Exec(ctx, `
		INSERT INTO posted_sources (source_type, source_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, src.Type, src.ID)
	if err != nil {
		return fmt.Errorf("failed to claim source %s: %w", src, err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrAlreadyPosted
	}
	return nil
}

func (p *pgTx) LockLevels(ctx context.Context, refs []core.LevelRef) (map[core.LevelKey]*core.InventoryLevel, error) {
	out := make(map[core.LevelKey]*core.InventoryLevel, len(refs))
	for _, ref := range core.LockOrder(refs) {
		// Upsert so the row exists, then lock it.
		if _, err := p.tx.Exec(ctx, `
			INSERT INTO inventory_levels (variant_id, bin_id, warehouse_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (variant_id, bin_id) DO NOTHING
		`, ref.Key.VariantID, ref.Key.BinID, ref.WarehouseID); err != nil {
			return nil, fmt.Errorf("failed to ensure level %s: %w", ref.Key, err)
		}

		var l core.InventoryLevel
		err := p.tx.QueryRow(ctx, `
			SELECT variant_id, bin_id, warehouse_id, on_hand, allocated, safety_stock, reorder_point, updated_at
			FROM inventory_levels
			WHERE variant_id = $1 AND bin_id = $2
			FOR UPDATE
		`, ref.Key.VariantID, ref.Key.BinID).Scan(
			&l.VariantID, &l.BinID, &l.WarehouseID, &l.OnHand, &l.Allocated,
			&l.SafetyStock, &l.ReorderPoint, &l.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to lock level %s: %w", ref.Key, translate(err))
		}
		out[ref.Key] = &l
	}
	return out, nil
}

func (p *pgTx) SaveLevel(ctx context.Context, l *core.InventoryLevel) error {
	_, err := p.tx.Exec(ctx, `
		UPDATE inventory_levels
		SET on_hand = $3, allocated = $4, updated_at = $5
		WHERE variant_id = $1 AND bin_id = $2
	`, l.VariantID, l.BinID, l.OnHand, l.Allocated, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update level %s: %w", l.Key(), err)
	}
	return nil
}

func (p *pgTx) AppendTransaction(ctx context.Context, t *core.InventoryTransaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := p.tx.QueryRow(ctx, `
		INSERT INTO inventory_transactions (
			id, organization_id, variant_id, uom_id, qty, type,
			warehouse_from_id, bin_from_id, warehouse_to_id, bin_to_id,
			batch_id, serial_id, source_type, source_id, occurred_at, note
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING seq, recorded_at
	`, t.ID, t.OrganizationID, t.VariantID, t.UOMID, t.Qty, string(t.Type),
		t.WarehouseFromID, t.BinFromID, t.WarehouseToID, t.BinToID,
		t.BatchID, t.SerialID, t.SourceType, t.SourceID, t.OccurredAt, t.Note,
	).Scan(&t.Seq, &t.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to append %s transaction: %w", t.Type, err)
	}
	return nil
}

const reservationColumns = `id, organization_id, so_line_id, variant_id, warehouse_id, bin_id, qty, status, created_at, closed_at`

func scanReservation(row pgx.Row) (core.Reservation, error) {
	var r core.Reservation
	var status string
	err := row.Scan(&r.ID, &r.OrganizationID, &r.SOLineID, &r.VariantID, &r.WarehouseID, &r.BinID,
		&r.Qty, &status, &r.CreatedAt, &r.ClosedAt)
	r.Status = core.ReservationStatus(status)
	return r, err
}

func (p *pgTx) InsertReservation(ctx context.Context, r *core.Reservation) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := p.tx.Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, r.OrganizationID, r.SOLineID, r.VariantID, r.WarehouseID, r.BinID,
		r.Qty, string(r.Status), r.CreatedAt, r.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

func (p *pgTx) LockReservation(ctx context.Context, id uuid.UUID) (core.Reservation, error) {
	r, err := scanReservation(p.tx.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Reservation{}, core.ErrNotFound
		}
		return core.Reservation{}, fmt.Errorf("failed to lock reservation %s: %w", id, translate(err))
	}
	return r, nil
}

func (p *pgTx) UpdateReservation(ctx context.Context, r core.Reservation) error {
	tag, err := p.tx.Exec(ctx, `
		UPDATE reservations SET qty = $2, status = $3, closed_at = $4 WHERE id = $1
	`, r.ID, r.Qty, string(r.Status), r.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to update reservation %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (p *pgTx) ActiveReservations(ctx context.Context, soLineID uuid.UUID, key core.LevelKey) ([]core.Reservation, error) {
	rows, err := p.tx.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE ($1 = '00000000-0000-0000-0000-000000000000'::uuid OR so_line_id = $1)
		  AND variant_id = $2 AND bin_id = $3 AND status = 'ACTIVE'
		ORDER BY created_at, id
		FOR UPDATE
	`, soLineID, key.VariantID, key.BinID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active reservations: %w", translate(err))
	}
	defer rows.Close()

	var out []core.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, translate(rows.Err())
}

// where accumulates positional filter clauses.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(cond string, v any) {
	w.args = append(w.args, v)
	w.clauses = append(w.clauses, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}
