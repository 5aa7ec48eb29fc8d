package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MasterData resolves the organization-scoped reference rows a posting needs.
// Lookups of missing rows return ErrNotFound; Conversion returns
// ErrConversionNotFound.
type MasterData interface {
	Variant(ctx context.Context, id uuid.UUID) (Variant, error)
	Bin(ctx context.Context, id uuid.UUID) (Bin, error)
	UnitOfMeasure(ctx context.Context, id uuid.UUID) (UnitOfMeasure, error)
	Conversion(ctx context.Context, orgID, fromUOM, toUOM uuid.UUID) (UOMConversion, error)
	UpsertConversion(ctx context.Context, c UOMConversion) error
}

// LedgerStore is the persistence boundary of the engine. WithinTx runs fn in a
// single atomic unit: all writes made through the LedgerTx become visible
// together when fn returns nil and are discarded otherwise.
type LedgerStore interface {
	MasterData

	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error

	GetLevel(ctx context.Context, key LevelKey) (InventoryLevel, bool, error)
	ListLevels(ctx context.Context, f LevelFilter) ([]InventoryLevel, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]InventoryTransaction, error)
	GetReservation(ctx context.Context, id uuid.UUID) (Reservation, error)
	ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error)

	FeedCursor(ctx context.Context, name string) (int64, error)
	SaveFeedCursor(ctx context.Context, name string, seq int64) error
}

// LedgerTx is the write side available inside WithinTx.
type LedgerTx interface {
	// ClaimSource records that src has been posted. A second claim of the same
	// source returns ErrAlreadyPosted.
	ClaimSource(ctx context.Context, src SourceRef) error
	// LockLevels acquires exclusive locks on the given rows in LockOrder,
	// creating zero rows that do not exist yet. Returns ErrLockTimeout when a
	// lock cannot be obtained in time.
	LockLevels(ctx context.Context, refs []LevelRef) (map[LevelKey]*InventoryLevel, error)
	SaveLevel(ctx context.Context, level *InventoryLevel) error
	// AppendTransaction assigns ID (when nil), Seq and RecordedAt.
	AppendTransaction(ctx context.Context, t *InventoryTransaction) error

	InsertReservation(ctx context.Context, r *Reservation) error
	// LockReservation returns the reservation row locked for update. Callers
	// must already hold the lock of the reservation's level.
	LockReservation(ctx context.Context, id uuid.UUID) (Reservation, error)
	UpdateReservation(ctx context.Context, r Reservation) error
	// ActiveReservations returns the ACTIVE reservations of a sales-order line
	// in one bin, oldest first, locked for update. uuid.Nil matches every line.
	ActiveReservations(ctx context.Context, soLineID uuid.UUID, key LevelKey) ([]Reservation, error)
}

// LevelFilter narrows ListLevels. Zero fields do not filter.
type LevelFilter struct {
	OrganizationID uuid.UUID
	WarehouseID    uuid.UUID
	BinID          uuid.UUID
	VariantID      uuid.UUID
	BelowReorder   bool
	Limit          int
	Offset         int
}

// TransactionFilter narrows ListTransactions. Results are ordered by Seq.
type TransactionFilter struct {
	OrganizationID uuid.UUID
	VariantID      uuid.UUID
	BinID          uuid.UUID
	Type           TransactionType
	SourceType     string
	SourceID       string
	From           time.Time
	To             time.Time
	AfterSeq       int64
	Limit          int
}

// ReservationFilter narrows ListReservations.
type ReservationFilter struct {
	SOLineID  uuid.UUID
	VariantID uuid.UUID
	BinID     uuid.UUID
	Status    ReservationStatus
	Limit     int
}

// MatchLevel reports whether l passes f. OrganizationID is not checked here
// since levels carry no organization; stores join through the variant.
func (f LevelFilter) MatchLevel(l InventoryLevel) bool {
	if f.WarehouseID != uuid.Nil && l.WarehouseID != f.WarehouseID {
		return false
	}
	if f.BinID != uuid.Nil && l.BinID != f.BinID {
		return false
	}
	if f.VariantID != uuid.Nil && l.VariantID != f.VariantID {
		return false
	}
	if f.BelowReorder && !l.BelowReorderPoint() {
		return false
	}
	return true
}

// MatchTransaction reports whether t passes every field of f except Limit.
func (f TransactionFilter) MatchTransaction(t InventoryTransaction) bool {
	if t.Seq <= f.AfterSeq {
		return false
	}
	if f.OrganizationID != uuid.Nil && t.OrganizationID != f.OrganizationID {
		return false
	}
	if f.VariantID != uuid.Nil && t.VariantID != f.VariantID {
		return false
	}
	if f.BinID != uuid.Nil {
		from := t.BinFromID != nil && *t.BinFromID == f.BinID
		to := t.BinToID != nil && *t.BinToID == f.BinID
		if !from && !to {
			return false
		}
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.SourceType != "" && t.SourceType != f.SourceType {
		return false
	}
	if f.SourceID != "" && t.SourceID != f.SourceID {
		return false
	}
	if !f.From.IsZero() && t.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.OccurredAt.Before(f.To) {
		return false
	}
	return true
}

// MatchReservation reports whether r passes f.
func (f ReservationFilter) MatchReservation(r Reservation) bool {
	if f.SOLineID != uuid.Nil && r.SOLineID != f.SOLineID {
		return false
	}
	if f.VariantID != uuid.Nil && r.VariantID != f.VariantID {
		return false
	}
	if f.BinID != uuid.Nil && r.BinID != f.BinID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// Observer receives one callback per finished posting operation.
type Observer interface {
	ObservePosting(op, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObservePosting(string, string, time.Duration) {}
