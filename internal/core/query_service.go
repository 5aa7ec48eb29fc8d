package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// QueryService is the read side: current levels, the ledger and reservations.
type QueryService interface {
	GetLevel(ctx context.Context, variantID, binID uuid.UUID) (InventoryLevel, error)
	ListLevels(ctx context.Context, f LevelFilter) ([]InventoryLevel, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]InventoryTransaction, error)
	ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error)
}

type queryService struct {
	store LedgerStore
}

func NewQueryService(store LedgerStore) QueryService {
	return &queryService{store: store}
}

// GetLevel returns the level for (variant, bin). A pair that never saw a
// movement returns a zero level rather than ErrNotFound, as long as both the
// variant and the bin exist.
func (q *queryService) GetLevel(ctx context.Context, variantID, binID uuid.UUID) (InventoryLevel, error) {
	key := LevelKey{VariantID: variantID, BinID: binID}
	lvl, ok, err := q.store.GetLevel(ctx, key)
	if err != nil {
		return InventoryLevel{}, fmt.Errorf("failed to get level: %w", err)
	}
	if ok {
		return lvl, nil
	}
	if _, err := q.store.Variant(ctx, variantID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return InventoryLevel{}, newError(ErrNotFound, "get_level", "variant %s", variantID)
		}
		return InventoryLevel{}, fmt.Errorf("failed to load variant: %w", err)
	}
	bin, err := q.store.Bin(ctx, binID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return InventoryLevel{}, newError(ErrNotFound, "get_level", "bin %s", binID)
		}
		return InventoryLevel{}, fmt.Errorf("failed to load bin: %w", err)
	}
	return NewLevel(LevelRef{Key: key, WarehouseID: bin.WarehouseID}), nil
}

func (q *queryService) ListLevels(ctx context.Context, f LevelFilter) ([]InventoryLevel, error) {
	if f.Offset < 0 {
		return nil, newError(ErrValidation, "list_levels", "offset must not be negative")
	}
	f.Limit = pageSize(f.Limit)
	levels, err := q.store.ListLevels(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list levels: %w", err)
	}
	return levels, nil
}

func (q *queryService) ListTransactions(ctx context.Context, f TransactionFilter) ([]InventoryTransaction, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, newError(ErrValidation, "list_transactions", "range end is before range start")
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, newError(ErrValidation, "list_transactions", "unknown transaction type %q", f.Type)
	}
	f.Limit = pageSize(f.Limit)
	txns, err := q.store.ListTransactions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}

func (q *queryService) ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error) {
	f.Limit = pageSize(f.Limit)
	rs, err := q.store.ListReservations(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return rs, nil
}

func pageSize(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > MaxPageSize:
		return MaxPageSize
	}
	return n
}
