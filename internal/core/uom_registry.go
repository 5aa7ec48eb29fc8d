package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FactorCache is an optional read-through cache for conversion factors.
// Implementations must treat every error as a miss from the caller's side.
type FactorCache interface {
	GetFactor(ctx context.Context, orgID, fromUOM, toUOM uuid.UUID) (decimal.Decimal, bool, error)
	SetFactor(ctx context.Context, c UOMConversion) error
	Invalidate(ctx context.Context, orgID, fromUOM, toUOM uuid.UUID) error
}

// UoMRegistry converts quantities between units of one organization using
// directly stored factors only. No chaining, no inversion.
type UoMRegistry interface {
	Convert(ctx context.Context, orgID uuid.UUID, qty decimal.Decimal, fromUOM, toUOM uuid.UUID) (decimal.Decimal, error)
	UpsertConversion(ctx context.Context, c UOMConversion) error
}

type uomRegistry struct {
	master MasterData
	cache  FactorCache
	log    *slog.Logger
}

// NewUoMRegistry constructs a registry over master. cache may be nil.
func NewUoMRegistry(master MasterData, cache FactorCache, log *slog.Logger) UoMRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &uomRegistry{master: master, cache: cache, log: log}
}

// Convert returns qty * factor(from->to). The result must fit QtyScale
// fractional digits, otherwise ErrValidation.
func (r *uomRegistry) Convert(ctx context.Context, orgID uuid.UUID, qty decimal.Decimal, fromUOM, toUOM uuid.UUID) (decimal.Decimal, error) {
	if fromUOM == toUOM {
		return qty, nil
	}
	factor, err := r.factor(ctx, orgID, fromUOM, toUOM)
	if err != nil {
		return decimal.Zero, err
	}
	out := qty.Mul(factor)
	if !out.Equal(out.Truncate(QtyScale)) {
		return decimal.Zero, newError(ErrValidation, "convert",
			"%s converted with factor %s needs more than %d decimal places", qty, factor, QtyScale)
	}
	return out.Truncate(QtyScale), nil
}

func (r *uomRegistry) factor(ctx context.Context, orgID, fromUOM, toUOM uuid.UUID) (decimal.Decimal, error) {
	if r.cache != nil {
		f, ok, err := r.cache.GetFactor(ctx, orgID, fromUOM, toUOM)
		if err != nil {
			r.log.Warn("uom cache read failed", "error", err)
		} else if ok {
			return f, nil
		}
	}
	c, err := r.master.Conversion(ctx, orgID, fromUOM, toUOM)
	if err != nil {
		if errors.Is(err, ErrConversionNotFound) {
			return decimal.Zero, newError(ErrConversionNotFound, "convert",
				"no conversion from %s to %s in organization %s", fromUOM, toUOM, orgID)
		}
		return decimal.Zero, fmt.Errorf("failed to load uom conversion: %w", err)
	}
	if r.cache != nil {
		if err := r.cache.SetFactor(ctx, c); err != nil {
			r.log.Warn("uom cache write failed", "error", err)
		}
	}
	return c.Factor, nil
}

// UpsertConversion validates and stores a factor, then drops any cached copy.
func (r *uomRegistry) UpsertConversion(ctx context.Context, c UOMConversion) error {
	if c.OrganizationID == uuid.Nil || c.FromUOMID == uuid.Nil || c.ToUOMID == uuid.Nil {
		return newError(ErrValidation, "upsert_conversion", "organization and both units are required")
	}
	if c.FromUOMID == c.ToUOMID {
		return newError(ErrValidation, "upsert_conversion", "from and to units must differ")
	}
	if !c.Factor.IsPositive() {
		return newError(ErrValidation, "upsert_conversion", "factor must be positive, got %s", c.Factor)
	}
	if !c.Factor.Equal(c.Factor.Truncate(FactorScale)) {
		return newError(ErrValidation, "upsert_conversion", "factor %s exceeds %d decimal places", c.Factor, FactorScale)
	}
	for _, id := range []uuid.UUID{c.FromUOMID, c.ToUOMID} {
		u, err := r.master.UnitOfMeasure(ctx, id)
		if err != nil {
			return wrapError("upsert_conversion", SourceRef{}, err)
		}
		if u.OrganizationID != c.OrganizationID {
			return newError(ErrValidation, "upsert_conversion", "unit %s belongs to another organization", u.Abbreviation)
		}
	}
	if err := r.master.UpsertConversion(ctx, c); err != nil {
		return fmt.Errorf("failed to store uom conversion: %w", err)
	}
	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, c.OrganizationID, c.FromUOMID, c.ToUOMID); err != nil {
			r.log.Warn("uom cache invalidate failed", "error", err)
		}
	}
	return nil
}
