package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the posting engine matches exactly one
// of these with errors.Is, or none when the failure is internal (storage down,
// context cancelled).
var (
	ErrValidation         = errors.New("validation failed")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrOverAllocation     = errors.New("over allocation")
	ErrLockTimeout        = errors.New("lock timeout")
	ErrConversionNotFound = errors.New("uom conversion not found")
	ErrAlreadyPosted      = errors.New("source already posted")
	ErrNotFound           = errors.New("not found")
	ErrReservationClosed  = errors.New("reservation closed")
)

var errorKinds = []error{
	ErrValidation,
	ErrInsufficientStock,
	ErrOverAllocation,
	ErrLockTimeout,
	ErrConversionNotFound,
	ErrAlreadyPosted,
	ErrNotFound,
	ErrReservationClosed,
}

// SourceRef identifies the document line a posting originates from.
type SourceRef struct {
	Type string `json:"source_type"`
	ID   string `json:"source_id"`
}

func (s SourceRef) IsZero() bool { return s.Type == "" && s.ID == "" }

func (s SourceRef) String() string { return s.Type + ":" + s.ID }

// PostingError carries the failed operation, its source and a kind sentinel.
type PostingError struct {
	Kind   error
	Op     string
	Source SourceRef
	Msg    string
	Err    error
}

func (e *PostingError) Error() string {
	msg := e.Op
	if !e.Source.IsZero() {
		msg += " " + e.Source.String()
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	} else if e.Kind != nil && e.Msg == "" {
		msg += ": " + e.Kind.Error()
	}
	return msg
}

func (e *PostingError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(kind error, op, format string, args ...any) *PostingError {
	return &PostingError{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the sentinel matched by err, or nil.
func KindOf(err error) error {
	for _, k := range errorKinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsRetriable reports whether the caller may retry the same request unchanged.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// Outcome returns a short label for err, used for metrics and logs.
func Outcome(err error) string {
	switch KindOf(err) {
	case nil:
		if err == nil {
			return "ok"
		}
		return "internal"
	case ErrValidation:
		return "validation"
	case ErrInsufficientStock:
		return "insufficient_stock"
	case ErrOverAllocation:
		return "over_allocation"
	case ErrLockTimeout:
		return "lock_timeout"
	case ErrConversionNotFound:
		return "conversion_not_found"
	case ErrAlreadyPosted:
		return "already_posted"
	case ErrNotFound:
		return "not_found"
	case ErrReservationClosed:
		return "reservation_closed"
	}
	return "internal"
}

// wrapError attaches op and source to err unless it already is a PostingError.
func wrapError(op string, src SourceRef, err error) error {
	if err == nil {
		return nil
	}
	var pe *PostingError
	if errors.As(err, &pe) {
		if pe.Op == "" {
			pe.Op = op
		}
		if pe.Source.IsZero() {
			pe.Source = src
		}
		return pe
	}
	return &PostingError{Kind: KindOf(err), Op: op, Source: src, Err: err}
}
