package app

import "inventory-ledger/internal/core"

// LevelResult is returned by GetLevel.
type LevelResult struct {
	Level     core.InventoryLevel `json:"level"`
	Available string              `json:"available"`
}

// LevelListResult is returned by ListLevels.
type LevelListResult struct {
	Levels []core.InventoryLevel `json:"levels"`
	Count  int                   `json:"count"`
}

// TransactionListResult is returned by ListTransactions. NextAfterSeq is the
// cursor for the next page, zero when the page was empty.
type TransactionListResult struct {
	Transactions []core.InventoryTransaction `json:"transactions"`
	NextAfterSeq int64                       `json:"next_after_seq"`
}

// ReservationListResult is returned by ListReservations and CancelSOLine.
type ReservationListResult struct {
	Reservations []core.Reservation `json:"reservations"`
}

// PostingResult is returned by single-line posting operations.
type PostingResult struct {
	Transaction *core.InventoryTransaction `json:"transaction"`
}

// CountResult is returned by PostCount. Lines whose counted quantity matched
// on-hand produce no transaction.
type CountResult struct {
	Transactions []core.InventoryTransaction `json:"transactions"`
}

// ReservationResult is returned by Reserve and Release.
type ReservationResult struct {
	Reservation *core.Reservation `json:"reservation"`
}

// ImportResult is returned by ImportCountSheet.
type ImportResult struct {
	Lines int `json:"lines"`
}

// AuditResult is returned by Audit.
type AuditResult struct {
	Drift []core.Drift `json:"drift"`
	Clean bool         `json:"clean"`
}
