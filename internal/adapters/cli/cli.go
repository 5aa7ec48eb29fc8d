package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/core"
	"inventory-ledger/internal/documents"
)

// ErrUsage is returned for unknown commands and malformed arguments.
var ErrUsage = errors.New("usage")

// ErrDrift is returned by the audit command when levels disagree with the ledger.
var ErrDrift = errors.New("ledger drift detected")

const usage = `Available commands:
  level <variant-id> <bin-id>
  levels [--warehouse ID] [--bin ID] [--variant ID] [--below-reorder]
  ledger [--variant ID] [--bin ID] [--type TYPE] [--source-type T --source-id ID] [--after SEQ] [--limit N]
  reservations [--so-line ID] [--status STATUS]
  audit
  export-levels <file.xlsx> [--warehouse ID]
  export-ledger <file.xlsx> [--variant ID]
  count-sheet <warehouse-id> <file.xlsx>
  import-count <count-id> <file.xlsx>
  post-document <goods_receipt|shipment|stock_transfer|stock_count> <id>
  cancel-so-line <so-line-id>`

// Run executes one CLI command. args[0] is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: no command given\n%s", ErrUsage, usage)
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "level":
		ids, err := uuidArgs(rest, "variant-id", "bin-id")
		if err != nil {
			return err
		}
		res, err := svc.GetLevel(ctx, ids[0], ids[1])
		if err != nil {
			return err
		}
		printLevels(out, []core.InventoryLevel{res.Level})

	case "levels":
		fs := newFlagSet(cmd)
		warehouse, bin, variant := fs.String("warehouse", "", ""), fs.String("bin", "", ""), fs.String("variant", "", "")
		below := fs.Bool("below-reorder", false, "")
		limit := fs.Int("limit", 0, "")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		f := core.LevelFilter{BelowReorder: *below, Limit: *limit}
		if err := parseOptional(map[string]*uuid.UUID{
			"warehouse": &f.WarehouseID, "bin": &f.BinID, "variant": &f.VariantID,
		}, map[string]string{"warehouse": *warehouse, "bin": *bin, "variant": *variant}); err != nil {
			return err
		}
		res, err := svc.ListLevels(ctx, f)
		if err != nil {
			return err
		}
		printLevels(out, res.Levels)

	case "ledger":
		f, _, err := ledgerFilter(cmd, rest)
		if err != nil {
			return err
		}
		res, err := svc.ListTransactions(ctx, f)
		if err != nil {
			return err
		}
		printLedger(out, res.Transactions)

	case "reservations":
		fs := newFlagSet(cmd)
		soLine := fs.String("so-line", "", "")
		status := fs.String("status", "", "")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		f := core.ReservationFilter{Status: core.ReservationStatus(strings.ToUpper(*status))}
		if err := parseOptional(map[string]*uuid.UUID{"so-line": &f.SOLineID}, map[string]string{"so-line": *soLine}); err != nil {
			return err
		}
		res, err := svc.ListReservations(ctx, f)
		if err != nil {
			return err
		}
		return printJSON(out, res.Reservations)

	case "audit":
		res, err := svc.Audit(ctx)
		if err != nil {
			return err
		}
		if res.Clean {
			fmt.Fprintln(out, "Ledger and levels agree.")
			return nil
		}
		for _, d := range res.Drift {
			fmt.Fprintf(out, "  %s  stored on_hand=%s allocated=%s  ledger on_hand=%s allocated=%s\n",
				d.Key, d.Stored.OnHand, d.Stored.Allocated, d.Replayed.OnHand, d.Replayed.Allocated)
		}
		return fmt.Errorf("%w: %d levels", ErrDrift, len(res.Drift))

	case "export-levels":
		fs := newFlagSet(cmd)
		warehouse := fs.String("warehouse", "", "")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("%w: export-levels <file.xlsx>", ErrUsage)
		}
		var f core.LevelFilter
		if err := parseOptional(map[string]*uuid.UUID{"warehouse": &f.WarehouseID}, map[string]string{"warehouse": *warehouse}); err != nil {
			return err
		}
		return writeFile(fs.Arg(0), out, func(w io.Writer) error { return svc.ExportLevels(ctx, w, f) })

	case "export-ledger":
		f, pos, err := ledgerFilter(cmd, rest)
		if err != nil {
			return err
		}
		if len(pos) != 1 {
			return fmt.Errorf("%w: export-ledger <file.xlsx>", ErrUsage)
		}
		return writeFile(pos[0], out, func(w io.Writer) error { return svc.ExportLedger(ctx, w, f) })

	case "count-sheet":
		if len(rest) != 2 {
			return fmt.Errorf("%w: count-sheet <warehouse-id> <file.xlsx>", ErrUsage)
		}
		ids, err := uuidArgs(rest[:1], "warehouse-id")
		if err != nil {
			return err
		}
		return writeFile(rest[1], out, func(w io.Writer) error { return svc.ExportCountSheet(ctx, w, ids[0]) })

	case "import-count":
		if len(rest) != 2 {
			return fmt.Errorf("%w: import-count <count-id> <file.xlsx>", ErrUsage)
		}
		ids, err := uuidArgs(rest[:1], "count-id")
		if err != nil {
			return err
		}
		f, err := os.Open(rest[1])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", rest[1], err)
		}
		defer f.Close()
		res, err := svc.ImportCountSheet(ctx, ids[0], f)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Imported %d count lines.\n", res.Lines)

	case "post-document":
		if len(rest) != 2 {
			return fmt.Errorf("%w: post-document <kind> <id>", ErrUsage)
		}
		ids, err := uuidArgs(rest[1:], "id")
		if err != nil {
			return err
		}
		res, err := svc.PostDocument(ctx, documents.Kind(rest[0]), ids[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Posted %d lines, skipped %d already posted.\n", len(res.Posted), len(res.Skipped))
		printLedger(out, res.Posted)

	case "cancel-so-line":
		ids, err := uuidArgs(rest, "so-line-id")
		if err != nil {
			return err
		}
		res, err := svc.CancelSOLine(ctx, ids[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Released %d reservations.\n", len(res.Reservations))

	default:
		return fmt.Errorf("%w: unknown command %q\n%s", ErrUsage, cmd, usage)
	}
	return nil
}

// ── Arguments ────────────────────────────────────────────────────────────────

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// uuidArgs parses exactly len(names) positional UUIDs.
func uuidArgs(args []string, names ...string) ([]uuid.UUID, error) {
	if len(args) != len(names) {
		return nil, fmt.Errorf("%w: expected <%s>", ErrUsage, strings.Join(names, "> <"))
	}
	ids := make([]uuid.UUID, len(args))
	for i, a := range args {
		id, err := uuid.Parse(a)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be a UUID, got %q", ErrUsage, names[i], a)
		}
		ids[i] = id
	}
	return ids, nil
}

// parseOptional parses the non-empty values into their targets.
func parseOptional(targets map[string]*uuid.UUID, values map[string]string) error {
	for name, v := range values {
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return fmt.Errorf("%w: --%s must be a UUID, got %q", ErrUsage, name, v)
		}
		*targets[name] = id
	}
	return nil
}

// ledgerFilter parses the ledger flags and returns the remaining positional
// arguments.
func ledgerFilter(cmd string, args []string) (core.TransactionFilter, []string, error) {
	fs := newFlagSet(cmd)
	variant, bin := fs.String("variant", "", ""), fs.String("bin", "", "")
	typ := fs.String("type", "", "")
	sourceType, sourceID := fs.String("source-type", "", ""), fs.String("source-id", "", "")
	after := fs.Int64("after", 0, "")
	limit := fs.Int("limit", 0, "")
	if err := fs.Parse(args); err != nil {
		return core.TransactionFilter{}, nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	f := core.TransactionFilter{
		Type:       core.TransactionType(strings.ToUpper(*typ)),
		SourceType: *sourceType,
		SourceID:   *sourceID,
		AfterSeq:   *after,
		Limit:      *limit,
	}
	if f.Type != "" && !f.Type.Valid() {
		return f, nil, fmt.Errorf("%w: unknown transaction type %q", ErrUsage, *typ)
	}
	if err := parseOptional(map[string]*uuid.UUID{"variant": &f.VariantID, "bin": &f.BinID},
		map[string]string{"variant": *variant, "bin": *bin}); err != nil {
		return f, nil, err
	}
	return f, fs.Args(), nil
}

// writeFile renders into path, removing the partial file on failure.
func writeFile(path string, out io.Writer, render func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := render(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(out, "Wrote %s\n", path)
	return nil
}

// ── Output ───────────────────────────────────────────────────────────────────

func printLevels(out io.Writer, levels []core.InventoryLevel) {
	fmt.Fprintln(out, strings.Repeat("=", 100))
	fmt.Fprintf(out, "  %-36s %-36s %10s %10s %10s\n", "VARIANT", "BIN", "ON HAND", "ALLOCATED", "AVAILABLE")
	fmt.Fprintln(out, strings.Repeat("-", 100))
	for _, l := range levels {
		flag := ""
		if l.BelowReorderPoint() {
			flag = "  (reorder)"
		}
		fmt.Fprintf(out, "  %-36s %-36s %10s %10s %10s%s\n",
			l.VariantID, l.BinID, l.OnHand.String(), l.Allocated.String(), l.Available().String(), flag)
	}
	fmt.Fprintln(out, strings.Repeat("=", 100))
}

func printLedger(out io.Writer, txns []core.InventoryTransaction) {
	for _, t := range txns {
		from, to := "-", "-"
		if t.BinFromID != nil {
			from = t.BinFromID.String()
		}
		if t.BinToID != nil {
			to = t.BinToID.String()
		}
		fmt.Fprintf(out, "  %6d  %s  %-9s %10s  %s -> %s  %s/%s\n",
			t.Seq, t.OccurredAt.UTC().Format("2006-01-02 15:04:05"), t.Type, t.Qty.String(), from, to, t.SourceType, t.SourceID)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
