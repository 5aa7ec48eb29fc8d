package repl

import (
	"fmt"
	"io"
	"strings"

	"inventory-ledger/internal/core"
)

func printTransaction(out io.Writer, t *core.InventoryTransaction) {
	fmt.Fprintln(out, strings.Repeat("=", 62))
	fmt.Fprintf(out, "  POSTED %s  seq %d\n", t.Type, t.Seq)
	fmt.Fprintln(out, strings.Repeat("-", 62))
	fmt.Fprintf(out, "  Variant : %s\n", t.VariantID)
	if t.BinFromID != nil {
		fmt.Fprintf(out, "  From    : %s\n", *t.BinFromID)
	}
	if t.BinToID != nil {
		fmt.Fprintf(out, "  To      : %s\n", *t.BinToID)
	}
	fmt.Fprintf(out, "  Qty     : %s (base units)\n", t.Qty)
	fmt.Fprintf(out, "  Source  : %s %s\n", t.SourceType, t.SourceID)
	if t.Note != "" {
		fmt.Fprintf(out, "  Note    : %s\n", t.Note)
	}
	fmt.Fprintln(out, strings.Repeat("=", 62))
}
