package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/core"
)

// sourceManual tags postings entered by hand in the shell.
const sourceManual = "Manual"

var errCancelled = errors.New("cancelled")

type prompter struct {
	reader *bufio.Reader
	out    io.Writer
}

// ask prints label and returns the trimmed answer. "cancel" aborts the wizard.
func (p *prompter) ask(label string) (string, error) {
	fmt.Fprintf(p.out, "  %s: ", label)
	raw, err := p.reader.ReadString('\n')
	raw = strings.TrimSpace(raw)
	if err != nil && raw == "" {
		return "", errCancelled
	}
	if strings.EqualFold(raw, "cancel") {
		return "", errCancelled
	}
	return raw, nil
}

func (p *prompter) id(label string) (uuid.UUID, error) {
	for {
		raw, err := p.ask(label)
		if err != nil {
			return uuid.Nil, err
		}
		id, err := uuid.Parse(raw)
		if err == nil {
			return id, nil
		}
		fmt.Fprintln(p.out, "  Invalid id.")
	}
}

// optionalID returns uuid.Nil for a blank answer.
func (p *prompter) optionalID(label string) (uuid.UUID, error) {
	for {
		raw, err := p.ask(label)
		if err != nil {
			return uuid.Nil, err
		}
		if raw == "" {
			return uuid.Nil, nil
		}
		id, err := uuid.Parse(raw)
		if err == nil {
			return id, nil
		}
		fmt.Fprintln(p.out, "  Invalid id.")
	}
}

func (p *prompter) quantity(label string, signed bool) (decimal.Decimal, error) {
	for {
		raw, err := p.ask(label)
		if err != nil {
			return decimal.Zero, err
		}
		q, err := decimal.NewFromString(raw)
		if err == nil && !q.IsZero() && (signed || q.IsPositive()) {
			return q, nil
		}
		fmt.Fprintln(p.out, "  Invalid quantity.")
	}
}

// source asks for a reference and defaults to a fresh id so the posting stays idempotent.
func (p *prompter) source() (core.SourceRef, error) {
	ref, err := p.ask("Reference (blank for a new one)")
	if err != nil {
		return core.SourceRef{}, err
	}
	if ref == "" {
		ref = uuid.NewString()
	}
	return core.SourceRef{Type: sourceManual, ID: ref}, nil
}

func (p *prompter) confirm() bool {
	raw, err := p.ask("Post this transaction? (y/n)")
	if err != nil {
		return false
	}
	raw = strings.ToLower(raw)
	return raw == "y" || raw == "yes"
}

// stockLine holds the answers every wizard collects.
type stockLine struct {
	source  core.SourceRef
	variant uuid.UUID
	uom     uuid.UUID
	note    string
}

func (p *prompter) common() (stockLine, error) {
	var l stockLine
	var err error
	if l.variant, err = p.id("Variant id"); err != nil {
		return l, err
	}
	if l.uom, err = p.optionalID("Unit id (blank for base unit)"); err != nil {
		return l, err
	}
	if l.source, err = p.source(); err != nil {
		return l, err
	}
	return l, nil
}

func receiveWizard(ctx context.Context, p *prompter, svc app.ApplicationService) error {
	fmt.Fprintln(p.out, "New receipt. Type 'cancel' at any prompt to abort.")
	l, err := p.common()
	if err != nil {
		return wizardErr(p, err)
	}
	bin, err := p.id("Bin id")
	if err != nil {
		return wizardErr(p, err)
	}
	qty, err := p.quantity("Quantity", false)
	if err != nil {
		return wizardErr(p, err)
	}
	if l.note, err = p.ask("Note (optional)"); err != nil {
		return wizardErr(p, err)
	}
	if !p.confirm() {
		return wizardErr(p, errCancelled)
	}
	res, err := svc.PostReceipt(ctx, app.ReceiptRequest{
		SourceRef: l.source, VariantID: l.variant, BinID: bin, UOMID: l.uom, Qty: qty,
		OccurredAt: time.Now().UTC(), Note: l.note,
	})
	if err != nil {
		return err
	}
	printTransaction(p.out, res.Transaction)
	return nil
}

func shipWizard(ctx context.Context, p *prompter, svc app.ApplicationService) error {
	fmt.Fprintln(p.out, "New shipment. Type 'cancel' at any prompt to abort.")
	l, err := p.common()
	if err != nil {
		return wizardErr(p, err)
	}
	bin, err := p.id("Bin id")
	if err != nil {
		return wizardErr(p, err)
	}
	qty, err := p.quantity("Quantity", false)
	if err != nil {
		return wizardErr(p, err)
	}
	soLine, err := p.optionalID("Sales order line id (optional)")
	if err != nil {
		return wizardErr(p, err)
	}
	if !p.confirm() {
		return wizardErr(p, errCancelled)
	}
	req := app.ShipmentRequest{
		SourceRef: l.source, VariantID: l.variant, BinID: bin, UOMID: l.uom, Qty: qty,
		OccurredAt: time.Now().UTC(),
	}
	if soLine != uuid.Nil {
		req.SOLineID = &soLine
	}
	res, err := svc.PostShipment(ctx, req)
	if err != nil {
		return err
	}
	printTransaction(p.out, res.Transaction)
	return nil
}

func transferWizard(ctx context.Context, p *prompter, svc app.ApplicationService) error {
	fmt.Fprintln(p.out, "New transfer. Type 'cancel' at any prompt to abort.")
	l, err := p.common()
	if err != nil {
		return wizardErr(p, err)
	}
	from, err := p.id("From bin id")
	if err != nil {
		return wizardErr(p, err)
	}
	to, err := p.id("To bin id")
	if err != nil {
		return wizardErr(p, err)
	}
	qty, err := p.quantity("Quantity", false)
	if err != nil {
		return wizardErr(p, err)
	}
	if !p.confirm() {
		return wizardErr(p, errCancelled)
	}
	res, err := svc.PostTransfer(ctx, app.TransferRequest{
		SourceRef: l.source, VariantID: l.variant, FromBinID: from, ToBinID: to, UOMID: l.uom, Qty: qty,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	printTransaction(p.out, res.Transaction)
	return nil
}

func adjustWizard(ctx context.Context, p *prompter, svc app.ApplicationService) error {
	fmt.Fprintln(p.out, "New adjustment. Negative quantities remove stock. Type 'cancel' to abort.")
	l, err := p.common()
	if err != nil {
		return wizardErr(p, err)
	}
	bin, err := p.id("Bin id")
	if err != nil {
		return wizardErr(p, err)
	}
	delta, err := p.quantity("Delta", true)
	if err != nil {
		return wizardErr(p, err)
	}
	if l.note, err = p.ask("Reason"); err != nil {
		return wizardErr(p, err)
	}
	if !p.confirm() {
		return wizardErr(p, errCancelled)
	}
	res, err := svc.PostAdjustment(ctx, app.AdjustmentRequest{
		SourceRef: l.source, VariantID: l.variant, BinID: bin, UOMID: l.uom, Delta: delta,
		OccurredAt: time.Now().UTC(), Note: l.note,
	})
	if err != nil {
		return err
	}
	printTransaction(p.out, res.Transaction)
	return nil
}

// wizardErr turns a cancelled wizard into a message instead of an error.
func wizardErr(p *prompter, err error) error {
	if errors.Is(err, errCancelled) {
		fmt.Fprintln(p.out, "Cancelled.")
		return nil
	}
	return err
}
