package matching

import (
	"context"
	"errors"
	"testing"

	"docflow/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	items []model.OpenItem
	err   error
	calls int
}

func (f *fakeLedger) GetOpenItems(ctx context.Context) ([]model.OpenItem, error) {
	f.calls++
	return f.items, f.err
}

func invoiceFields() model.ExtractedFields {
	return model.ExtractedFields{
		Vendor:      "Acme GmbH",
		VendorTaxID: "DE123456789",
		InvoiceID:   "INV-2024-001",
		Amount:      125000,
		Currency:    "EUR",
	}
}

func TestHardMatch(t *testing.T) {
	ledger := &fakeLedger{items: []model.OpenItem{
		{ID: "oi-1", TaxID: "DE123456789", Amount: 125000, InvoiceID: "INV-2024-001"},
	}}
	engine := NewEngine(NewMemoryIndex(), ledger)

	result := engine.FindMatch(context.Background(), invoiceFields(), "job-1")

	assert.Equal(t, model.MatchGreen, result.Status)
	assert.Equal(t, "oi-1", result.MatchID)
	assert.Equal(t, 100, result.Confidence)
}

func TestHardMatchTieBreaksOnSmallestID(t *testing.T) {
	ledger := &fakeLedger{items: []model.OpenItem{
		{ID: "oi-9", TaxID: "DE123456789", Amount: 125000},
		{ID: "oi-2", TaxID: "DE123456789", Amount: 125000},
		{ID: "oi-5", TaxID: "DE123456789", Amount: 125000},
	}}
	engine := NewEngine(NewMemoryIndex(), ledger)

	result := engine.FindMatch(context.Background(), invoiceFields(), "job-1")

	assert.Equal(t, model.MatchGreen, result.Status)
	assert.Equal(t, "oi-2", result.MatchID)
}

func TestHardMatchBeatsSoftCandidates(t *testing.T) {
	// A tolerance candidate earlier in the list must not shadow an exact
	// match later in the list.
	ledger := &fakeLedger{items: []model.OpenItem{
		{ID: "oi-1", TaxID: "DE123456789", Amount: 125003, InvoiceID: "INV-2024-001"},
		{ID: "oi-2", TaxID: "DE123456789", Amount: 125000, InvoiceID: "OTHER"},
	}}
	engine := NewEngine(NewMemoryIndex(), ledger)

	result := engine.FindMatch(context.Background(), invoiceFields(), "job-1")

	assert.Equal(t, model.MatchGreen, result.Status)
	assert.Equal(t, "oi-2", result.MatchID)
	assert.Equal(t, 100, result.Confidence)
}

func TestToleranceMatch(t *testing.T) {
	ledger := &fakeLedger{items: []model.OpenItem{
		{ID: "oi-1", TaxID: "DE123456789", Amount: 125005, InvoiceID: "UNRELATED"},
	}}
	engine := NewEngine(NewMemoryIndex(), ledger)

	result := engine.FindMatch(context.Background(), invoiceFields(), "job-1")

	assert.Equal(t, model.MatchYellow, result.Status)
	assert.Equal(t, "oi-1", result.MatchID)
	assert.Equal(t, 90, result.Confidence)
	assert.Equal(t, ReasonTolerance, result.Reason)
}

func TestToleranceBoundary(t *testing.T) {
	ledger := &fakeLedger{items: []model.OpenItem{
		{ID: "oi-1", TaxID: "DE123456789", Amount: 125006, InvoiceID: "UNRELATED"},
	}}
	engine := NewEngine(NewMemoryIndex(), ledger)

	result := engine.FindMatch(context.Background(), invoiceFields(), "job-1")

	assert.Equal(t, model.MatchRed, result.Status)
	assert.Equal(t, ReasonNoMatch, result.Reason)
}

func TestFuzzyInvoiceNumberMatch(t *testing.T) {
	// Amount far off, invoice number one character away.
	ledger := &fakeLedger{items: []model.OpenItem{
		{ID: "oi-1", TaxID: "DE123456789", Amount: 999999, InvoiceID: "INV-2024-0001"},
	}}
	engine := NewEngine(NewMemoryIndex(), ledger)

	result := engine.FindMatch(context.Background(), invoiceFields(), "job-1")

	assert.Equal(t, model.MatchYellow, result.Status)
	assert.Equal(t, "oi-1", result.MatchID)
	assert.GreaterOrEqual(t, result.Confidence, 80)
	assert.Equal(t, ReasonFuzzy, result.Reason)
}

func TestSoftMatchRequiresSameVendor(t *testing.T) {
	ledger := &fakeLedger{items: []model.OpenItem{
		{ID: "oi-1", TaxID: "FR999999999", Amount: 125000, InvoiceID: "INV-2024-001"},
	}}
	engine := NewEngine(NewMemoryIndex(), ledger)

	result := engine.FindMatch(context.Background(), invoiceFields(), "job-1")

	assert.Equal(t, model.MatchRed, result.Status)
	assert.Equal(t, ReasonNoMatch, result.Reason)
}

func TestDuplicateDetection(t *testing.T) {
	ledger := &fakeLedger{items: []model.OpenItem{
		{ID: "oi-1", TaxID: "DE123456789", Amount: 125000, InvoiceID: "INV-2024-001"},
	}}
	engine := NewEngine(NewMemoryIndex(), ledger)

	first := engine.FindMatch(context.Background(), invoiceFields(), "job-1")
	require.Equal(t, model.MatchGreen, first.Status)

	second := engine.FindMatch(context.Background(), invoiceFields(), "job-2")
	assert.Equal(t, model.MatchRed, second.Status)
	assert.Equal(t, ReasonDuplicate, second.Reason)

	// The duplicate path never reaches the ledger.
	assert.Equal(t, 1, ledger.calls)
}

func TestDuplicateCheckSkippedWithoutKeyFields(t *testing.T) {
	ledger := &fakeLedger{}
	engine := NewEngine(NewMemoryIndex(), ledger)

	fields := invoiceFields()
	fields.InvoiceID = ""

	first := engine.FindMatch(context.Background(), fields, "job-1")
	second := engine.FindMatch(context.Background(), fields, "job-2")

	assert.NotEqual(t, ReasonDuplicate, first.Reason)
	assert.NotEqual(t, ReasonDuplicate, second.Reason)
}

func TestLedgerOutageDegradesToNoMatch(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("ledger down")}
	engine := NewEngine(NewMemoryIndex(), ledger)

	result := engine.FindMatch(context.Background(), invoiceFields(), "job-1")

	assert.Equal(t, model.MatchRed, result.Status)
	assert.Equal(t, ReasonNoMatch, result.Reason)
}

func TestMemoryIndex(t *testing.T) {
	index := NewMemoryIndex()
	ctx := context.Background()

	seen, err := index.Seen(ctx, "DE123456789", "INV-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, index.Record(ctx, "DE123456789", "INV-1", "job-1"))

	seen, err = index.Seen(ctx, "DE123456789", "INV-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, _ = index.Seen(ctx, "DE123456789", "INV-2")
	assert.False(t, seen)
}
