package matching

import (
	"context"

	"docflow/internal/model"

	"github.com/agext/levenshtein"
	"github.com/rs/zerolog/log"
)

const (
	// amountTolerance is the soft-match window in currency minor units
	amountTolerance = 5
	// similarityThreshold is the minimum invoice-id similarity (0-100)
	// for a fuzzy soft match
	similarityThreshold = 80
)

// Match reasons exposed to operators
const (
	ReasonDuplicate = "Duplicate invoice detected"
	ReasonTolerance = "Amount mismatch within tolerance"
	ReasonFuzzy     = "Fuzzy match on invoice number"
	ReasonNoMatch   = "No matching open item found"
)

// LedgerClient fetches open items from the external ledger system
type LedgerClient interface {
	GetOpenItems(ctx context.Context) ([]model.OpenItem, error)
}

// DuplicateIndex answers whether a (vendor tax id, invoice id) pair has
// already been processed, and records new pairs.
type DuplicateIndex interface {
	Seen(ctx context.Context, vendorTaxID, invoiceID string) (bool, error)
	Record(ctx context.Context, vendorTaxID, invoiceID, ref string) error
}

// Engine classifies extracted invoice fields against open ledger records.
type Engine struct {
	index  DuplicateIndex
	ledger LedgerClient
}

func NewEngine(index DuplicateIndex, ledger LedgerClient) *Engine {
	return &Engine{
		index:  index,
		ledger: ledger,
	}
}

// FindMatch classifies the document. The duplicate check runs before any
// ledger call so repeated invoices never cost a network round trip. After a
// non-duplicate evaluation the pair is recorded, so a second call with the
// same invoice comes back RED.
//
// When several candidates match tax id and amount exactly, the one with the
// lexicographically smallest id wins, keeping the result independent of
// ledger list order.
func (e *Engine) FindMatch(ctx context.Context, fields model.ExtractedFields, ref string) model.MatchResult {
	if fields.VendorTaxID != "" && fields.InvoiceID != "" {
		seen, err := e.index.Seen(ctx, fields.VendorTaxID, fields.InvoiceID)
		if err != nil {
			log.Warn().Err(err).
				Str("vendorTaxId", fields.VendorTaxID).
				Str("invoiceId", fields.InvoiceID).
				Msg("Duplicate index lookup failed, continuing without it")
		} else if seen {
			log.Info().
				Str("vendorTaxId", fields.VendorTaxID).
				Str("invoiceId", fields.InvoiceID).
				Msg("Duplicate invoice detected")
			return model.MatchResult{Status: model.MatchRed, Reason: ReasonDuplicate}
		}
	}

	result := e.classify(ctx, fields)

	if fields.VendorTaxID != "" && fields.InvoiceID != "" {
		if err := e.index.Record(ctx, fields.VendorTaxID, fields.InvoiceID, ref); err != nil {
			log.Warn().Err(err).
				Str("vendorTaxId", fields.VendorTaxID).
				Str("invoiceId", fields.InvoiceID).
				Msg("Failed to record invoice in duplicate index")
		}
	}

	return result
}

func (e *Engine) classify(ctx context.Context, fields model.ExtractedFields) model.MatchResult {
	items, err := e.ledger.GetOpenItems(ctx)
	if err != nil {
		// A ledger outage is degraded service, not a pipeline failure.
		log.Warn().Err(err).Msg("Failed to fetch open ledger items")
		items = nil
	}

	// Hard match: exact tax id and amount. Smallest candidate id wins.
	var hard *model.OpenItem
	for i := range items {
		item := &items[i]
		if item.TaxID == fields.VendorTaxID && item.Amount == fields.Amount {
			if hard == nil || item.ID < hard.ID {
				hard = item
			}
		}
	}
	if hard != nil {
		return model.MatchResult{
			Status:     model.MatchGreen,
			MatchID:    hard.ID,
			Confidence: 100,
		}
	}

	// Soft match: same vendor, amount within tolerance or invoice number
	// close enough. Candidate list order decides among soft matches.
	for _, item := range items {
		if item.TaxID != fields.VendorTaxID {
			continue
		}

		diff := item.Amount - fields.Amount
		if diff < 0 {
			diff = -diff
		}
		if diff <= amountTolerance {
			return model.MatchResult{
				Status:     model.MatchYellow,
				MatchID:    item.ID,
				Confidence: 90,
				Reason:     ReasonTolerance,
			}
		}

		score := int(levenshtein.Similarity(item.InvoiceID, fields.InvoiceID, nil) * 100)
		if score >= similarityThreshold {
			return model.MatchResult{
				Status:     model.MatchYellow,
				MatchID:    item.ID,
				Confidence: score,
				Reason:     ReasonFuzzy,
			}
		}
	}

	return model.MatchResult{Status: model.MatchRed, Reason: ReasonNoMatch}
}
