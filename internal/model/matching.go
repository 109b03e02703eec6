package model

// MatchStatus is the traffic-light classification of a matching attempt
type MatchStatus string

const (
	MatchGreen  MatchStatus = "GREEN"
	MatchYellow MatchStatus = "YELLOW"
	MatchRed    MatchStatus = "RED"
)

// ExtractedFields are the structured fields the OCR provider pulled out of
// an invoice document. Amounts are in currency minor units.
type ExtractedFields struct {
	Vendor      string  `json:"vendor"`
	VendorTaxID string  `json:"vendor_tax_id"`
	InvoiceID   string  `json:"invoice_id"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Date        string  `json:"date"`
	Address     string  `json:"address"`
	Confidence  float64 `json:"confidence"`
}

// OpenItem is one open record fetched from the external ledger system
type OpenItem struct {
	ID        string `json:"id"`
	Vendor    string `json:"vendor"`
	TaxID     string `json:"tax_id"`
	Amount    int64  `json:"amount"`
	InvoiceID string `json:"invoice_id"`
	Currency  string `json:"currency"`
	Date      string `json:"date"`
}

// MatchResult classifies a document against the open ledger items.
// GREEN is an exact match, YELLOW a tolerance or fuzzy match, RED no match
// or a detected duplicate.
type MatchResult struct {
	Status     MatchStatus `json:"status"`
	MatchID    string      `json:"match_id,omitempty"`
	Confidence int         `json:"confidence"`
	Reason     string      `json:"reason,omitempty"`
}
