package scanning

import "errors"

// Item confidence levels. An item is low confidence when a required field
// could not be unambiguously parsed; such items are surfaced for manual
// correction, never dropped.
const (
	ConfidenceHigh = "high"
	ConfidenceLow  = "low"
)

var (
	// ErrUpstreamUnavailable indicates the vision provider failed or timed
	// out. It may be transient; the scanner retries once before surfacing it.
	ErrUpstreamUnavailable = errors.New("vision provider unavailable")

	// ErrUnparsableResponse indicates the model output could not be coerced
	// into the item schema even after the repair pass. Retrying the same
	// input would fail identically, so callers must not.
	ErrUnparsableResponse = errors.New("unparsable model response")
)

// Item is a single extracted BOM line item
type Item struct {
	StockNumber string `json:"nsn"`
	Description string `json:"description"`
	Quantity    int    `json:"qty"`
	UnitOfIssue string `json:"unit_of_issue"`
	Confidence  string `json:"confidence"`
	Notes       string `json:"notes,omitempty"`
}

// Result contains the extracted items in source-document order plus warnings
// meant for direct display during manual review.
type Result struct {
	Items    []Item   `json:"items"`
	Warnings []string `json:"warnings"`
}

// Scanner defines the interface for BOM extraction operations
type Scanner interface {
	// ScanBOM analyzes a BOM image/PDF and extracts its line items
	ScanBOM(documentData []byte, contentType string) (*Result, error)
	// Close closes the scanner and releases resources
	Close() error
}
