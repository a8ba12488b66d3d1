package models

import (
	"strings"
	"time"
)

// Suggestion is a candidate index on a single label/property pair.
type Suggestion struct {
	CanonicalKey   string `json:"canonical_key"`
	TargetLabel    string `json:"target_label"`
	TargetProperty string `json:"target_property"`
	Rationale      string `json:"rationale"`
	Applied        bool   `json:"applied"`
}

// NewSuggestion builds a suggestion whose canonical key is derived from the
// label and property.
func NewSuggestion(label, property, rationale string) Suggestion {
	return Suggestion{
		CanonicalKey:   CanonicalKey(label, property),
		TargetLabel:    label,
		TargetProperty: property,
		Rationale:      rationale,
	}
}

// CanonicalKey returns the dedup key for a label/property pair.
func CanonicalKey(label, property string) string {
	return label + "." + property
}

// IndexName returns the store-side index name for the suggestion.
func (s Suggestion) IndexName() string {
	return "idx_" + strings.ToLower(s.TargetLabel) + "_" + strings.ToLower(s.TargetProperty)
}

// LedgerEntry records a canonical key whose index has been created.
type LedgerEntry struct {
	CanonicalKey   string    `json:"canonical_key"`
	TargetLabel    string    `json:"target_label"`
	TargetProperty string    `json:"target_property"`
	Rationale      string    `json:"rationale"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewLedgerEntry converts an applied suggestion into a ledger entry.
func NewLedgerEntry(s Suggestion, at time.Time) LedgerEntry {
	return LedgerEntry{
		CanonicalKey:   s.CanonicalKey,
		TargetLabel:    s.TargetLabel,
		TargetProperty: s.TargetProperty,
		Rationale:      s.Rationale,
		CreatedAt:      at,
	}
}
