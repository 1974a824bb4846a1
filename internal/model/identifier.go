package model

import (
	"fmt"
	"strings"
	"time"
)

// IdentifierKind is a financial identifier scheme
type IdentifierKind string

const (
	KindISIN IdentifierKind = "ISIN" // ISO 6166 security identifier
	KindLEI  IdentifierKind = "LEI"  // ISO 17442 legal entity identifier
	KindCIN  IdentifierKind = "CIN"  // Indian corporate identity number
	KindSEBI IdentifierKind = "SEBI" // SEBI intermediary registration number
)

// ParseIdentifierKind converts a string into an IdentifierKind
func ParseIdentifierKind(s string) (IdentifierKind, error) {
	switch IdentifierKind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindISIN:
		return KindISIN, nil
	case KindLEI:
		return KindLEI, nil
	case KindCIN:
		return KindCIN, nil
	case KindSEBI, "SEBI-ID":
		return KindSEBI, nil
	default:
		return "", fmt.Errorf("unknown identifier kind: %s (supported: ISIN, LEI, CIN, SEBI)", s)
	}
}

// RegistryMatch is the outcome of resolving an identifier against a registry
type RegistryMatch string

const (
	MatchFound     RegistryMatch = "found"
	MatchNotFound  RegistryMatch = "not-found"
	MatchAmbiguous RegistryMatch = "ambiguous"
	MatchUnknown   RegistryMatch = "unknown" // Registry unavailable after retries
	MatchSkipped   RegistryMatch = "skipped" // Checksum failed, no lookup attempted
)

// RegistryRecord is an entity record held by a regulator or exchange registry
type RegistryRecord struct {
	EntityID  string            `json:"entity_id" yaml:"entity_id"`
	Name      string            `json:"name" yaml:"name"`
	Kind      IdentifierKind    `json:"kind" yaml:"kind"`
	Value     string            `json:"value" yaml:"value"`
	Status    string            `json:"status,omitempty" yaml:"status,omitempty"`
	Registry  string            `json:"registry,omitempty" yaml:"registry,omitempty"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	Extra     map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Identifier is a validated identifier. Derived, cached by (Kind, Value).
type Identifier struct {
	Kind          IdentifierKind   `json:"kind"`
	Raw           string           `json:"raw_value"`
	Value         string           `json:"value"` // Normalized form
	Valid         bool             `json:"valid"` // Checksum/format pass
	Reason        string           `json:"reason,omitempty"`
	RegistryMatch RegistryMatch    `json:"registry_match"`
	Record        *RegistryRecord  `json:"record,omitempty"`
	Candidates    []RegistryRecord `json:"candidates,omitempty"`
	CheckedAt     time.Time        `json:"checked_at"`
}

// EntityID returns the resolved entity id, or the identifier value when unresolved
func (i Identifier) EntityID() string {
	if i.Record != nil && i.Record.EntityID != "" {
		return i.Record.EntityID
	}
	return i.Value
}

// Usable reports whether claims about this identifier can be cross-checked
func (i Identifier) Usable() bool {
	return i.Valid && i.RegistryMatch == MatchFound
}

// IdentifierMention is an identifier string found in extracted text, before validation
type IdentifierMention struct {
	Kind IdentifierKind `json:"kind"`
	Raw  string         `json:"raw_value"`
	Span Span           `json:"span"`
}
