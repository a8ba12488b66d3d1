// Package graphstore talks to the graph store: it creates indexes and
// reports recently executed operations.
package graphstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sergeeey/TERAG111-sub002/pkg/models"
)

var (
	// ErrUnavailable is returned when no graph store is configured.
	ErrUnavailable = errors.New("graph store unavailable")

	// ErrInvalidIdentifier is returned for labels or properties that are
	// not plain identifiers.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Driver is the store surface the optimizer needs.
type Driver interface {
	// ApplyIndex creates an index on label.property. Creating an index
	// that already exists succeeds.
	ApplyIndex(ctx context.Context, label, property string) error

	ListRecentOperations(ctx context.Context) ([]models.OperationTiming, error)

	Close(ctx context.Context) error
}

// ValidIdentifier reports whether s can be used as a label or property.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// IndexStatement builds the idempotent index creation statement for
// label.property.
func IndexStatement(label, property string) (string, error) {
	if !ValidIdentifier(label) {
		return "", fmt.Errorf("label %q: %w", label, ErrInvalidIdentifier)
	}
	if !ValidIdentifier(property) {
		return "", fmt.Errorf("property %q: %w", property, ErrInvalidIdentifier)
	}

	name := models.NewSuggestion(label, property, "").IndexName()
	return fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s)",
		name, quote(label), quote(property)), nil
}

func quote(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// Unavailable is the driver used when no store is configured. Every
// apply fails with ErrUnavailable.
type Unavailable struct{}

func (Unavailable) ApplyIndex(ctx context.Context, label, property string) error {
	return fmt.Errorf("apply index %s.%s: %w", label, property, ErrUnavailable)
}

func (Unavailable) ListRecentOperations(ctx context.Context) ([]models.OperationTiming, error) {
	return nil, ErrUnavailable
}

func (Unavailable) Close(ctx context.Context) error {
	return nil
}
