package sequence

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"
)

// Request asks for the next human id of an entity type.
type Request struct {
	OrganizationID int64
	EntityType     string
	// Override sets the counter instead of incrementing it.
	Override *int64
	// PartialOf links a partial document to its parent order.
	PartialOf *uuid.UUID
	// RevisionOf is the id being revised. No counter is consumed.
	RevisionOf string
}

// Store keeps one counter per organization and entity type.
type Store interface {
	// NextCounter increments (or sets to override) and returns the counter with the tenant prefix.
	NextCounter(ctx context.Context, orgID int64, entityType string, override *int64) (int64, string, error)
	CountPartials(ctx context.Context, orgID int64, entityType string, parent uuid.UUID) (int, error)
	SetPrefix(ctx context.Context, orgID int64, entityType, prefix string) error
}

var (
	// ErrInvalidRequest indicates a request without organization or entity type.
	ErrInvalidRequest = errors.New("sequence: organization and entity type required")
	// ErrInvalidOverride indicates a non positive override.
	ErrInvalidOverride = errors.New("sequence: override must be positive")
)

// Generator issues sequential human ids.
type Generator struct {
	store         Store
	defaultPrefix func(entityType string) string
}

// Option customises Generator.
type Option func(*Generator)

// WithDefaultPrefix supplies the prefix used when the organization chose none.
func WithDefaultPrefix(fn func(entityType string) string) Option {
	return func(g *Generator) {
		if fn != nil {
			g.defaultPrefix = fn
		}
	}
}

// NewGenerator constructs a Generator.
func NewGenerator(store Store, opts ...Option) *Generator {
	g := &Generator{store: store, defaultPrefix: func(string) string { return "" }}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NextSequentialID returns the next id for req.
func (g *Generator) NextSequentialID(ctx context.Context, req Request) (string, error) {
	if req.RevisionOf != "" {
		return ReviseID(req.RevisionOf), nil
	}
	if req.OrganizationID == 0 || req.EntityType == "" {
		return "", ErrInvalidRequest
	}
	if req.Override != nil && *req.Override <= 0 {
		return "", ErrInvalidOverride
	}
	counter, prefix, err := g.store.NextCounter(ctx, req.OrganizationID, req.EntityType, req.Override)
	if err != nil {
		return "", fmt.Errorf("sequence: next counter: %w", err)
	}
	if prefix == "" {
		prefix = g.defaultPrefix(req.EntityType)
	}
	id := FormatID(prefix, counter)
	if req.PartialOf != nil {
		siblings, err := g.store.CountPartials(ctx, req.OrganizationID, req.EntityType, *req.PartialOf)
		if err != nil {
			return "", fmt.Errorf("sequence: count partials: %w", err)
		}
		id = PartialID(id, siblings+1)
	}
	return id, nil
}

// SetPrefix stores the organization's prefix for entityType.
func (g *Generator) SetPrefix(ctx context.Context, orgID int64, entityType, prefix string) error {
	if orgID == 0 || entityType == "" {
		return ErrInvalidRequest
	}
	return g.store.SetPrefix(ctx, orgID, entityType, prefix)
}

// FormatID zero pads counter to three digits after prefix.
func FormatID(prefix string, counter int64) string {
	return fmt.Sprintf("%s%03d", prefix, counter)
}

// PartialID appends the partial suffix.
func PartialID(id string, sequence int) string {
	return fmt.Sprintf("%s-P-%d", id, sequence)
}

var revisionSuffix = regexp.MustCompile(`-REV(\d+)$`)

// StripRevision splits id into its base and revision number (0 when unrevised).
func StripRevision(id string) (string, int) {
	m := revisionSuffix.FindStringSubmatchIndex(id)
	if m == nil {
		return id, 0
	}
	n, err := strconv.Atoi(id[m[2]:m[3]])
	if err != nil {
		return id, 0
	}
	return id[:m[0]], n
}

// ReviseID replaces any revision suffix with the next one.
func ReviseID(id string) string {
	base, n := StripRevision(id)
	return fmt.Sprintf("%s-REV%d", base, n+1)
}
