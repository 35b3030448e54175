package approval

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/finops/internal/platform/db"
)

// levelFinal stores FinalRoles in approval_configurations.
const levelFinal = "final"

// Repository reads approval configurations from Postgres.
type Repository struct {
	conn db.DBTX
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{conn: pool}
}

// LoadConfiguration returns every feature chain of orgID. An organization with
// no rows yields an empty configuration.
func (r *Repository) LoadConfiguration(ctx context.Context, orgID int64) (Configuration, error) {
	rows, err := r.conn.Query(ctx, `SELECT feature, level, enabled, roles FROM approval_configurations
WHERE organization_id=$1 ORDER BY feature, level`, orgID)
	if err != nil {
		return Configuration{}, err
	}
	defer rows.Close()
	cfg := Configuration{OrganizationID: orgID, Features: make(map[string]FeatureConfig)}
	for rows.Next() {
		var (
			feature, level string
			enabled        bool
			roles          []string
		)
		if err := rows.Scan(&feature, &level, &enabled, &roles); err != nil {
			return Configuration{}, err
		}
		fc := cfg.Features[feature]
		fc.Feature = feature
		if fc.Levels == nil {
			fc.Levels = make(map[State]LevelConfig)
		}
		if level == levelFinal {
			fc.FinalRoles = roles
		} else if State(level).IsLevel() {
			fc.Levels[State(level)] = LevelConfig{Enabled: enabled, Roles: roles}
		}
		cfg.Features[feature] = fc
	}
	return cfg, rows.Err()
}

// SaveFeature replaces the chain of one feature.
func (r *Repository) SaveFeature(ctx context.Context, orgID int64, fc FeatureConfig) error {
	for _, level := range Levels {
		lc := fc.Levels[level]
		if err := r.upsert(ctx, orgID, fc.Feature, string(level), lc.Enabled, lc.Roles); err != nil {
			return err
		}
	}
	return r.upsert(ctx, orgID, fc.Feature, levelFinal, len(fc.FinalRoles) > 0, fc.FinalRoles)
}

func (r *Repository) upsert(ctx context.Context, orgID int64, feature, level string, enabled bool, roles []string) error {
	if roles == nil {
		roles = []string{}
	}
	_, err := r.conn.Exec(ctx, `INSERT INTO approval_configurations (organization_id, feature, level, enabled, roles, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (organization_id, feature, level) DO UPDATE SET enabled=EXCLUDED.enabled, roles=EXCLUDED.roles, updated_at=NOW()`,
		orgID, feature, level, enabled, roles)
	return err
}

// HistoryEntry is one recorded approval transition.
type HistoryEntry struct {
	OrganizationID int64
	DocumentID     uuid.UUID
	ActorID        int64
	From           State
	To             State
	Comment        string
	At             time.Time
}

func (h HistoryEntry) validate() error {
	if h.DocumentID == uuid.Nil {
		return errors.New("approval history document id required")
	}
	if h.To == "" {
		return errors.New("approval history target state required")
	}
	return nil
}

// HistoryRecorder persists approval history.
type HistoryRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewHistoryRecorder constructs HistoryRecorder.
func NewHistoryRecorder(pool *pgxpool.Pool, logger *slog.Logger) *HistoryRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryRecorder{pool: pool, logger: logger}
}

// Record writes the entry.
func (r *HistoryRecorder) Record(ctx context.Context, entry HistoryEntry) error {
	if r == nil || r.pool == nil {
		return errors.New("approval recorder not initialised")
	}
	if err := entry.validate(); err != nil {
		return err
	}
	var at any
	if !entry.At.IsZero() {
		at = entry.At
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO approval_history (organization_id, document_id, actor_id, from_state, to_state, comment, at)
VALUES ($1,$2,$3,$4,$5,$6,COALESCE($7, NOW()))`, entry.OrganizationID, entry.DocumentID, entry.ActorID, string(entry.From), string(entry.To), entry.Comment, at)
	if err != nil {
		r.logger.Error("record approval", slog.Any("error", err))
		return err
	}
	return nil
}

// List returns the document's history oldest first.
func (r *HistoryRecorder) List(ctx context.Context, orgID int64, documentID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT organization_id, document_id, actor_id, from_state, to_state, comment, at
FROM approval_history WHERE organization_id=$1 AND document_id=$2 ORDER BY at ASC, id ASC`, orgID, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var from, to string
		if err := rows.Scan(&h.OrganizationID, &h.DocumentID, &h.ActorID, &from, &to, &h.Comment, &h.At); err != nil {
			return nil, err
		}
		h.From, h.To = State(from), State(to)
		out = append(out, h)
	}
	return out, rows.Err()
}

// MemoryHistory keeps approval history in process.
type MemoryHistory struct {
	mu      sync.Mutex
	entries []HistoryEntry
}

// Record appends entry.
func (m *MemoryHistory) Record(_ context.Context, entry HistoryEntry) error {
	if err := entry.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()
	return nil
}

// List returns the document's history oldest first.
func (m *MemoryHistory) List(_ context.Context, orgID int64, documentID uuid.UUID) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistoryEntry
	for _, e := range m.entries {
		if e.OrganizationID == orgID && e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out, nil
}
