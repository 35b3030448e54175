package sequence

import (
	"context"

	"github.com/google/uuid"

	"github.com/odyssey-erp/finops/internal/platform/db"
)

// Queries is the Postgres Store.
type Queries struct {
	conn db.DBTX
}

// NewQueries binds the store to conn.
func NewQueries(conn db.DBTX) *Queries {
	return &Queries{conn: conn}
}

// NextCounter upserts the counter row. The row lock serializes concurrent callers.
func (q *Queries) NextCounter(ctx context.Context, orgID int64, entityType string, override *int64) (int64, string, error) {
	var (
		counter int64
		prefix  string
	)
	err := q.conn.QueryRow(ctx, `INSERT INTO sequence_counters (organization_id, entity_type, counter)
VALUES ($1, $2, COALESCE($3::bigint, 1))
ON CONFLICT (organization_id, entity_type)
DO UPDATE SET counter = COALESCE($3::bigint, sequence_counters.counter + 1)
RETURNING counter, COALESCE(prefix, '')`, orgID, entityType, override).Scan(&counter, &prefix)
	return counter, prefix, err
}

// CountPartials counts documents of entityType already linked to parent.
func (q *Queries) CountPartials(ctx context.Context, orgID int64, entityType string, parent uuid.UUID) (int, error) {
	var n int
	err := q.conn.QueryRow(ctx, `SELECT COUNT(*) FROM financial_documents
WHERE organization_id=$1 AND kind=$2 AND parent_order_id=$3`, orgID, entityType, parent).Scan(&n)
	return n, err
}

// SetPrefix stores the tenant prefix without touching the counter.
func (q *Queries) SetPrefix(ctx context.Context, orgID int64, entityType, prefix string) error {
	_, err := q.conn.Exec(ctx, `INSERT INTO sequence_counters (organization_id, entity_type, prefix, counter)
VALUES ($1, $2, $3, 0)
ON CONFLICT (organization_id, entity_type) DO UPDATE SET prefix = EXCLUDED.prefix`, orgID, entityType, prefix)
	return err
}
