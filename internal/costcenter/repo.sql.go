package costcenter

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/finops/internal/platform/db"
)

// Queries runs cost center statements on a pool or an open transaction.
type Queries struct {
	conn db.DBTX
}

// NewQueries binds cost center statements to conn.
func NewQueries(conn db.DBTX) *Queries {
	return &Queries{conn: conn}
}

// GetForUpdate locks the cost center header. Lines are not loaded.
func (q *Queries) GetForUpdate(ctx context.Context, orgID, id int64) (Accumulator, error) {
	return q.getHeader(ctx, orgID, id, " FOR UPDATE")
}

func (q *Queries) getHeader(ctx context.Context, orgID, id int64, suffix string) (Accumulator, error) {
	var a Accumulator
	err := q.conn.QueryRow(ctx, `SELECT id, organization_id, code, name, total_expense, total_income, updated_at
FROM cost_centers WHERE organization_id=$1 AND id=$2`+suffix, orgID, id).
		Scan(&a.ID, &a.OrganizationID, &a.Code, &a.Name, &a.TotalExpense, &a.TotalIncome, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Accumulator{}, ErrCostCenterNotFound
		}
		return Accumulator{}, err
	}
	return a, nil
}

// Get loads the cost center with all of its lines.
func (q *Queries) Get(ctx context.Context, orgID, id int64) (Accumulator, error) {
	a, err := q.getHeader(ctx, orgID, id, "")
	if err != nil {
		return Accumulator{}, err
	}
	rows, err := q.conn.Query(ctx, `SELECT `+lineColumns+` FROM cost_center_lines WHERE cost_center_id=$1 ORDER BY id`, id)
	if err != nil {
		return Accumulator{}, err
	}
	defer rows.Close()
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return Accumulator{}, err
		}
		if line.Kind == LineIncome {
			a.IncomeLines = append(a.IncomeLines, line)
		} else {
			a.ExpenseLines = append(a.ExpenseLines, line)
		}
	}
	return a, rows.Err()
}

// Ref identifies a cost center across organizations.
type Ref struct {
	OrganizationID int64
	ID             int64
}

// ListRefs returns every cost center ordered by organization and id.
func (q *Queries) ListRefs(ctx context.Context) ([]Ref, error) {
	rows, err := q.conn.Query(ctx, `SELECT organization_id, id FROM cost_centers ORDER BY organization_id, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Ref
	for rows.Next() {
		var r Ref
		if err := rows.Scan(&r.OrganizationID, &r.ID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const lineColumns = `id, cost_center_id, kind, source_document_id, reference, amount, COALESCE(account_id, 0), line_date`

func scanLine(row pgx.Row) (Line, error) {
	var l Line
	err := row.Scan(&l.ID, &l.CostCenterID, &l.Kind, &l.SourceDocumentID, &l.Reference, &l.Amount, &l.AccountID, &l.Date)
	return l, err
}

// InsertLine pushes a line for the source document.
func (q *Queries) InsertLine(ctx context.Context, line Line) (Line, error) {
	inserted, err := scanLine(q.conn.QueryRow(ctx, `INSERT INTO cost_center_lines (cost_center_id, kind, source_document_id, reference, amount, account_id, line_date)
VALUES ($1,$2,$3,$4,$5::numeric,$6,$7) RETURNING `+lineColumns,
		line.CostCenterID, line.Kind, line.SourceDocumentID, line.Reference, line.Amount.String(), nullID(line.AccountID), line.Date))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_cost_center_lines_source" {
			return Line{}, ErrDuplicateLine
		}
		return Line{}, fmt.Errorf("costcenter: insert line: %w", err)
	}
	return inserted, nil
}

// DeleteLine pulls the line committed for the source document and returns it.
func (q *Queries) DeleteLine(ctx context.Context, costCenterID int64, kind LineKind, sourceDocumentID uuid.UUID) (Line, error) {
	line, err := scanLine(q.conn.QueryRow(ctx, `DELETE FROM cost_center_lines
WHERE cost_center_id=$1 AND kind=$2 AND source_document_id=$3 RETURNING `+lineColumns, costCenterID, kind, sourceDocumentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Line{}, ErrLineNotFound
		}
		return Line{}, fmt.Errorf("costcenter: delete line: %w", err)
	}
	return line, nil
}

// AdjustTotal moves the expense or income total by delta.
func (q *Queries) AdjustTotal(ctx context.Context, orgID, costCenterID int64, kind LineKind, delta decimal.Decimal) error {
	column := "total_expense"
	if kind == LineIncome {
		column = "total_income"
	}
	tag, err := q.conn.Exec(ctx, `UPDATE cost_centers SET `+column+` = `+column+` + $3::numeric, updated_at = NOW()
WHERE organization_id=$1 AND id=$2`, orgID, costCenterID, delta.String())
	if err != nil {
		return fmt.Errorf("costcenter: adjust total: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCostCenterNotFound
	}
	return nil
}

func nullID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
