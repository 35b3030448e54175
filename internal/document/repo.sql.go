package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/finops/internal/approval"
	"github.com/odyssey-erp/finops/internal/platform/db"
)

// ErrDuplicateHumanID indicates the human id is taken within the organization and kind.
var ErrDuplicateHumanID = errors.New("document: human id already used")

// Queries runs document statements on a pool or an open transaction.
type Queries struct {
	conn db.DBTX
}

// NewQueries binds document statements to conn.
func NewQueries(conn db.DBTX) *Queries {
	return &Queries{conn: conn}
}

const documentColumns = `id, kind, organization_id, company_id, human_id, doc_date, amount, balance_due,
COALESCE(account_id, 0), COALESCE(paid_through_account_id, 0), COALESCE(vendor_id, 0), cost_center_id, parent_order_id, voucher_type,
approval_state, reviewed_by, reviewed_at, verified_by, verified_at, acknowledged_by, acknowledged_at,
approved_by1, approved_at1, approved_by2, approved_at2, approval_comment,
transactions, posted_cost_center_id, revision, valid, created_by, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	var state string
	err := row.Scan(&d.ID, &d.Kind, &d.OrganizationID, &d.CompanyID, &d.HumanID, &d.Date, &d.Amount, &d.BalanceDue,
		&d.AccountID, &d.PaidThroughAccountID, &d.VendorID, &d.CostCenterID, &d.ParentOrderID, &d.VoucherType,
		&state, &d.Approval.ReviewedBy, &d.Approval.ReviewedAt, &d.Approval.VerifiedBy, &d.Approval.VerifiedAt,
		&d.Approval.AcknowledgedBy, &d.Approval.AcknowledgedAt, &d.Approval.ApprovedBy1, &d.Approval.ApprovedAt1,
		&d.Approval.ApprovedBy2, &d.Approval.ApprovedAt2, &d.Approval.Comment,
		&d.Transactions, &d.PostedCostCenterID, &d.Revision, &d.Valid, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrDocumentNotFound
		}
		return Document{}, err
	}
	d.Approval.State = approval.State(state)
	return d, nil
}

// Get loads a document.
func (q *Queries) Get(ctx context.Context, orgID int64, id uuid.UUID) (Document, error) {
	return scanDocument(q.conn.QueryRow(ctx, `SELECT `+documentColumns+` FROM financial_documents WHERE organization_id=$1 AND id=$2`, orgID, id))
}

// GetForUpdate loads and locks a document.
func (q *Queries) GetForUpdate(ctx context.Context, orgID int64, id uuid.UUID) (Document, error) {
	return scanDocument(q.conn.QueryRow(ctx, `SELECT `+documentColumns+` FROM financial_documents WHERE organization_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
}

// Insert stores a new document.
func (q *Queries) Insert(ctx context.Context, d Document) error {
	a := d.Approval
	_, err := q.conn.Exec(ctx, `INSERT INTO financial_documents (id, kind, organization_id, company_id, human_id, doc_date, amount, balance_due,
account_id, paid_through_account_id, vendor_id, cost_center_id, parent_order_id, voucher_type,
approval_state, reviewed_by, reviewed_at, verified_by, verified_at, acknowledged_by, acknowledged_at,
approved_by1, approved_at1, approved_by2, approved_at2, approval_comment,
transactions, posted_cost_center_id, revision, valid, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8::numeric,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,NOW(),NOW())`,
		d.ID, string(d.Kind), d.OrganizationID, d.CompanyID, d.HumanID, d.Date, d.Amount.String(), d.BalanceDue.String(),
		nullID(d.AccountID), nullID(d.PaidThroughAccountID), nullID(d.VendorID), d.CostCenterID, d.ParentOrderID, string(d.VoucherType),
		string(a.State), a.ReviewedBy, a.ReviewedAt, a.VerifiedBy, a.VerifiedAt, a.AcknowledgedBy, a.AcknowledgedAt,
		a.ApprovedBy1, a.ApprovedAt1, a.ApprovedBy2, a.ApprovedAt2, a.Comment,
		transactionIDs(d.Transactions), d.PostedCostCenterID, d.Revision, d.Valid, d.CreatedBy)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_financial_documents_human_id" {
			return fmt.Errorf("%w: %s", ErrDuplicateHumanID, d.HumanID)
		}
		return fmt.Errorf("document: insert: %w", err)
	}
	return nil
}

// Update writes every mutable field of d.
func (q *Queries) Update(ctx context.Context, d Document) error {
	a := d.Approval
	tag, err := q.conn.Exec(ctx, `UPDATE financial_documents SET human_id=$3, doc_date=$4, amount=$5::numeric, balance_due=$6::numeric,
account_id=$7, paid_through_account_id=$8, vendor_id=$9, cost_center_id=$10, parent_order_id=$11, voucher_type=$12,
approval_state=$13, reviewed_by=$14, reviewed_at=$15, verified_by=$16, verified_at=$17, acknowledged_by=$18, acknowledged_at=$19,
approved_by1=$20, approved_at1=$21, approved_by2=$22, approved_at2=$23, approval_comment=$24,
transactions=$25, posted_cost_center_id=$26, revision=$27, valid=$28, updated_at=NOW()
WHERE organization_id=$1 AND id=$2`,
		d.OrganizationID, d.ID, d.HumanID, d.Date, d.Amount.String(), d.BalanceDue.String(),
		nullID(d.AccountID), nullID(d.PaidThroughAccountID), nullID(d.VendorID), d.CostCenterID, d.ParentOrderID, string(d.VoucherType),
		string(a.State), a.ReviewedBy, a.ReviewedAt, a.VerifiedBy, a.VerifiedAt, a.AcknowledgedBy, a.AcknowledgedAt,
		a.ApprovedBy1, a.ApprovedAt1, a.ApprovedBy2, a.ApprovedAt2, a.Comment,
		transactionIDs(d.Transactions), d.PostedCostCenterID, d.Revision, d.Valid)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_financial_documents_human_id" {
			return fmt.Errorf("%w: %s", ErrDuplicateHumanID, d.HumanID)
		}
		return fmt.Errorf("document: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func transactionIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func nullID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
