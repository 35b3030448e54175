package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/finops/internal/platform/db"
)

// Queries runs ledger statements on a pool or an open transaction.
type Queries struct {
	conn db.DBTX
}

// NewQueries binds ledger statements to conn.
func NewQueries(conn db.DBTX) *Queries {
	return &Queries{conn: conn}
}

const accountColumns = `id, organization_id, code, name, type, parent_id, balance, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.OrganizationID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// GetAccount loads an account scoped to the organization.
func (q *Queries) GetAccount(ctx context.Context, orgID, id int64) (Account, error) {
	return scanAccount(q.conn.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE organization_id=$1 AND id=$2`, orgID, id))
}

// FindAccountByCode loads an account by its organization-unique code.
func (q *Queries) FindAccountByCode(ctx context.Context, orgID int64, code string) (Account, error) {
	return scanAccount(q.conn.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE organization_id=$1 AND code=$2`, orgID, code))
}

// CreateAccount inserts a new account with a zero balance.
func (q *Queries) CreateAccount(ctx context.Context, a Account) (Account, error) {
	return scanAccount(q.conn.QueryRow(ctx, `INSERT INTO ledger_accounts (organization_id, code, name, type, parent_id, balance)
VALUES ($1,$2,$3,$4,$5,0) RETURNING `+accountColumns, a.OrganizationID, a.Code, a.Name, a.Type, a.ParentID))
}

// CountChildren returns how many accounts are registered under parentID.
func (q *Queries) CountChildren(ctx context.Context, orgID, parentID int64) (int64, error) {
	var n int64
	err := q.conn.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_accounts WHERE organization_id=$1 AND parent_id=$2`, orgID, parentID).Scan(&n)
	return n, err
}

// ApplyBalanceDelta atomically moves the balance and returns the new value.
// The row lock taken by UPDATE serializes concurrent postings on the same account.
func (q *Queries) ApplyBalanceDelta(ctx context.Context, orgID, accountID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.conn.QueryRow(ctx, `UPDATE ledger_accounts SET balance = balance + $3::numeric, updated_at = NOW()
WHERE organization_id=$1 AND id=$2 RETURNING balance`, orgID, accountID, delta.String()).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, fmt.Errorf("ledger: apply delta: %w", err)
	}
	return balance, nil
}

const transactionColumns = `id, organization_id, account_id, COALESCE(source_account_id, 0), source_document_id, reference, debit, credit, running_balance, txn_date, created_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.OrganizationID, &t.AccountID, &t.SourceAccountID, &t.SourceDocumentID, &t.Reference, &t.Debit, &t.Credit, &t.RunningBalance, &t.Date, &t.CreatedAt)
	return t, err
}

// InsertTransaction appends an immutable transaction record.
func (q *Queries) InsertTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	row := q.conn.QueryRow(ctx, `INSERT INTO ledger_transactions (organization_id, account_id, source_account_id, source_document_id, reference, debit, credit, running_balance, txn_date)
VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8::numeric,$9) RETURNING `+transactionColumns,
		t.OrganizationID, t.AccountID, nullID(t.SourceAccountID), t.SourceDocumentID, t.Reference,
		t.Debit.String(), t.Credit.String(), t.RunningBalance.String(), t.Date)
	inserted, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, fmt.Errorf("ledger: insert transaction: %w", err)
	}
	return inserted, nil
}

// ListTransactions returns the transactions with the given ids in insertion order.
func (q *Queries) ListTransactions(ctx context.Context, orgID int64, ids []int64) ([]Transaction, error) {
	rows, err := q.conn.Query(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions
WHERE organization_id=$1 AND id = ANY($2) ORDER BY id`, orgID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTransactions removes transactions and reports how many rows were deleted.
func (q *Queries) DeleteTransactions(ctx context.Context, orgID int64, ids []int64) (int64, error) {
	tag, err := q.conn.Exec(ctx, `DELETE FROM ledger_transactions WHERE organization_id=$1 AND id = ANY($2)`, orgID, ids)
	if err != nil {
		return 0, fmt.Errorf("ledger: delete transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetVendorForUpdate locks the vendor row so payable creation happens once.
func (q *Queries) GetVendorForUpdate(ctx context.Context, orgID, vendorID int64) (Vendor, error) {
	var v Vendor
	err := q.conn.QueryRow(ctx, `SELECT id, organization_id, code, name, payable_account_id FROM vendors
WHERE organization_id=$1 AND id=$2 FOR UPDATE`, orgID, vendorID).
		Scan(&v.ID, &v.OrganizationID, &v.Code, &v.Name, &v.PayableAccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vendor{}, ErrVendorNotFound
		}
		return Vendor{}, err
	}
	return v, nil
}

// SetVendorPayable links the vendor to its payable sub-account.
func (q *Queries) SetVendorPayable(ctx context.Context, orgID, vendorID, accountID int64) error {
	tag, err := q.conn.Exec(ctx, `UPDATE vendors SET payable_account_id=$3 WHERE organization_id=$1 AND id=$2`, orgID, vendorID, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVendorNotFound
	}
	return nil
}

func nullID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
