package posting

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/finops/internal/costcenter"
	"github.com/odyssey-erp/finops/internal/document"
	"github.com/odyssey-erp/finops/internal/ledger"
	"github.com/odyssey-erp/finops/internal/platform/db"
)

// Repository opens units of work.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the operations available within one unit of work.
type TxRepository interface {
	GetDocumentForUpdate(ctx context.Context, orgID int64, id uuid.UUID) (document.Document, error)
	InsertDocument(ctx context.Context, doc document.Document) error
	UpdateDocument(ctx context.Context, doc document.Document) error

	GetAccount(ctx context.Context, orgID, id int64) (ledger.Account, error)
	FindAccountByCode(ctx context.Context, orgID int64, code string) (ledger.Account, error)
	CountChildAccounts(ctx context.Context, orgID, parentID int64) (int64, error)
	CreateAccount(ctx context.Context, account ledger.Account) (ledger.Account, error)
	ApplyBalanceDelta(ctx context.Context, orgID, accountID int64, delta decimal.Decimal) (decimal.Decimal, error)
	InsertTransaction(ctx context.Context, txn ledger.Transaction) (ledger.Transaction, error)
	ListTransactions(ctx context.Context, orgID int64, ids []int64) ([]ledger.Transaction, error)
	DeleteTransactions(ctx context.Context, orgID int64, ids []int64) (int64, error)
	GetVendorForUpdate(ctx context.Context, orgID, vendorID int64) (ledger.Vendor, error)
	SetVendorPayable(ctx context.Context, orgID, vendorID, accountID int64) error

	GetCostCenterForUpdate(ctx context.Context, orgID, id int64) (costcenter.Accumulator, error)
	// CommitCostCenterLine pushes the line and raises the matching total.
	CommitCostCenterLine(ctx context.Context, orgID int64, line costcenter.Line) (costcenter.Line, error)
	// ReverseCostCenterLine pulls the line of the source document and lowers the matching total.
	ReverseCostCenterLine(ctx context.Context, orgID, costCenterID int64, kind costcenter.LineKind, sourceDocumentID uuid.UUID) (costcenter.Line, error)
}

var (
	_ Repository   = (*PgRepository)(nil)
	_ TxRepository = (*pgTxRepository)(nil)
)

// PgRepository runs units of work in RepeatableRead transactions with conflict retry.
type PgRepository struct {
	runner *db.TxRunner
}

// NewPgRepository constructs a PgRepository.
func NewPgRepository(pool *pgxpool.Pool, policy db.RetryPolicy) *PgRepository {
	return &PgRepository{runner: db.NewTxRunner(pool, policy)}
}

// WithTx executes fn in a transaction. fn may run more than once on serialization failures.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.runner.Run(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{
			docs:    document.NewQueries(tx),
			ledger:  ledger.NewQueries(tx),
			centers: costcenter.NewQueries(tx),
		})
	})
}

type pgTxRepository struct {
	docs    *document.Queries
	ledger  *ledger.Queries
	centers *costcenter.Queries
}

func (r *pgTxRepository) GetDocumentForUpdate(ctx context.Context, orgID int64, id uuid.UUID) (document.Document, error) {
	return r.docs.GetForUpdate(ctx, orgID, id)
}

func (r *pgTxRepository) InsertDocument(ctx context.Context, doc document.Document) error {
	return r.docs.Insert(ctx, doc)
}

func (r *pgTxRepository) UpdateDocument(ctx context.Context, doc document.Document) error {
	return r.docs.Update(ctx, doc)
}

func (r *pgTxRepository) GetAccount(ctx context.Context, orgID, id int64) (ledger.Account, error) {
	return r.ledger.GetAccount(ctx, orgID, id)
}

func (r *pgTxRepository) FindAccountByCode(ctx context.Context, orgID int64, code string) (ledger.Account, error) {
	return r.ledger.FindAccountByCode(ctx, orgID, code)
}

func (r *pgTxRepository) CountChildAccounts(ctx context.Context, orgID, parentID int64) (int64, error) {
	return r.ledger.CountChildren(ctx, orgID, parentID)
}

func (r *pgTxRepository) CreateAccount(ctx context.Context, account ledger.Account) (ledger.Account, error) {
	return r.ledger.CreateAccount(ctx, account)
}

func (r *pgTxRepository) ApplyBalanceDelta(ctx context.Context, orgID, accountID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	return r.ledger.ApplyBalanceDelta(ctx, orgID, accountID, delta)
}

func (r *pgTxRepository) InsertTransaction(ctx context.Context, txn ledger.Transaction) (ledger.Transaction, error) {
	return r.ledger.InsertTransaction(ctx, txn)
}

func (r *pgTxRepository) ListTransactions(ctx context.Context, orgID int64, ids []int64) ([]ledger.Transaction, error) {
	return r.ledger.ListTransactions(ctx, orgID, ids)
}

func (r *pgTxRepository) DeleteTransactions(ctx context.Context, orgID int64, ids []int64) (int64, error) {
	return r.ledger.DeleteTransactions(ctx, orgID, ids)
}

func (r *pgTxRepository) GetVendorForUpdate(ctx context.Context, orgID, vendorID int64) (ledger.Vendor, error) {
	return r.ledger.GetVendorForUpdate(ctx, orgID, vendorID)
}

func (r *pgTxRepository) SetVendorPayable(ctx context.Context, orgID, vendorID, accountID int64) error {
	return r.ledger.SetVendorPayable(ctx, orgID, vendorID, accountID)
}

func (r *pgTxRepository) GetCostCenterForUpdate(ctx context.Context, orgID, id int64) (costcenter.Accumulator, error) {
	return r.centers.GetForUpdate(ctx, orgID, id)
}

func (r *pgTxRepository) CommitCostCenterLine(ctx context.Context, orgID int64, line costcenter.Line) (costcenter.Line, error) {
	inserted, err := r.centers.InsertLine(ctx, line)
	if err != nil {
		return costcenter.Line{}, err
	}
	if err := r.centers.AdjustTotal(ctx, orgID, line.CostCenterID, line.Kind, line.Amount); err != nil {
		return costcenter.Line{}, err
	}
	return inserted, nil
}

func (r *pgTxRepository) ReverseCostCenterLine(ctx context.Context, orgID, costCenterID int64, kind costcenter.LineKind, sourceDocumentID uuid.UUID) (costcenter.Line, error) {
	line, err := r.centers.DeleteLine(ctx, costCenterID, kind, sourceDocumentID)
	if err != nil {
		return costcenter.Line{}, err
	}
	if err := r.centers.AdjustTotal(ctx, orgID, costCenterID, line.Kind, line.Amount.Neg()); err != nil {
		return costcenter.Line{}, err
	}
	return line, nil
}
