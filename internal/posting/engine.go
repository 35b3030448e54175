package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/odyssey-erp/finops/internal/document"
	"github.com/odyssey-erp/finops/internal/ledger"
	"github.com/odyssey-erp/finops/internal/shared"
)

var (
	// ErrPostingConflict indicates the document's effects are already posted.
	ErrPostingConflict = errors.New("posting: document already posted")
	// ErrNothingToReverse indicates the document has no posted effects.
	ErrNothingToReverse = errors.New("posting: document not posted")
	// ErrPayableGroupMissing indicates the organization has no payable group account.
	ErrPayableGroupMissing = errors.New("posting: payable group account missing")
	// ErrLedgerInconsistent indicates stored transactions no longer match the document.
	ErrLedgerInconsistent = errors.New("posting: stored transactions do not match document")
)

// Config controls lazily created vendor payable sub-accounts.
type Config struct {
	PayableGroupCode string
	SubAccountPrefix string
}

// Metrics observes posting outcomes.
type Metrics interface {
	ObservePosting(kind string, err error)
	ObserveReversal(kind string, err error)
}

// AuditRecorder stores audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Result reports what a posting created.
type Result struct {
	DocumentID        uuid.UUID
	Transactions      []ledger.Transaction
	CostCenterLineIDs []int64
}

// TransactionIDs returns the ids of the created transactions.
func (r Result) TransactionIDs() []int64 {
	ids := make([]int64, 0, len(r.Transactions))
	for _, t := range r.Transactions {
		ids = append(ids, t.ID)
	}
	return ids
}

// Engine applies and undoes the ledger and cost center effects of documents.
// It is the only component that moves account balances.
type Engine struct {
	repo    Repository
	cfg     Config
	metrics Metrics
	audit   AuditRecorder
	logger  *slog.Logger
}

// Option customises Engine.
type Option func(*Engine)

// WithMetrics attaches metrics.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAudit records an audit entry after every committed post or reversal.
func WithAudit(a AuditRecorder) Option {
	return func(e *Engine) { e.audit = a }
}

// NewEngine constructs an Engine.
func NewEngine(repo Repository, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SubAccountPrefix == "" {
		cfg.SubAccountPrefix = "SUB"
	}
	e := &Engine{repo: repo, cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Post applies the document's effects in its own unit of work.
func (e *Engine) Post(ctx context.Context, orgID int64, docID uuid.UUID) (Result, error) {
	var (
		res  Result
		kind document.Kind
		ref  string
	)
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetDocumentForUpdate(ctx, orgID, docID)
		if err != nil {
			return err
		}
		kind, ref = doc.Kind, doc.HumanID
		res, err = e.PostTx(ctx, tx, &doc)
		if err != nil {
			return err
		}
		return tx.UpdateDocument(ctx, doc)
	})
	e.observePosting(kind, err)
	if err != nil {
		return Result{}, err
	}
	e.record(ctx, orgID, "ledger.post", docID, ref, len(res.Transactions))
	return res, nil
}

// Reverse undoes the document's effects in its own unit of work.
func (e *Engine) Reverse(ctx context.Context, orgID int64, docID uuid.UUID) error {
	var (
		kind     document.Kind
		ref      string
		reversed int
	)
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetDocumentForUpdate(ctx, orgID, docID)
		if err != nil {
			return err
		}
		kind, ref, reversed = doc.Kind, doc.HumanID, len(doc.Transactions)
		if err := e.ReverseTx(ctx, tx, &doc); err != nil {
			return err
		}
		return tx.UpdateDocument(ctx, doc)
	})
	e.observeReversal(kind, err)
	if err != nil {
		return err
	}
	e.record(ctx, orgID, "ledger.reverse", docID, ref, reversed)
	return nil
}

// Repost reverses the document when posted, applies mutate, then posts the new values.
func (e *Engine) Repost(ctx context.Context, orgID int64, docID uuid.UUID, mutate func(*document.Document) error) (Result, error) {
	var (
		res  Result
		kind document.Kind
		ref  string
	)
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetDocumentForUpdate(ctx, orgID, docID)
		if err != nil {
			return err
		}
		kind = doc.Kind
		if doc.Posted() {
			if err := e.ReverseTx(ctx, tx, &doc); err != nil {
				return err
			}
		}
		if mutate != nil {
			if err := mutate(&doc); err != nil {
				return err
			}
		}
		ref = doc.HumanID
		res, err = e.PostTx(ctx, tx, &doc)
		if err != nil {
			return err
		}
		return tx.UpdateDocument(ctx, doc)
	})
	e.observePosting(kind, err)
	if err != nil {
		return Result{}, err
	}
	e.record(ctx, orgID, "ledger.repost", docID, ref, len(res.Transactions))
	return res, nil
}

// PostTx applies the effects of doc inside tx and records them on doc.
// The caller persists doc within the same unit of work.
func (e *Engine) PostTx(ctx context.Context, tx TxRepository, doc *document.Document) (Result, error) {
	if !doc.Valid {
		return Result{}, document.ErrDocumentInvalidated
	}
	if doc.Posted() {
		return Result{}, fmt.Errorf("%w: %s", ErrPostingConflict, doc.HumanID)
	}
	effects, err := doc.Effects()
	if err != nil {
		return Result{}, err
	}
	accounts := make([]ledger.Account, len(effects))
	for i, eff := range effects {
		if err := eff.Validate(); err != nil {
			return Result{}, err
		}
		if accounts[i], err = e.resolveAccount(ctx, tx, doc.OrganizationID, eff); err != nil {
			return Result{}, err
		}
	}

	res := Result{DocumentID: doc.ID}
	ids := make([]int64, 0, len(effects))
	for i, eff := range effects {
		account := accounts[i]
		balance, err := tx.ApplyBalanceDelta(ctx, doc.OrganizationID, account.ID, account.Type.Delta(eff.Side, eff.Amount))
		if err != nil {
			return Result{}, err
		}
		txn := ledger.NewTransaction(eff.Side, eff.Amount)
		txn.OrganizationID = doc.OrganizationID
		txn.AccountID = account.ID
		txn.SourceAccountID = contraAccount(accounts, i)
		txn.SourceDocumentID = doc.ID
		txn.Reference = doc.HumanID
		txn.RunningBalance = balance
		txn.Date = doc.Date
		inserted, err := tx.InsertTransaction(ctx, txn)
		if err != nil {
			return Result{}, err
		}
		res.Transactions = append(res.Transactions, inserted)
		ids = append(ids, inserted.ID)
	}

	if line, ok := doc.CostCenterLine(); ok {
		if _, err := tx.GetCostCenterForUpdate(ctx, doc.OrganizationID, line.CostCenterID); err != nil {
			return Result{}, err
		}
		inserted, err := tx.CommitCostCenterLine(ctx, doc.OrganizationID, line)
		if err != nil {
			return Result{}, err
		}
		centerID := line.CostCenterID
		doc.PostedCostCenterID = &centerID
		res.CostCenterLineIDs = append(res.CostCenterLineIDs, inserted.ID)
	}
	doc.Transactions = ids
	return res, nil
}

// ReverseTx undoes the stored effects of doc inside tx and clears them on doc.
// Balances are restored from the stored transactions, not from the document's current values.
func (e *Engine) ReverseTx(ctx context.Context, tx TxRepository, doc *document.Document) error {
	if !doc.Posted() {
		return fmt.Errorf("%w: %s", ErrNothingToReverse, doc.HumanID)
	}
	if len(doc.Transactions) > 0 {
		stored, err := tx.ListTransactions(ctx, doc.OrganizationID, doc.Transactions)
		if err != nil {
			return err
		}
		if len(stored) != len(doc.Transactions) {
			return fmt.Errorf("%w: %s has %d of %d transactions", ErrLedgerInconsistent, doc.HumanID, len(stored), len(doc.Transactions))
		}
		for _, txn := range slices.Backward(stored) {
			account, err := tx.GetAccount(ctx, doc.OrganizationID, txn.AccountID)
			if err != nil {
				return err
			}
			delta := account.Type.Delta(txn.Side(), txn.Amount()).Neg()
			if _, err := tx.ApplyBalanceDelta(ctx, doc.OrganizationID, account.ID, delta); err != nil {
				return err
			}
		}
		deleted, err := tx.DeleteTransactions(ctx, doc.OrganizationID, doc.Transactions)
		if err != nil {
			return err
		}
		if deleted != int64(len(doc.Transactions)) {
			return fmt.Errorf("%w: deleted %d of %d transactions", ErrLedgerInconsistent, deleted, len(doc.Transactions))
		}
	}

	if doc.PostedCostCenterID != nil {
		centerID := *doc.PostedCostCenterID
		if _, err := tx.GetCostCenterForUpdate(ctx, doc.OrganizationID, centerID); err != nil {
			return err
		}
		if _, err := tx.ReverseCostCenterLine(ctx, doc.OrganizationID, centerID, doc.CostCenterLineKind(), doc.ID); err != nil {
			return err
		}
	}
	doc.Transactions = nil
	doc.PostedCostCenterID = nil
	return nil
}

func contraAccount(accounts []ledger.Account, i int) int64 {
	if len(accounts) != 2 {
		return 0
	}
	return accounts[1-i].ID
}

func (e *Engine) resolveAccount(ctx context.Context, tx TxRepository, orgID int64, eff ledger.Effect) (ledger.Account, error) {
	if eff.Role == ledger.RoleFixed {
		return tx.GetAccount(ctx, orgID, eff.AccountID)
	}
	vendor, err := tx.GetVendorForUpdate(ctx, orgID, eff.VendorID)
	if err != nil {
		return ledger.Account{}, err
	}
	if vendor.PayableAccountID != nil {
		return tx.GetAccount(ctx, orgID, *vendor.PayableAccountID)
	}
	return e.createPayable(ctx, tx, vendor)
}

// createPayable registers the vendor's payable sub-account under the organization's payable group.
func (e *Engine) createPayable(ctx context.Context, tx TxRepository, vendor ledger.Vendor) (ledger.Account, error) {
	parent, err := tx.FindAccountByCode(ctx, vendor.OrganizationID, e.cfg.PayableGroupCode)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ledger.Account{}, fmt.Errorf("%w: code %q", ErrPayableGroupMissing, e.cfg.PayableGroupCode)
		}
		return ledger.Account{}, err
	}
	siblings, err := tx.CountChildAccounts(ctx, vendor.OrganizationID, parent.ID)
	if err != nil {
		return ledger.Account{}, err
	}
	parentID := parent.ID
	account, err := tx.CreateAccount(ctx, ledger.Account{
		OrganizationID: vendor.OrganizationID,
		Code:           ledger.SubAccountCode(e.cfg.SubAccountPrefix, parent.Type, parent.Code, siblings+1),
		Name:           fmt.Sprintf("%s - %s", parent.Name, vendor.Name),
		Type:           parent.Type,
		ParentID:       &parentID,
	})
	if err != nil {
		return ledger.Account{}, err
	}
	if err := tx.SetVendorPayable(ctx, vendor.OrganizationID, vendor.ID, account.ID); err != nil {
		return ledger.Account{}, err
	}
	e.logger.Info("vendor payable account created",
		slog.Int64("organization_id", vendor.OrganizationID),
		slog.Int64("vendor_id", vendor.ID),
		slog.String("code", account.Code))
	return account, nil
}

func (e *Engine) observePosting(kind document.Kind, err error) {
	if e.metrics != nil {
		e.metrics.ObservePosting(string(kind), err)
	}
}

func (e *Engine) observeReversal(kind document.Kind, err error) {
	if e.metrics != nil {
		e.metrics.ObserveReversal(string(kind), err)
	}
}

func (e *Engine) record(ctx context.Context, orgID int64, action string, docID uuid.UUID, ref string, transactions int) {
	if e.audit == nil {
		return
	}
	err := e.audit.Record(ctx, shared.AuditLog{
		OrganizationID: orgID,
		Action:         action,
		Entity:         "financial_document",
		EntityID:       docID.String(),
		Meta:           map[string]any{"reference": ref, "transactions": transactions},
	})
	if err != nil {
		e.logger.Warn("posting audit", slog.String("document", ref), slog.Any("error", err))
	}
}
