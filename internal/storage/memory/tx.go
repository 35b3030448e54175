package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/finops/internal/costcenter"
	"github.com/odyssey-erp/finops/internal/document"
	"github.com/odyssey-erp/finops/internal/ledger"
)

// txRepo operates on the store while its mutex is held by WithTx.
type txRepo struct {
	store *Store
}

func (r *txRepo) fault(op string) error {
	if r.store.Fault == nil {
		return nil
	}
	return r.store.Fault(op)
}

func (r *txRepo) data() *state {
	return &r.store.data
}

func (r *txRepo) GetDocumentForUpdate(_ context.Context, orgID int64, id uuid.UUID) (document.Document, error) {
	if err := r.fault("GetDocumentForUpdate"); err != nil {
		return document.Document{}, err
	}
	d, ok := r.data().documents[id]
	if !ok || d.OrganizationID != orgID {
		return document.Document{}, document.ErrDocumentNotFound
	}
	return cloneDocument(d), nil
}

func (r *txRepo) InsertDocument(_ context.Context, doc document.Document) error {
	if err := r.fault("InsertDocument"); err != nil {
		return err
	}
	for _, existing := range r.data().documents {
		if existing.OrganizationID == doc.OrganizationID && existing.Kind == doc.Kind && existing.HumanID == doc.HumanID {
			return fmt.Errorf("%w: %s", document.ErrDuplicateHumanID, doc.HumanID)
		}
	}
	now := r.store.now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	r.data().documents[doc.ID] = cloneDocument(doc)
	return nil
}

func (r *txRepo) UpdateDocument(_ context.Context, doc document.Document) error {
	if err := r.fault("UpdateDocument"); err != nil {
		return err
	}
	existing, ok := r.data().documents[doc.ID]
	if !ok || existing.OrganizationID != doc.OrganizationID {
		return document.ErrDocumentNotFound
	}
	doc.CreatedAt = existing.CreatedAt
	doc.UpdatedAt = r.store.now()
	r.data().documents[doc.ID] = cloneDocument(doc)
	return nil
}

func (r *txRepo) GetAccount(_ context.Context, orgID, id int64) (ledger.Account, error) {
	if err := r.fault("GetAccount"); err != nil {
		return ledger.Account{}, err
	}
	a, ok := r.data().accounts[id]
	if !ok || a.OrganizationID != orgID {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (r *txRepo) FindAccountByCode(_ context.Context, orgID int64, code string) (ledger.Account, error) {
	if err := r.fault("FindAccountByCode"); err != nil {
		return ledger.Account{}, err
	}
	for _, a := range r.data().accounts {
		if a.OrganizationID == orgID && a.Code == code {
			return a, nil
		}
	}
	return ledger.Account{}, ledger.ErrAccountNotFound
}

func (r *txRepo) CountChildAccounts(_ context.Context, orgID, parentID int64) (int64, error) {
	if err := r.fault("CountChildAccounts"); err != nil {
		return 0, err
	}
	var n int64
	for _, a := range r.data().accounts {
		if a.OrganizationID == orgID && a.ParentID != nil && *a.ParentID == parentID {
			n++
		}
	}
	return n, nil
}

func (r *txRepo) CreateAccount(_ context.Context, account ledger.Account) (ledger.Account, error) {
	if err := r.fault("CreateAccount"); err != nil {
		return ledger.Account{}, err
	}
	for _, a := range r.data().accounts {
		if a.OrganizationID == account.OrganizationID && a.Code == account.Code {
			return ledger.Account{}, fmt.Errorf("ledger: account code %s already exists", account.Code)
		}
	}
	account.ID = r.data().id()
	account.Balance = decimal.Zero
	now := r.store.now()
	account.CreatedAt, account.UpdatedAt = now, now
	r.data().accounts[account.ID] = account
	return account, nil
}

func (r *txRepo) ApplyBalanceDelta(_ context.Context, orgID, accountID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := r.fault("ApplyBalanceDelta"); err != nil {
		return decimal.Zero, err
	}
	a, ok := r.data().accounts[accountID]
	if !ok || a.OrganizationID != orgID {
		return decimal.Zero, ledger.ErrAccountNotFound
	}
	a.Balance = a.Balance.Add(delta)
	a.UpdatedAt = r.store.now()
	r.data().accounts[accountID] = a
	return a.Balance, nil
}

func (r *txRepo) InsertTransaction(_ context.Context, txn ledger.Transaction) (ledger.Transaction, error) {
	if err := r.fault("InsertTransaction"); err != nil {
		return ledger.Transaction{}, err
	}
	if !txn.Debit.IsZero() && !txn.Credit.IsZero() {
		return ledger.Transaction{}, fmt.Errorf("%w: debit and credit both set", ledger.ErrInvalidEffect)
	}
	txn.ID = r.data().id()
	txn.CreatedAt = r.store.now()
	r.data().transactions[txn.ID] = txn
	return txn, nil
}

func (r *txRepo) ListTransactions(_ context.Context, orgID int64, ids []int64) ([]ledger.Transaction, error) {
	if err := r.fault("ListTransactions"); err != nil {
		return nil, err
	}
	var out []ledger.Transaction
	for _, id := range ids {
		if t, ok := r.data().transactions[id]; ok && t.OrganizationID == orgID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *txRepo) DeleteTransactions(_ context.Context, orgID int64, ids []int64) (int64, error) {
	if err := r.fault("DeleteTransactions"); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		if t, ok := r.data().transactions[id]; ok && t.OrganizationID == orgID {
			delete(r.data().transactions, id)
			n++
		}
	}
	return n, nil
}

func (r *txRepo) GetVendorForUpdate(_ context.Context, orgID, vendorID int64) (ledger.Vendor, error) {
	if err := r.fault("GetVendorForUpdate"); err != nil {
		return ledger.Vendor{}, err
	}
	v, ok := r.data().vendors[vendorID]
	if !ok || v.OrganizationID != orgID {
		return ledger.Vendor{}, ledger.ErrVendorNotFound
	}
	return v, nil
}

func (r *txRepo) SetVendorPayable(_ context.Context, orgID, vendorID, accountID int64) error {
	if err := r.fault("SetVendorPayable"); err != nil {
		return err
	}
	v, ok := r.data().vendors[vendorID]
	if !ok || v.OrganizationID != orgID {
		return ledger.ErrVendorNotFound
	}
	id := accountID
	v.PayableAccountID = &id
	r.data().vendors[vendorID] = v
	return nil
}

func (r *txRepo) GetCostCenterForUpdate(_ context.Context, orgID, id int64) (costcenter.Accumulator, error) {
	if err := r.fault("GetCostCenterForUpdate"); err != nil {
		return costcenter.Accumulator{}, err
	}
	c, ok := r.data().centers[id]
	if !ok || c.OrganizationID != orgID {
		return costcenter.Accumulator{}, costcenter.ErrCostCenterNotFound
	}
	return c.Clone(), nil
}

func (r *txRepo) CommitCostCenterLine(_ context.Context, orgID int64, line costcenter.Line) (costcenter.Line, error) {
	if err := r.fault("CommitCostCenterLine"); err != nil {
		return costcenter.Line{}, err
	}
	c, ok := r.data().centers[line.CostCenterID]
	if !ok || c.OrganizationID != orgID {
		return costcenter.Line{}, costcenter.ErrCostCenterNotFound
	}
	c = c.Clone()
	line.ID = r.data().id()
	if err := c.Commit(line); err != nil {
		return costcenter.Line{}, err
	}
	if err := c.Verify(); err != nil {
		return costcenter.Line{}, err
	}
	c.UpdatedAt = r.store.now()
	r.data().centers[c.ID] = c
	return line, nil
}

func (r *txRepo) ReverseCostCenterLine(_ context.Context, orgID, costCenterID int64, kind costcenter.LineKind, sourceDocumentID uuid.UUID) (costcenter.Line, error) {
	if err := r.fault("ReverseCostCenterLine"); err != nil {
		return costcenter.Line{}, err
	}
	c, ok := r.data().centers[costCenterID]
	if !ok || c.OrganizationID != orgID {
		return costcenter.Line{}, costcenter.ErrCostCenterNotFound
	}
	c = c.Clone()
	line, err := c.Reverse(kind, sourceDocumentID)
	if err != nil {
		return costcenter.Line{}, err
	}
	if err := c.Verify(); err != nil {
		return costcenter.Line{}, err
	}
	c.UpdatedAt = r.store.now()
	r.data().centers[c.ID] = c
	return line, nil
}
