package document

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/finops/internal/approval"
	"github.com/odyssey-erp/finops/internal/costcenter"
	"github.com/odyssey-erp/finops/internal/ledger"
	"github.com/odyssey-erp/finops/internal/shared"
)

// Kind enumerates the financial document types.
type Kind string

const (
	KindExpense          Kind = "expense"
	KindBill             Kind = "bill"
	KindPaymentMade      Kind = "paymentmade"
	KindPurchaseOrder    Kind = "purchaseorder"
	KindPurchaseReceive  Kind = "purchasereceive"
	KindPettyCashClosing Kind = "pettycashclosing"
	KindPettyCashVoucher Kind = "pettycashvoucher"
	KindExpenseVoucher   Kind = "expensevoucher"
)

// Kinds lists every supported kind.
var Kinds = []Kind{
	KindExpense, KindBill, KindPaymentMade, KindPurchaseOrder,
	KindPurchaseReceive, KindPettyCashClosing, KindPettyCashVoucher, KindExpenseVoucher,
}

// Capabilities tells which engines act on a kind.
type Capabilities struct {
	Approval   bool
	Ledger     bool
	CostCenter bool
}

// Valid reports whether k is supported.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Capabilities returns the capability set of k.
func (k Kind) Capabilities() Capabilities {
	switch k {
	case KindPurchaseOrder:
		return Capabilities{Approval: true}
	case KindPaymentMade, KindPettyCashClosing:
		return Capabilities{Approval: true, Ledger: true}
	case KindExpense, KindBill, KindPurchaseReceive, KindPettyCashVoucher, KindExpenseVoucher:
		return Capabilities{Approval: true, Ledger: true, CostCenter: true}
	}
	return Capabilities{}
}

// Feature is the approval configuration key of k.
func (k Kind) Feature() string {
	if k == KindBill {
		return "bills"
	}
	return string(k)
}

// DefaultPrefix is used for human ids when the organization chose none.
func (k Kind) DefaultPrefix() string {
	switch k {
	case KindExpense:
		return "EXP-"
	case KindBill:
		return "BILL-"
	case KindPaymentMade:
		return "PM-"
	case KindPurchaseOrder:
		return "PO-"
	case KindPurchaseReceive:
		return "PR-"
	case KindPettyCashClosing:
		return "PCC-"
	case KindPettyCashVoucher:
		return "PCV-"
	case KindExpenseVoucher:
		return "EV-"
	}
	return ""
}

// VoucherType distinguishes outflow and inflow expense vouchers.
type VoucherType string

const (
	VoucherPayment VoucherType = "payment"
	VoucherReceipt VoucherType = "receipt"
)

// Document is a financial document of any kind.
type Document struct {
	ID                   uuid.UUID
	Kind                 Kind
	OrganizationID       int64
	CompanyID            int64
	HumanID              string
	Date                 time.Time
	Amount               decimal.Decimal
	BalanceDue           decimal.Decimal
	AccountID            int64
	PaidThroughAccountID int64
	VendorID             int64
	CostCenterID         *int64
	ParentOrderID        *uuid.UUID
	VoucherType          VoucherType
	Approval             approval.Trail
	Transactions         []int64
	PostedCostCenterID   *int64
	Revision             int
	Valid                bool
	CreatedBy            int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

var (
	// ErrDocumentNotFound indicates a missing document.
	ErrDocumentNotFound = fmt.Errorf("document: %w", shared.ErrNotFound)
	// ErrDocumentInvalidated indicates the document was soft deleted.
	ErrDocumentInvalidated = errors.New("document: invalidated")
	// ErrUnsupportedKind indicates an unknown document kind.
	ErrUnsupportedKind = errors.New("document: unsupported kind")
	// ErrMissingAccount indicates a ledger effect without the account it needs.
	ErrMissingAccount = errors.New("document: ledger account required")
)

// Posted reports whether ledger or cost center effects are currently applied.
func (d Document) Posted() bool {
	return len(d.Transactions) > 0 || d.PostedCostCenterID != nil
}

// IsPartial reports whether the document covers only part of its parent order.
func (d Document) IsPartial() bool {
	return d.ParentOrderID != nil && d.BalanceDue.IsPositive()
}

func (d Document) fixed(accountID int64, side ledger.Side, label string) (ledger.Effect, error) {
	if accountID == 0 {
		return ledger.Effect{}, fmt.Errorf("%w: %s %s", ErrMissingAccount, d.Kind, label)
	}
	return ledger.Effect{Role: ledger.RoleFixed, AccountID: accountID, Side: side, Amount: d.Amount}, nil
}

func (d Document) vendorPayable(side ledger.Side) (ledger.Effect, error) {
	if d.VendorID == 0 {
		return ledger.Effect{}, fmt.Errorf("%w: %s vendor", ErrMissingAccount, d.Kind)
	}
	return ledger.Effect{Role: ledger.RoleVendorPayable, VendorID: d.VendorID, Side: side, Amount: d.Amount}, nil
}

// Effects returns the ledger movements the document causes when posted, debit leg first.
// Kinds without a ledger capability and zero amounts return no effects.
func (d Document) Effects() ([]ledger.Effect, error) {
	if !d.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, d.Kind)
	}
	if !d.Kind.Capabilities().Ledger || !d.Amount.IsPositive() {
		return nil, nil
	}
	var (
		debit, credit ledger.Effect
		err           error
	)
	switch d.Kind {
	case KindExpense, KindPettyCashVoucher, KindPettyCashClosing:
		if debit, err = d.fixed(d.AccountID, ledger.SideDebit, "account"); err != nil {
			return nil, err
		}
		credit, err = d.fixed(d.PaidThroughAccountID, ledger.SideCredit, "paid through account")
	case KindBill, KindPurchaseReceive:
		if debit, err = d.fixed(d.AccountID, ledger.SideDebit, "account"); err != nil {
			return nil, err
		}
		credit, err = d.vendorPayable(ledger.SideCredit)
	case KindPaymentMade:
		if debit, err = d.vendorPayable(ledger.SideDebit); err != nil {
			return nil, err
		}
		credit, err = d.fixed(d.PaidThroughAccountID, ledger.SideCredit, "paid through account")
	case KindExpenseVoucher:
		if d.VoucherType == VoucherReceipt {
			if debit, err = d.fixed(d.PaidThroughAccountID, ledger.SideDebit, "paid through account"); err != nil {
				return nil, err
			}
			credit, err = d.fixed(d.AccountID, ledger.SideCredit, "account")
		} else {
			if debit, err = d.fixed(d.AccountID, ledger.SideDebit, "account"); err != nil {
				return nil, err
			}
			credit, err = d.fixed(d.PaidThroughAccountID, ledger.SideCredit, "paid through account")
		}
	}
	if err != nil {
		return nil, err
	}
	return []ledger.Effect{debit, credit}, nil
}

// CostCenterLine returns the line the document pushes into its cost center.
func (d Document) CostCenterLine() (costcenter.Line, bool) {
	if d.CostCenterID == nil || !d.Kind.Capabilities().CostCenter || !d.Amount.IsPositive() {
		return costcenter.Line{}, false
	}
	return costcenter.Line{
		CostCenterID:     *d.CostCenterID,
		Kind:             d.CostCenterLineKind(),
		SourceDocumentID: d.ID,
		Reference:        d.HumanID,
		Amount:           d.Amount,
		AccountID:        d.AccountID,
		Date:             d.Date,
	}, true
}

// CostCenterLineKind returns the kind of line the document pushes.
func (d Document) CostCenterLineKind() costcenter.LineKind {
	if d.Kind == KindExpenseVoucher && d.VoucherType == VoucherReceipt {
		return costcenter.LineIncome
	}
	return costcenter.LineExpense
}
