package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/finops/internal/shared"
)

// AccountType enumerates chart of accounts categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeIncome    AccountType = "income"
	AccountTypeExpense   AccountType = "expense"
)

// Side is the debit or credit position of a posting.
type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideDebit {
		return SideCredit
	}
	return SideDebit
}

// NormalSide returns the side on which the account type increases.
func (t AccountType) NormalSide() Side {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return SideDebit
	default:
		return SideCredit
	}
}

// Code returns the short type segment used in generated account codes.
func (t AccountType) Code() string {
	switch t {
	case AccountTypeAsset:
		return "AST"
	case AccountTypeLiability:
		return "LIA"
	case AccountTypeEquity:
		return "EQT"
	case AccountTypeIncome:
		return "INC"
	case AccountTypeExpense:
		return "EXP"
	}
	return strings.ToUpper(string(t))
}

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome, AccountTypeExpense:
		return true
	}
	return false
}

// Delta is the signed balance movement of posting amount on side.
func (t AccountType) Delta(side Side, amount decimal.Decimal) decimal.Decimal {
	if side == t.NormalSide() {
		return amount
	}
	return amount.Neg()
}

// Account holds the current balance of a ledger account.
type Account struct {
	ID             int64
	OrganizationID int64
	Code           string
	Name           string
	Type           AccountType
	ParentID       *int64
	Balance        decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Transaction is an immutable posting against one account.
type Transaction struct {
	ID               int64
	OrganizationID   int64
	AccountID        int64
	SourceAccountID  int64
	SourceDocumentID uuid.UUID
	Reference        string
	Debit            decimal.Decimal
	Credit           decimal.Decimal
	RunningBalance   decimal.Decimal
	Date             time.Time
	CreatedAt        time.Time
}

// Side reports which side the transaction was booked on.
func (t Transaction) Side() Side {
	if t.Debit.IsPositive() {
		return SideDebit
	}
	return SideCredit
}

// Amount returns the non-zero leg of the transaction.
func (t Transaction) Amount() decimal.Decimal {
	if t.Debit.IsPositive() {
		return t.Debit
	}
	return t.Credit
}

// NewTransaction builds a transaction for amount on side.
func NewTransaction(side Side, amount decimal.Decimal) Transaction {
	if side == SideDebit {
		return Transaction{Debit: amount, Credit: decimal.Zero}
	}
	return Transaction{Debit: decimal.Zero, Credit: amount}
}

// Role tells the posting engine how to find the account of an effect.
type Role string

const (
	// RoleFixed uses Effect.AccountID as is.
	RoleFixed Role = "fixed"
	// RoleVendorPayable resolves (and lazily creates) the vendor's payable sub-account.
	RoleVendorPayable Role = "vendor_payable"
)

// Effect is one balance movement a document causes when posted.
type Effect struct {
	Role      Role
	AccountID int64
	VendorID  int64
	Side      Side
	Amount    decimal.Decimal
}

// Vendor links a supplier to its payable sub-account.
type Vendor struct {
	ID               int64
	OrganizationID   int64
	Code             string
	Name             string
	PayableAccountID *int64
}

// SubAccountCode formats generated account codes as {prefix}-{type}-{parentCode}-{sequence}.
func SubAccountCode(prefix string, accountType AccountType, parentCode string, sequence int64) string {
	return fmt.Sprintf("%s-%s-%s-%03d", prefix, accountType.Code(), parentCode, sequence)
}

var (
	// ErrAccountNotFound indicates a missing ledger account.
	ErrAccountNotFound = fmt.Errorf("ledger: account %w", shared.ErrNotFound)
	// ErrVendorNotFound indicates a missing vendor.
	ErrVendorNotFound = fmt.Errorf("ledger: vendor %w", shared.ErrNotFound)
	// ErrInvalidEffect indicates an effect that cannot be applied.
	ErrInvalidEffect = errors.New("ledger: invalid effect")
)

// Validate checks the effect shape before it is resolved.
func (e Effect) Validate() error {
	if !e.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidEffect)
	}
	if e.Side != SideDebit && e.Side != SideCredit {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidEffect, e.Side)
	}
	switch e.Role {
	case RoleFixed:
		if e.AccountID == 0 {
			return fmt.Errorf("%w: account required", ErrInvalidEffect)
		}
	case RoleVendorPayable:
		if e.VendorID == 0 {
			return fmt.Errorf("%w: vendor required", ErrInvalidEffect)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidEffect, e.Role)
	}
	return nil
}
