package lifecycle

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/finops/internal/approval"
	"github.com/odyssey-erp/finops/internal/document"
)

var (
	// ErrNotRevisable indicates the document has not completed its approval chain.
	ErrNotRevisable = errors.New("lifecycle: only committed documents can be revised")
	// ErrNotResubmittable indicates an update tried to restart a chain that is still running.
	ErrNotResubmittable = errors.New("lifecycle: document cannot be resubmitted")
)

// CreateInput carries the fields of a new document.
type CreateInput struct {
	OrganizationID       int64         `validate:"required,gt=0"`
	CompanyID            int64         `validate:"gte=0"`
	ActorID              int64         `validate:"required,gt=0"`
	Kind                 document.Kind `validate:"required,doc_kind"`
	Date                 time.Time     `validate:"required"`
	Amount               decimal.Decimal
	BalanceDue           decimal.Decimal
	AccountID            int64  `validate:"gte=0"`
	PaidThroughAccountID int64  `validate:"gte=0"`
	VendorID             int64  `validate:"gte=0"`
	CostCenterID         *int64 `validate:"omitempty,gt=0"`
	ParentOrderID        *uuid.UUID
	VoucherType          document.VoucherType `validate:"omitempty,oneof=payment receipt"`
	SequenceOverride     *int64               `validate:"omitempty,gt=0"`
}

// ActionInput asks for an approval transition.
type ActionInput struct {
	OrganizationID int64          `validate:"required,gt=0"`
	DocumentID     uuid.UUID      `validate:"required"`
	ActorID        int64          `validate:"required,gt=0"`
	Target         approval.State `validate:"required"`
	Comment        string         `validate:"max=2000"`
}

// Changes lists the fields an update may touch. Nil fields are kept.
type Changes struct {
	Date                 *time.Time
	Amount               *decimal.Decimal
	BalanceDue           *decimal.Decimal
	AccountID            *int64 `validate:"omitempty,gt=0"`
	PaidThroughAccountID *int64 `validate:"omitempty,gt=0"`
	VendorID             *int64 `validate:"omitempty,gt=0"`
	CostCenterID         *int64 `validate:"omitempty,gt=0"`
	ClearCostCenter      bool
	VoucherType          *document.VoucherType `validate:"omitempty,oneof=payment receipt"`
}

// UpdateInput edits an existing document.
type UpdateInput struct {
	OrganizationID int64     `validate:"required,gt=0"`
	DocumentID     uuid.UUID `validate:"required"`
	ActorID        int64     `validate:"required,gt=0"`
	Changes        Changes
}

// Result is the document after an approval transition and what the engine decided.
type Result struct {
	Document document.Document
	Outcome  approval.Outcome
}

func (c Changes) apply(doc *document.Document) {
	if c.Date != nil {
		doc.Date = *c.Date
	}
	if c.Amount != nil {
		doc.Amount = *c.Amount
	}
	if c.BalanceDue != nil {
		doc.BalanceDue = *c.BalanceDue
	}
	if c.AccountID != nil {
		doc.AccountID = *c.AccountID
	}
	if c.PaidThroughAccountID != nil {
		doc.PaidThroughAccountID = *c.PaidThroughAccountID
	}
	if c.VendorID != nil {
		doc.VendorID = *c.VendorID
	}
	if c.CostCenterID != nil {
		id := *c.CostCenterID
		doc.CostCenterID = &id
	}
	if c.ClearCostCenter {
		doc.CostCenterID = nil
	}
	if c.VoucherType != nil {
		doc.VoucherType = *c.VoucherType
	}
}
