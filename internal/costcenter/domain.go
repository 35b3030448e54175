package costcenter

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/finops/internal/shared"
)

// LineKind separates outflow and inflow lines.
type LineKind string

const (
	LineExpense LineKind = "expense"
	LineIncome  LineKind = "income"
)

// Line is one committed document amount inside a cost center.
type Line struct {
	ID               int64
	CostCenterID     int64
	Kind             LineKind
	SourceDocumentID uuid.UUID
	Reference        string
	Amount           decimal.Decimal
	AccountID        int64
	Date             time.Time
}

// Accumulator aggregates expense and income lines with running totals.
type Accumulator struct {
	ID             int64
	OrganizationID int64
	Code           string
	Name           string
	TotalExpense   decimal.Decimal
	TotalIncome    decimal.Decimal
	ExpenseLines   []Line
	IncomeLines    []Line
	UpdatedAt      time.Time
}

var (
	// ErrCostCenterNotFound indicates a missing cost center.
	ErrCostCenterNotFound = fmt.Errorf("costcenter: cost center %w", shared.ErrNotFound)
	// ErrLineNotFound indicates no line matches the source document.
	ErrLineNotFound = fmt.Errorf("costcenter: line %w", shared.ErrNotFound)
	// ErrDuplicateLine indicates the source document already has a line of that kind.
	ErrDuplicateLine = errors.New("costcenter: line already committed for source document")
	// ErrTotalsDrift indicates totals no longer equal the line sums.
	ErrTotalsDrift = errors.New("costcenter: totals do not match lines")
)

func (a *Accumulator) lines(kind LineKind) *[]Line {
	if kind == LineIncome {
		return &a.IncomeLines
	}
	return &a.ExpenseLines
}

func (a *Accumulator) total(kind LineKind) *decimal.Decimal {
	if kind == LineIncome {
		return &a.TotalIncome
	}
	return &a.TotalExpense
}

// Commit appends line and raises the matching total.
func (a *Accumulator) Commit(line Line) error {
	lines := a.lines(line.Kind)
	for _, existing := range *lines {
		if existing.SourceDocumentID == line.SourceDocumentID {
			return ErrDuplicateLine
		}
	}
	line.CostCenterID = a.ID
	*lines = append(*lines, line)
	total := a.total(line.Kind)
	*total = total.Add(line.Amount)
	return nil
}

// Reverse removes the line committed for sourceDocumentID and lowers the matching total.
// Lines are matched by source document, never by amount.
func (a *Accumulator) Reverse(kind LineKind, sourceDocumentID uuid.UUID) (Line, error) {
	lines := a.lines(kind)
	for i, existing := range *lines {
		if existing.SourceDocumentID != sourceDocumentID {
			continue
		}
		*lines = append((*lines)[:i:i], (*lines)[i+1:]...)
		total := a.total(kind)
		*total = total.Sub(existing.Amount)
		return existing, nil
	}
	return Line{}, ErrLineNotFound
}

// Verify checks that both totals equal the sum of their lines.
func (a Accumulator) Verify() error {
	if !sum(a.ExpenseLines).Equal(a.TotalExpense) {
		return fmt.Errorf("%w: expense total %s, lines %s", ErrTotalsDrift, a.TotalExpense, sum(a.ExpenseLines))
	}
	if !sum(a.IncomeLines).Equal(a.TotalIncome) {
		return fmt.Errorf("%w: income total %s, lines %s", ErrTotalsDrift, a.TotalIncome, sum(a.IncomeLines))
	}
	return nil
}

func sum(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return total
}

// Clone returns a deep copy.
func (a Accumulator) Clone() Accumulator {
	out := a
	out.ExpenseLines = append([]Line(nil), a.ExpenseLines...)
	out.IncomeLines = append([]Line(nil), a.IncomeLines...)
	return out
}
