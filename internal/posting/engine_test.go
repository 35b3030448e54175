package posting_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/finops/internal/costcenter"
	"github.com/odyssey-erp/finops/internal/document"
	"github.com/odyssey-erp/finops/internal/ledger"
	"github.com/odyssey-erp/finops/internal/posting"
	"github.com/odyssey-erp/finops/internal/shared"
	"github.com/odyssey-erp/finops/internal/storage/memory"
)

const org = int64(1)

type fixture struct {
	store    *memory.Store
	engine   *posting.Engine
	audit    *shared.MemoryAuditLog
	expense  ledger.Account
	cash     ledger.Account
	payables ledger.Account
	vendor   ledger.Vendor
	center   costcenter.Accumulator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	f := &fixture{store: store, audit: shared.NewMemoryAuditLog()}
	f.expense = store.SeedAccount(ledger.Account{OrganizationID: org, Code: "6100", Name: "Office Supplies", Type: ledger.AccountTypeExpense})
	f.cash = store.SeedAccount(ledger.Account{OrganizationID: org, Code: "1000", Name: "Cash", Type: ledger.AccountTypeAsset, Balance: decimal.NewFromInt(10000)})
	f.payables = store.SeedAccount(ledger.Account{OrganizationID: org, Code: "2100", Name: "Accounts Payable", Type: ledger.AccountTypeLiability})
	f.vendor = store.SeedVendor(ledger.Vendor{OrganizationID: org, Code: "V-01", Name: "Acme"})
	f.center = store.SeedCostCenter(costcenter.Accumulator{OrganizationID: org, Code: "CC-OPS", Name: "Operations"})
	f.engine = posting.NewEngine(store, posting.Config{PayableGroupCode: "2100", SubAccountPrefix: "SUB"}, nil, posting.WithAudit(f.audit))
	return f
}

func (f *fixture) seed(kind document.Kind, amount int64, withCenter bool) document.Document {
	doc := document.Document{
		ID:                   uuid.New(),
		Kind:                 kind,
		OrganizationID:       org,
		HumanID:              kind.DefaultPrefix() + uuid.NewString()[:6],
		Date:                 time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		Amount:               decimal.NewFromInt(amount),
		AccountID:            f.expense.ID,
		PaidThroughAccountID: f.cash.ID,
		VendorID:             f.vendor.ID,
		Valid:                true,
	}
	if withCenter {
		id := f.center.ID
		doc.CostCenterID = &id
	}
	f.store.SeedDocument(doc)
	return doc
}

func TestPostAndReverseAreSymmetric(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := f.seed(document.KindBill, 500, true)
	before := f.store.Balance(f.expense.ID)

	res, err := f.engine.Post(ctx, org, bill.ID)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	require.Len(t, res.CostCenterLineIDs, 1)

	require.True(t, f.store.Balance(f.expense.ID).Equal(before.Add(decimal.NewFromInt(500))))
	vendor, _ := f.store.Vendor(f.vendor.ID)
	require.NotNil(t, vendor.PayableAccountID)
	payable, ok := f.store.Account(*vendor.PayableAccountID)
	require.True(t, ok)
	require.Equal(t, "SUB-LIA-2100-001", payable.Code)
	require.Equal(t, f.payables.ID, *payable.ParentID)
	require.True(t, payable.Balance.Equal(decimal.NewFromInt(500)))

	debit := res.Transactions[0]
	require.True(t, debit.Debit.Equal(decimal.NewFromInt(500)))
	require.True(t, debit.Credit.IsZero())
	require.True(t, debit.RunningBalance.Equal(decimal.NewFromInt(500)))
	require.Equal(t, bill.HumanID, debit.Reference)
	require.Equal(t, payable.ID, debit.SourceAccountID)

	center, _ := f.store.CostCenter(f.center.ID)
	require.True(t, center.TotalExpense.Equal(decimal.NewFromInt(500)))

	require.NoError(t, f.engine.Reverse(ctx, org, bill.ID))
	require.True(t, f.store.Balance(f.expense.ID).Equal(before))
	require.True(t, f.store.Balance(payable.ID).IsZero())
	center, _ = f.store.CostCenter(f.center.ID)
	require.True(t, center.TotalExpense.IsZero())
	require.Empty(t, center.ExpenseLines)
	require.Empty(t, f.store.TransactionsFor(bill.ID))

	stored, err := f.store.GetDocument(ctx, org, bill.ID)
	require.NoError(t, err)
	require.Empty(t, stored.Transactions)
	require.Nil(t, stored.PostedCostCenterID)
	require.Len(t, f.audit.Entries(), 2)
}

func TestPostTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exp := f.seed(document.KindExpense, 120, false)

	_, err := f.engine.Post(ctx, org, exp.ID)
	require.NoError(t, err)
	_, err = f.engine.Post(ctx, org, exp.ID)
	require.ErrorIs(t, err, posting.ErrPostingConflict)

	require.True(t, f.store.Balance(f.expense.ID).Equal(decimal.NewFromInt(120)))
	require.True(t, f.store.Balance(f.cash.ID).Equal(decimal.NewFromInt(9880)))
	require.Len(t, f.store.TransactionsFor(exp.ID), 2)
}

func TestReverseUnpostedFails(t *testing.T) {
	f := newFixture(t)
	exp := f.seed(document.KindExpense, 50, false)
	err := f.engine.Reverse(context.Background(), org, exp.ID)
	require.ErrorIs(t, err, posting.ErrNothingToReverse)

	err = f.engine.Reverse(context.Background(), org, uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRepostUsesNewAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exp := f.seed(document.KindExpense, 300, true)
	before := f.store.Balance(f.expense.ID)

	_, err := f.engine.Post(ctx, org, exp.ID)
	require.NoError(t, err)

	res, err := f.engine.Repost(ctx, org, exp.ID, func(d *document.Document) error {
		d.Amount = decimal.NewFromInt(450)
		return nil
	})
	require.NoError(t, err)
	require.True(t, res.Transactions[0].RunningBalance.Equal(before.Add(decimal.NewFromInt(450))))
	require.True(t, f.store.Balance(f.cash.ID).Equal(decimal.NewFromInt(9550)))

	center, _ := f.store.CostCenter(f.center.ID)
	require.True(t, center.TotalExpense.Equal(decimal.NewFromInt(450)))
	require.Len(t, center.ExpenseLines, 1)
	require.Len(t, f.store.TransactionsFor(exp.ID), 2)
}

func TestReverseRemovesLineBySourceDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.seed(document.KindBill, 500, true)
	second := f.seed(document.KindBill, 500, true)

	_, err := f.engine.Post(ctx, org, first.ID)
	require.NoError(t, err)
	_, err = f.engine.Post(ctx, org, second.ID)
	require.NoError(t, err)

	require.NoError(t, f.engine.Reverse(ctx, org, second.ID))
	center, _ := f.store.CostCenter(f.center.ID)
	require.Len(t, center.ExpenseLines, 1)
	require.Equal(t, first.ID, center.ExpenseLines[0].SourceDocumentID)
	require.True(t, center.TotalExpense.Equal(decimal.NewFromInt(500)))

	vendor, _ := f.store.Vendor(f.vendor.ID)
	require.True(t, f.store.Balance(*vendor.PayableAccountID).Equal(decimal.NewFromInt(500)))
	require.Len(t, f.store.Accounts(org), 4)
}

func TestFailedPostingLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exp := f.seed(document.KindExpense, 75, true)

	inserts := 0
	boom := errors.New("disk full")
	f.store.Fault = func(op string) error {
		if op == "InsertTransaction" {
			inserts++
			if inserts == 2 {
				return boom
			}
		}
		return nil
	}
	_, err := f.engine.Post(ctx, org, exp.ID)
	require.ErrorIs(t, err, boom)
	f.store.Fault = nil

	require.True(t, f.store.Balance(f.expense.ID).IsZero())
	require.True(t, f.store.Balance(f.cash.ID).Equal(decimal.NewFromInt(10000)))
	require.Empty(t, f.store.TransactionsFor(exp.ID))
	center, _ := f.store.CostCenter(f.center.ID)
	require.True(t, center.TotalExpense.IsZero())
	stored, err := f.store.GetDocument(ctx, org, exp.ID)
	require.NoError(t, err)
	require.False(t, stored.Posted())
}

func TestConcurrentPostingsSerializeBalances(t *testing.T) {
	f := newFixture(t)
	const n = 20
	docs := make([]document.Document, n)
	for i := range docs {
		docs[i] = f.seed(document.KindPettyCashVoucher, 10, false)
	}
	var g errgroup.Group
	for _, d := range docs {
		g.Go(func() error {
			_, err := f.engine.Post(context.Background(), org, d.ID)
			return err
		})
	}
	require.NoError(t, g.Wait())
	require.True(t, f.store.Balance(f.expense.ID).Equal(decimal.NewFromInt(10*n)))
	require.True(t, f.store.Balance(f.cash.ID).Equal(decimal.NewFromInt(10000-10*n)))
}

func TestMissingPayableGroup(t *testing.T) {
	f := newFixture(t)
	engine := posting.NewEngine(f.store, posting.Config{PayableGroupCode: "9999"}, nil)
	bill := f.seed(document.KindBill, 10, false)
	_, err := engine.Post(context.Background(), org, bill.ID)
	require.ErrorIs(t, err, posting.ErrPayableGroupMissing)
	vendor, _ := f.store.Vendor(f.vendor.ID)
	require.Nil(t, vendor.PayableAccountID)
}

func TestReceiptVoucherBooksIncomeLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.seed(document.KindExpenseVoucher, 40, true)
	doc.VoucherType = document.VoucherReceipt
	f.store.SeedDocument(doc)

	_, err := f.engine.Post(ctx, org, doc.ID)
	require.NoError(t, err)
	center, _ := f.store.CostCenter(f.center.ID)
	require.True(t, center.TotalIncome.Equal(decimal.NewFromInt(40)))
	require.True(t, f.store.Balance(f.cash.ID).Equal(decimal.NewFromInt(10040)))
	require.True(t, f.store.Balance(f.expense.ID).Equal(decimal.NewFromInt(-40)))

	require.NoError(t, f.engine.Reverse(ctx, org, doc.ID))
	center, _ = f.store.CostCenter(f.center.ID)
	require.True(t, center.TotalIncome.IsZero())
	require.Empty(t, center.IncomeLines)
}

func TestInvalidatedDocumentCannotPost(t *testing.T) {
	f := newFixture(t)
	doc := f.seed(document.KindExpense, 10, false)
	doc.Valid = false
	f.store.SeedDocument(doc)
	_, err := f.engine.Post(context.Background(), org, doc.ID)
	require.ErrorIs(t, err, document.ErrDocumentInvalidated)
}
