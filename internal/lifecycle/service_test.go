package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/finops/internal/approval"
	"github.com/odyssey-erp/finops/internal/costcenter"
	"github.com/odyssey-erp/finops/internal/document"
	"github.com/odyssey-erp/finops/internal/ledger"
	"github.com/odyssey-erp/finops/internal/lifecycle"
	"github.com/odyssey-erp/finops/internal/notify"
	"github.com/odyssey-erp/finops/internal/posting"
	"github.com/odyssey-erp/finops/internal/sequence"
	"github.com/odyssey-erp/finops/internal/shared"
	"github.com/odyssey-erp/finops/internal/storage/memory"
)

const (
	org   = int64(1)
	clerk = int64(11)
	boss  = int64(12)
)

type fixture struct {
	store    *memory.Store
	svc      *lifecycle.Service
	deps     lifecycle.Dependencies
	resolver *approval.Resolver
	sent     *notify.Recorder
	history  *approval.MemoryHistory
	audit    *shared.MemoryAuditLog
	expense  ledger.Account
	cash     ledger.Account
	payables ledger.Account
	vendor   ledger.Vendor
	center   costcenter.Accumulator
}

func newFixture(t *testing.T, chains ...approval.FeatureConfig) *fixture {
	t.Helper()
	store := memory.New()
	for _, fc := range chains {
		store.SaveFeature(org, fc)
	}
	f := &fixture{
		store:   store,
		sent:    &notify.Recorder{},
		history: &approval.MemoryHistory{},
		audit:   shared.NewMemoryAuditLog(),
	}
	f.expense = store.SeedAccount(ledger.Account{OrganizationID: org, Code: "6100", Name: "Travel", Type: ledger.AccountTypeExpense})
	f.cash = store.SeedAccount(ledger.Account{OrganizationID: org, Code: "1000", Name: "Cash", Type: ledger.AccountTypeAsset, Balance: decimal.NewFromInt(5000)})
	f.payables = store.SeedAccount(ledger.Account{OrganizationID: org, Code: "2100", Name: "Accounts Payable", Type: ledger.AccountTypeLiability})
	f.vendor = store.SeedVendor(ledger.Vendor{OrganizationID: org, Code: "V-7", Name: "Garuda"})
	f.center = store.SeedCostCenter(costcenter.Accumulator{OrganizationID: org, Code: "CC-SALES", Name: "Sales"})

	f.resolver = approval.NewResolver(store, approval.NewMemoryCache(time.Minute), nil)
	approvals := approval.NewEngine(f.resolver, f.sent, nil)
	poster := posting.NewEngine(store, posting.Config{PayableGroupCode: "2100"}, nil)
	ids := sequence.NewGenerator(store, sequence.WithDefaultPrefix(func(kind string) string {
		return document.Kind(kind).DefaultPrefix()
	}))
	f.deps = lifecycle.Dependencies{
		Repository: store,
		Reader:     store,
		IDs:        ids,
		Approvals:  approvals,
		Posting:    poster,
		History:    f.history,
		Audit:      f.audit,
	}
	f.svc = lifecycle.NewService(f.deps)
	return f
}

// rechain replaces a feature's chain and drops the cached configuration.
func (f *fixture) rechain(t *testing.T, fc approval.FeatureConfig) {
	t.Helper()
	f.store.SaveFeature(org, fc)
	require.NoError(t, f.resolver.Invalidate(context.Background(), org))
}

func chain(feature string, levels ...approval.State) approval.FeatureConfig {
	fc := approval.FeatureConfig{Feature: feature, Levels: map[approval.State]approval.LevelConfig{}, FinalRoles: []string{"finance"}}
	for _, l := range levels {
		fc.Levels[l] = approval.LevelConfig{Enabled: true, Roles: []string{string(l) + "-role"}}
	}
	return fc
}

func (f *fixture) bill(amount int64) lifecycle.CreateInput {
	center := f.center.ID
	return lifecycle.CreateInput{
		OrganizationID: org,
		ActorID:        clerk,
		Kind:           document.KindBill,
		Date:           time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
		Amount:         decimal.NewFromInt(amount),
		BalanceDue:     decimal.NewFromInt(amount),
		AccountID:      f.expense.ID,
		VendorID:       f.vendor.ID,
		CostCenterID:   &center,
	}
}

func (f *fixture) expenseInput(amount int64) lifecycle.CreateInput {
	return lifecycle.CreateInput{
		OrganizationID:       org,
		ActorID:              clerk,
		Kind:                 document.KindExpense,
		Date:                 time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC),
		Amount:               decimal.NewFromInt(amount),
		AccountID:            f.expense.ID,
		PaidThroughAccountID: f.cash.ID,
	}
}

func (f *fixture) payableBalance(t *testing.T) decimal.Decimal {
	t.Helper()
	vendor, ok := f.store.Vendor(f.vendor.ID)
	require.True(t, ok)
	if vendor.PayableAccountID == nil {
		return decimal.Zero
	}
	return f.store.Balance(*vendor.PayableAccountID)
}

func (f *fixture) centerExpense() decimal.Decimal {
	c, _ := f.store.CostCenter(f.center.ID)
	return c.TotalExpense
}

func TestCreateWithoutChainPostsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.svc.Create(ctx, f.expenseInput(200))
	require.NoError(t, err)
	require.Equal(t, approval.StateNone, doc.Approval.State)
	require.Equal(t, "EXP-001", doc.HumanID)
	require.Len(t, doc.Transactions, 2)
	require.True(t, f.store.Balance(f.expense.ID).Equal(decimal.NewFromInt(200)))
	require.True(t, f.store.Balance(f.cash.ID).Equal(decimal.NewFromInt(4800)))
	require.Empty(t, f.sent.Sent())

	next, err := f.svc.Create(ctx, f.expenseInput(10))
	require.NoError(t, err)
	require.Equal(t, "EXP-002", next.HumanID)
}

func TestSingleLevelBillPostsOnApproval(t *testing.T) {
	f := newFixture(t, chain("bills", approval.StateApproved1))
	ctx := context.Background()

	bill, err := f.svc.Create(ctx, f.bill(500))
	require.NoError(t, err)
	require.Equal(t, approval.StatePending, bill.Approval.State)
	require.False(t, bill.Posted())
	require.True(t, f.payableBalance(t).IsZero())

	sent := f.sent.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, []string{"approved1-role"}, sent[0].Roles)
	require.Equal(t, "bills", sent[0].Feature)
	require.Equal(t, bill.HumanID, sent[0].HumanID)

	res, err := f.svc.Advance(ctx, lifecycle.ActionInput{OrganizationID: org, DocumentID: bill.ID, ActorID: boss, Target: approval.StateApproved1})
	require.NoError(t, err)
	require.True(t, res.Outcome.IsFinal)
	require.True(t, res.Document.Posted())
	require.True(t, f.store.Balance(f.expense.ID).Equal(decimal.NewFromInt(500)))
	require.True(t, f.payableBalance(t).Equal(decimal.NewFromInt(500)))
	require.True(t, f.centerExpense().Equal(decimal.NewFromInt(500)))

	sent = f.sent.Sent()
	require.Len(t, sent, 2)
	require.True(t, sent[1].IsFinal)
	require.Equal(t, []string{"finance"}, sent[1].Roles)

	entries, err := f.history.List(ctx, org, bill.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, approval.StateApproved1, entries[1].To)
}

func TestRejectAfterCommitRestoresBalances(t *testing.T) {
	f := newFixture(t, chain("bills", approval.StateApproved1))
	ctx := context.Background()

	bill, err := f.svc.Create(ctx, f.bill(500))
	require.NoError(t, err)
	_, err = f.svc.Advance(ctx, lifecycle.ActionInput{OrganizationID: org, DocumentID: bill.ID, ActorID: boss, Target: approval.StateApproved1})
	require.NoError(t, err)

	res, err := f.svc.Reject(ctx, org, bill.ID, boss, "wrong vendor")
	require.NoError(t, err)
	require.True(t, res.Outcome.Release)
	require.Equal(t, approval.StateRejected, res.Document.Approval.State)
	require.Equal(t, "wrong vendor", res.Document.Approval.Comment)
	require.False(t, res.Document.Posted())
	require.True(t, f.store.Balance(f.expense.ID).IsZero())
	require.True(t, f.payableBalance(t).IsZero())
	require.True(t, f.centerExpense().IsZero())
	require.Empty(t, f.store.TransactionsFor(bill.ID))
}

func TestCorrectionClearsSignaturesAndUpdateResubmits(t *testing.T) {
	f := newFixture(t, chain("bills", approval.StateReviewed, approval.StateApproved1))
	ctx := context.Background()

	bill, err := f.svc.Create(ctx, f.bill(300))
	require.NoError(t, err)
	res, err := f.svc.Advance(ctx, lifecycle.ActionInput{OrganizationID: org, DocumentID: bill.ID, ActorID: boss, Target: approval.StateReviewed})
	require.NoError(t, err)
	require.NotNil(t, res.Document.Approval.ReviewedBy)
	require.False(t, res.Outcome.IsFinal)
	require.Equal(t, approval.StateApproved1, res.Outcome.NextLevel)

	res, err = f.svc.Correct(ctx, org, bill.ID, boss, "attach receipt")
	require.NoError(t, err)
	require.Equal(t, approval.StateCorrection, res.Document.Approval.State)
	require.Nil(t, res.Document.Approval.ReviewedBy)
	require.Nil(t, res.Document.Approval.ReviewedAt)

	_, err = f.svc.Advance(ctx, lifecycle.ActionInput{OrganizationID: org, DocumentID: bill.ID, ActorID: boss, Target: approval.StateApproved1})
	require.ErrorIs(t, err, approval.ErrInvalidTransition)

	amount := decimal.NewFromInt(320)
	updated, err := f.svc.Update(ctx, lifecycle.UpdateInput{OrganizationID: org, DocumentID: bill.ID, ActorID: clerk, Changes: lifecycle.Changes{Amount: &amount, BalanceDue: &amount}})
	require.NoError(t, err)
	require.Equal(t, approval.StatePending, updated.Approval.State)
	require.True(t, updated.Amount.Equal(amount))
	require.False(t, updated.Posted())

	sent := f.sent.Sent()
	last := sent[len(sent)-1]
	require.Equal(t, []string{"reviewed-role"}, last.Roles)
}

func TestSkippingLevelsIsRejected(t *testing.T) {
	f := newFixture(t, chain("bills", approval.StateReviewed, approval.StateApproved1))
	ctx := context.Background()

	bill, err := f.svc.Create(ctx, f.bill(100))
	require.NoError(t, err)
	_, err = f.svc.Advance(ctx, lifecycle.ActionInput{OrganizationID: org, DocumentID: bill.ID, ActorID: boss, Target: approval.StateApproved1})
	require.ErrorIs(t, err, approval.ErrInvalidTransition)

	stored, err := f.svc.Get(ctx, org, bill.ID)
	require.NoError(t, err)
	require.Equal(t, approval.StatePending, stored.Approval.State)
}

func TestUpdateCommittedDocumentReposts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.svc.Create(ctx, f.expenseInput(200))
	require.NoError(t, err)

	amount := decimal.NewFromInt(350)
	updated, err := f.svc.Update(ctx, lifecycle.UpdateInput{OrganizationID: org, DocumentID: doc.ID, ActorID: clerk, Changes: lifecycle.Changes{Amount: &amount}})
	require.NoError(t, err)
	require.True(t, updated.Posted())
	require.True(t, f.store.Balance(f.expense.ID).Equal(amount))
	require.True(t, f.store.Balance(f.cash.ID).Equal(decimal.NewFromInt(4650)))
	require.Len(t, f.store.TransactionsFor(doc.ID), 2)
}

func TestInvalidateReversesAndBlocksFurtherActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.svc.Create(ctx, f.expenseInput(75))
	require.NoError(t, err)
	require.NoError(t, f.svc.Invalidate(ctx, org, doc.ID, boss))
	require.True(t, f.store.Balance(f.expense.ID).IsZero())
	require.True(t, f.store.Balance(f.cash.ID).Equal(decimal.NewFromInt(5000)))

	require.ErrorIs(t, f.svc.Invalidate(ctx, org, doc.ID, boss), document.ErrDocumentInvalidated)
	_, err = f.svc.Reject(ctx, org, doc.ID, boss, "")
	require.ErrorIs(t, err, document.ErrDocumentInvalidated)
}

func TestReviseReissuesCommittedDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.svc.Create(ctx, f.expenseInput(200))
	require.NoError(t, err)

	amount := decimal.NewFromInt(260)
	rev, err := f.svc.Revise(ctx, lifecycle.UpdateInput{OrganizationID: org, DocumentID: doc.ID, ActorID: clerk, Changes: lifecycle.Changes{Amount: &amount}})
	require.NoError(t, err)
	require.Equal(t, doc.HumanID+"-REV1", rev.HumanID)
	require.Equal(t, 1, rev.Revision)
	require.NotEqual(t, doc.ID, rev.ID)
	require.True(t, rev.Posted())
	require.True(t, f.store.Balance(f.expense.ID).Equal(amount))

	orig, err := f.svc.Get(ctx, org, doc.ID)
	require.NoError(t, err)
	require.False(t, orig.Valid)
	require.False(t, orig.Posted())

	again, err := f.svc.Revise(ctx, lifecycle.UpdateInput{OrganizationID: org, DocumentID: rev.ID, ActorID: clerk})
	require.NoError(t, err)
	require.Equal(t, doc.HumanID+"-REV2", again.HumanID)
}

func TestReviseRequiresCommittedDocument(t *testing.T) {
	f := newFixture(t, chain("bills", approval.StateApproved1))
	ctx := context.Background()

	bill, err := f.svc.Create(ctx, f.bill(90))
	require.NoError(t, err)
	_, err = f.svc.Revise(ctx, lifecycle.UpdateInput{OrganizationID: org, DocumentID: bill.ID, ActorID: clerk})
	require.ErrorIs(t, err, lifecycle.ErrNotRevisable)

	stored, err := f.svc.Get(ctx, org, bill.ID)
	require.NoError(t, err)
	require.True(t, stored.Valid)
}

func TestPartialReceiveGetsSuffix(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent := uuid.New()
	in := f.bill(100)
	in.Kind = document.KindPurchaseReceive
	in.ParentOrderID = &parent
	in.BalanceDue = decimal.NewFromInt(40)

	first, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	require.Equal(t, "PR-001-P-1", first.HumanID)

	second, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	require.Equal(t, "PR-002-P-2", second.HumanID)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.expenseInput(10)
	in.Kind = "invoice"
	_, err := f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = f.expenseInput(0)
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = f.expenseInput(10)
	in.VoucherType = document.VoucherReceipt
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = f.expenseInput(10)
	in.PaidThroughAccountID = 0
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, document.ErrMissingAccount)
	require.True(t, f.store.Balance(f.expense.ID).IsZero())
}

func TestPurchaseOrderHasNoLedgerEffect(t *testing.T) {
	f := newFixture(t)
	in := f.bill(800)
	in.Kind = document.KindPurchaseOrder

	po, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, approval.StateNone, po.Approval.State)
	require.False(t, po.Posted())
	require.True(t, f.centerExpense().IsZero())
}
