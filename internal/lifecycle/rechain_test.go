package lifecycle_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/finops/internal/approval"
	"github.com/odyssey-erp/finops/internal/document"
	"github.com/odyssey-erp/finops/internal/lifecycle"
	"github.com/odyssey-erp/finops/internal/posting"
)

// A bill posted under an approved1-only chain, after which approved2 was enabled.
func postedThenRechained(t *testing.T) (*fixture, document.Document) {
	t.Helper()
	f := newFixture(t, chain("bills", approval.StateApproved1))
	ctx := context.Background()

	bill, err := f.svc.Create(ctx, f.bill(500))
	require.NoError(t, err)
	res, err := f.svc.Advance(ctx, lifecycle.ActionInput{OrganizationID: org, DocumentID: bill.ID, ActorID: boss, Target: approval.StateApproved1})
	require.NoError(t, err)
	require.True(t, res.Document.Posted())

	f.rechain(t, chain("bills", approval.StateApproved1, approval.StateApproved2))
	return f, res.Document
}

func (f *fixture) requireUnposted(t *testing.T, bill document.Document) {
	t.Helper()
	require.True(t, f.store.Balance(f.expense.ID).IsZero())
	require.True(t, f.payableBalance(t).IsZero())
	require.True(t, f.centerExpense().IsZero())
	require.Empty(t, f.store.TransactionsFor(bill.ID))
	c, ok := f.store.CostCenter(f.center.ID)
	require.True(t, ok)
	require.Empty(t, c.ExpenseLines)
}

func TestPostedDocumentSurvivesChainChange(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		run  func(t *testing.T, f *fixture, bill document.Document)
	}{
		{
			name: "reject reverses",
			run: func(t *testing.T, f *fixture, bill document.Document) {
				res, err := f.svc.Reject(ctx, org, bill.ID, boss, "wrong vendor")
				require.NoError(t, err)
				require.True(t, res.Outcome.Release)
				require.Equal(t, approval.StateRejected, res.Document.Approval.State)
				require.False(t, res.Document.Posted())
				f.requireUnposted(t, bill)
			},
		},
		{
			name: "correction reverses",
			run: func(t *testing.T, f *fixture, bill document.Document) {
				res, err := f.svc.Correct(ctx, org, bill.ID, boss, "split lines")
				require.NoError(t, err)
				require.False(t, res.Document.Posted())
				f.requireUnposted(t, bill)
			},
		},
		{
			name: "update reposts",
			run: func(t *testing.T, f *fixture, bill document.Document) {
				amount := decimal.NewFromInt(700)
				updated, err := f.svc.Update(ctx, lifecycle.UpdateInput{
					OrganizationID: org, DocumentID: bill.ID, ActorID: clerk,
					Changes: lifecycle.Changes{Amount: &amount, BalanceDue: &amount},
				})
				require.NoError(t, err)
				require.Equal(t, approval.StateApproved1, updated.Approval.State)
				require.True(t, updated.Posted())
				require.True(t, f.store.Balance(f.expense.ID).Equal(amount))
				require.True(t, f.payableBalance(t).Equal(amount))
				require.True(t, f.centerExpense().Equal(amount))
				require.Len(t, f.store.TransactionsFor(bill.ID), 2)
			},
		},
		{
			name: "revise accepts posted original",
			run: func(t *testing.T, f *fixture, bill document.Document) {
				rev, err := f.svc.Revise(ctx, lifecycle.UpdateInput{OrganizationID: org, DocumentID: bill.ID, ActorID: clerk})
				require.NoError(t, err)
				require.Equal(t, bill.HumanID+"-REV1", rev.HumanID)
				require.Equal(t, approval.StatePending, rev.Approval.State)
				require.False(t, rev.Posted())
				f.requireUnposted(t, bill)

				orig, err := f.svc.Get(ctx, org, bill.ID)
				require.NoError(t, err)
				require.False(t, orig.Valid)
			},
		},
		{
			name: "new final sign-off keeps single posting",
			run: func(t *testing.T, f *fixture, bill document.Document) {
				res, err := f.svc.Advance(ctx, lifecycle.ActionInput{OrganizationID: org, DocumentID: bill.ID, ActorID: boss, Target: approval.StateApproved2})
				require.NoError(t, err)
				require.True(t, res.Outcome.IsFinal)
				require.False(t, res.Outcome.Release)
				require.True(t, res.Document.Posted())
				require.True(t, f.payableBalance(t).Equal(decimal.NewFromInt(500)))
				require.Len(t, f.store.TransactionsFor(bill.ID), 2)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, bill := postedThenRechained(t)
			tc.run(t, f, bill)
		})
	}
}

var errSerialization = errors.New("could not serialize access")

// retryingRepository aborts the first unit of work at insert time and runs it again,
// the way PgRepository retries serialization failures.
type retryingRepository struct {
	inner   posting.Repository
	retries int
}

type abortingInsert struct {
	posting.TxRepository
}

func (abortingInsert) InsertDocument(context.Context, document.Document) error {
	return errSerialization
}

func (r *retryingRepository) WithTx(ctx context.Context, fn func(context.Context, posting.TxRepository) error) error {
	for attempt := 0; ; attempt++ {
		err := r.inner.WithTx(ctx, func(ctx context.Context, tx posting.TxRepository) error {
			if attempt == 0 {
				return fn(ctx, abortingInsert{TxRepository: tx})
			}
			return fn(ctx, tx)
		})
		if attempt == 0 && errors.Is(err, errSerialization) {
			r.retries++
			continue
		}
		return err
	}
}

func TestCreatePostsOnceWhenUnitOfWorkIsRetried(t *testing.T) {
	f := newFixture(t)
	repo := &retryingRepository{inner: f.store}
	deps := f.deps
	deps.Repository = repo
	svc := lifecycle.NewService(deps)

	doc, err := svc.Create(context.Background(), f.expenseInput(120))
	require.NoError(t, err)
	require.Equal(t, 1, repo.retries)
	require.True(t, doc.Posted())
	require.Len(t, doc.Transactions, 2)
	require.True(t, f.store.Balance(f.expense.ID).Equal(decimal.NewFromInt(120)))
	require.True(t, f.store.Balance(f.cash.ID).Equal(decimal.NewFromInt(4880)))
	require.Len(t, f.store.TransactionsFor(doc.ID), 2)
}
