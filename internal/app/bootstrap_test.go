package app

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/finops/internal/approval"
	"github.com/odyssey-erp/finops/internal/costcenter"
	"github.com/odyssey-erp/finops/internal/document"
	"github.com/odyssey-erp/finops/internal/ledger"
	"github.com/odyssey-erp/finops/internal/lifecycle"
	"github.com/odyssey-erp/finops/internal/shared"
	_ "github.com/odyssey-erp/finops/testing"
)

func memoryConfig() *Config {
	return &Config{
		StorageDriver:          StorageMemory,
		ApprovalCacheBackend:   CacheMemory,
		ApprovalCacheTTL:       time.Minute,
		TxMaxAttempts:          1,
		NotifyBuffer:           8,
		NotifyTimeout:          time.Second,
		LedgerPayableGroupCode: "2100",
	}
}

func TestBootstrapMemoryRuntime(t *testing.T) {
	require.True(t, InTestMode())
	ctx := context.Background()
	rt, err := Bootstrap(ctx, memoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	require.NotNil(t, rt.Memory)
	require.Empty(t, rt.Checks)

	store := rt.Memory
	expense := store.SeedAccount(ledger.Account{OrganizationID: 1, Code: "6200", Name: "Freight", Type: ledger.AccountTypeExpense})
	store.SeedAccount(ledger.Account{OrganizationID: 1, Code: "2100", Name: "Payables", Type: ledger.AccountTypeLiability})
	vendor := store.SeedVendor(ledger.Vendor{OrganizationID: 1, Code: "V-1", Name: "Lintas"})
	center := store.SeedCostCenter(costcenter.Accumulator{OrganizationID: 1, Code: "CC-1", Name: "Logistics"})

	// Prime the resolver cache so SaveChain has something to invalidate.
	require.Equal(t, approval.StateNone, rt.Approvals.ComputeInitialApproval(ctx, "bills", 1))
	require.NoError(t, rt.SaveChain(ctx, 1, approval.FeatureConfig{
		Feature: "bills",
		Levels:  map[approval.State]approval.LevelConfig{approval.StateVerified: {Enabled: true, Roles: []string{"controller"}}},
	}))
	require.Equal(t, approval.StatePending, rt.Approvals.ComputeInitialApproval(ctx, "bills", 1))

	centerID := center.ID
	bill, err := rt.Documents.Create(ctx, lifecycle.CreateInput{
		OrganizationID: 1,
		ActorID:        9,
		Kind:           document.KindBill,
		Date:           time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Amount:         decimal.NewFromInt(250),
		BalanceDue:     decimal.NewFromInt(250),
		AccountID:      expense.ID,
		VendorID:       vendor.ID,
		CostCenterID:   &centerID,
	})
	require.NoError(t, err)
	require.Equal(t, "BILL-001", bill.HumanID)

	res, err := rt.Documents.Advance(ctx, lifecycle.ActionInput{OrganizationID: 1, DocumentID: bill.ID, ActorID: 10, Target: approval.StateVerified})
	require.NoError(t, err)
	require.True(t, res.Outcome.IsFinal)
	require.True(t, store.Balance(expense.ID).Equal(decimal.NewFromInt(250)))

	refs, err := rt.CostCenters.ListRefs(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 1)
}

func TestSaveChainRejectsNonLevels(t *testing.T) {
	rt, err := Bootstrap(context.Background(), memoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	err = rt.SaveChain(context.Background(), 1, approval.FeatureConfig{
		Feature: "bills",
		Levels:  map[approval.State]approval.LevelConfig{approval.StateRejected: {Enabled: true}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.ErrorIs(t, rt.SaveChain(context.Background(), 1, approval.FeatureConfig{}), shared.ErrValidation)
}
