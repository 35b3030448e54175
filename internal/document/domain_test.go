package document

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/finops/internal/costcenter"
	"github.com/odyssey-erp/finops/internal/ledger"
)

func sampleDocument(kind Kind) Document {
	cc := int64(40)
	return Document{
		ID:                   uuid.New(),
		Kind:                 kind,
		OrganizationID:       1,
		HumanID:              kind.DefaultPrefix() + "001",
		Date:                 time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		Amount:               decimal.NewFromInt(500),
		AccountID:            10,
		PaidThroughAccountID: 20,
		VendorID:             30,
		CostCenterID:         &cc,
		Valid:                true,
	}
}

func TestEffectsPerKind(t *testing.T) {
	cases := []struct {
		kind   Kind
		debit  ledger.Effect
		credit ledger.Effect
	}{
		{KindExpense, ledger.Effect{Role: ledger.RoleFixed, AccountID: 10}, ledger.Effect{Role: ledger.RoleFixed, AccountID: 20}},
		{KindBill, ledger.Effect{Role: ledger.RoleFixed, AccountID: 10}, ledger.Effect{Role: ledger.RoleVendorPayable, VendorID: 30}},
		{KindPurchaseReceive, ledger.Effect{Role: ledger.RoleFixed, AccountID: 10}, ledger.Effect{Role: ledger.RoleVendorPayable, VendorID: 30}},
		{KindPaymentMade, ledger.Effect{Role: ledger.RoleVendorPayable, VendorID: 30}, ledger.Effect{Role: ledger.RoleFixed, AccountID: 20}},
		{KindPettyCashClosing, ledger.Effect{Role: ledger.RoleFixed, AccountID: 10}, ledger.Effect{Role: ledger.RoleFixed, AccountID: 20}},
		{KindPettyCashVoucher, ledger.Effect{Role: ledger.RoleFixed, AccountID: 10}, ledger.Effect{Role: ledger.RoleFixed, AccountID: 20}},
		{KindExpenseVoucher, ledger.Effect{Role: ledger.RoleFixed, AccountID: 10}, ledger.Effect{Role: ledger.RoleFixed, AccountID: 20}},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			effects, err := sampleDocument(tc.kind).Effects()
			require.NoError(t, err)
			require.Len(t, effects, 2)
			require.Equal(t, ledger.SideDebit, effects[0].Side)
			require.Equal(t, ledger.SideCredit, effects[1].Side)
			require.Equal(t, tc.debit.Role, effects[0].Role)
			require.Equal(t, tc.debit.AccountID, effects[0].AccountID)
			require.Equal(t, tc.debit.VendorID, effects[0].VendorID)
			require.Equal(t, tc.credit.Role, effects[1].Role)
			require.Equal(t, tc.credit.AccountID, effects[1].AccountID)
			require.Equal(t, tc.credit.VendorID, effects[1].VendorID)
			for _, e := range effects {
				require.NoError(t, e.Validate())
				require.True(t, e.Amount.Equal(decimal.NewFromInt(500)))
			}
		})
	}
}

func TestReceiptVoucherSwapsLegsAndBooksIncome(t *testing.T) {
	doc := sampleDocument(KindExpenseVoucher)
	doc.VoucherType = VoucherReceipt
	effects, err := doc.Effects()
	require.NoError(t, err)
	require.Equal(t, int64(20), effects[0].AccountID)
	require.Equal(t, int64(10), effects[1].AccountID)

	line, ok := doc.CostCenterLine()
	require.True(t, ok)
	require.Equal(t, costcenter.LineIncome, line.Kind)
	require.Equal(t, doc.ID, line.SourceDocumentID)
	require.Equal(t, doc.HumanID, line.Reference)
}

func TestPurchaseOrderHasNoEffects(t *testing.T) {
	doc := sampleDocument(KindPurchaseOrder)
	effects, err := doc.Effects()
	require.NoError(t, err)
	require.Empty(t, effects)
	_, ok := doc.CostCenterLine()
	require.False(t, ok)
}

func TestPaymentMadeSkipsCostCenter(t *testing.T) {
	_, ok := sampleDocument(KindPaymentMade).CostCenterLine()
	require.False(t, ok)

	doc := sampleDocument(KindBill)
	doc.CostCenterID = nil
	_, ok = doc.CostCenterLine()
	require.False(t, ok)
}

func TestEffectsRequireAccounts(t *testing.T) {
	doc := sampleDocument(KindExpense)
	doc.PaidThroughAccountID = 0
	_, err := doc.Effects()
	require.ErrorIs(t, err, ErrMissingAccount)

	doc = sampleDocument(KindBill)
	doc.VendorID = 0
	_, err = doc.Effects()
	require.ErrorIs(t, err, ErrMissingAccount)

	_, err = Document{Kind: "invoice", Amount: decimal.NewFromInt(1)}.Effects()
	require.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestPostedAndPartial(t *testing.T) {
	doc := sampleDocument(KindBill)
	require.False(t, doc.Posted())
	doc.Transactions = []int64{1, 2}
	require.True(t, doc.Posted())

	parent := uuid.New()
	doc.ParentOrderID = &parent
	require.False(t, doc.IsPartial())
	doc.BalanceDue = decimal.NewFromInt(100)
	require.True(t, doc.IsPartial())
}

func TestKindMetadata(t *testing.T) {
	require.Equal(t, "bills", KindBill.Feature())
	require.Equal(t, "pettycashvoucher", KindPettyCashVoucher.Feature())
	for _, k := range Kinds {
		require.NotEmpty(t, k.DefaultPrefix(), k)
		require.True(t, k.Capabilities().Approval, k)
	}
	require.False(t, Kind("invoice").Valid())
}
