package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDeltaFollowsNormalSide(t *testing.T) {
	amount := decimal.RequireFromString("125.50")
	cases := []struct {
		typ  AccountType
		side Side
		want string
	}{
		{AccountTypeExpense, SideDebit, "125.5"},
		{AccountTypeExpense, SideCredit, "-125.5"},
		{AccountTypeAsset, SideCredit, "-125.5"},
		{AccountTypeLiability, SideCredit, "125.5"},
		{AccountTypeLiability, SideDebit, "-125.5"},
		{AccountTypeIncome, SideCredit, "125.5"},
	}
	for _, tc := range cases {
		got := tc.typ.Delta(tc.side, amount)
		require.Truef(t, got.Equal(decimal.RequireFromString(tc.want)), "%s/%s: got %s", tc.typ, tc.side, got)
	}
}

func TestSubAccountCode(t *testing.T) {
	require.Equal(t, "VEN-LIA-2100-007", SubAccountCode("VEN", AccountTypeLiability, "2100", 7))
	require.Equal(t, "VEN-LIA-2100-1234", SubAccountCode("VEN", AccountTypeLiability, "2100", 1234))
}

func TestTransactionLegs(t *testing.T) {
	debit := NewTransaction(SideDebit, decimal.NewFromInt(40))
	require.Equal(t, SideDebit, debit.Side())
	require.True(t, debit.Credit.IsZero())
	require.True(t, debit.Amount().Equal(decimal.NewFromInt(40)))

	credit := NewTransaction(SideCredit, decimal.NewFromInt(40))
	require.Equal(t, SideCredit, credit.Side())
	require.True(t, credit.Debit.IsZero())
}

func TestEffectValidate(t *testing.T) {
	require.NoError(t, Effect{Role: RoleFixed, AccountID: 1, Side: SideDebit, Amount: decimal.NewFromInt(1)}.Validate())
	require.NoError(t, Effect{Role: RoleVendorPayable, VendorID: 3, Side: SideCredit, Amount: decimal.NewFromInt(1)}.Validate())
	require.ErrorIs(t, Effect{Role: RoleFixed, AccountID: 1, Side: SideDebit}.Validate(), ErrInvalidEffect)
	require.ErrorIs(t, Effect{Role: RoleFixed, Side: SideDebit, Amount: decimal.NewFromInt(1)}.Validate(), ErrInvalidEffect)
	require.ErrorIs(t, Effect{Role: RoleVendorPayable, Side: SideDebit, Amount: decimal.NewFromInt(1)}.Validate(), ErrInvalidEffect)
}
