package accounts

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	kinds "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func TestAssertPostable(t *testing.T) {
	leaf := Account{Code: "1100", IsActive: true}
	require.NoError(t, AssertPostable(leaf))

	group := Account{Code: "1000", IsActive: true, IsGroup: true}
	err := AssertPostable(group)
	require.ErrorIs(t, err, shared.ErrAccountNotPostable)
	require.ErrorIs(t, err, kinds.ErrStateConflict)

	inactive := Account{Code: "1200"}
	require.ErrorIs(t, AssertPostable(inactive), shared.ErrAccountNotPostable)
}

func TestBalanceDeltaFollowsNature(t *testing.T) {
	hundred := decimal.NewFromInt(100)
	asset := Account{Nature: NatureDebit}
	revenue := Account{Nature: NatureCredit}

	require.True(t, BalanceDelta(asset, hundred, decimal.Zero).Equal(hundred))
	require.True(t, BalanceDelta(asset, decimal.Zero, hundred).Equal(hundred.Neg()))
	require.True(t, BalanceDelta(revenue, decimal.Zero, hundred).Equal(hundred))
	require.True(t, BalanceDelta(revenue, hundred, decimal.Zero).Equal(hundred.Neg()))
}

func TestNominalTypes(t *testing.T) {
	require.True(t, AccountTypeRevenue.IsNominal())
	require.True(t, AccountTypeExpense.IsNominal())
	require.False(t, AccountTypeAsset.IsNominal())
	require.False(t, AccountTypeEquity.IsNominal())
}
