package accounts

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeRevenue   AccountType = "revenue"
	AccountTypeExpense   AccountType = "expense"
)

// IsNominal reports whether balances of this type are closed out at period end.
func (t AccountType) IsNominal() bool {
	return t == AccountTypeRevenue || t == AccountTypeExpense
}

// Nature is the side on which an account normally carries its balance.
type Nature string

const (
	NatureDebit  Nature = "debit"
	NatureCredit Nature = "credit"
)

// Account models a chart of accounts node.
type Account struct {
	ID        int64           `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Type      AccountType     `json:"type"`
	Nature    Nature          `json:"nature"`
	IsGroup   bool            `json:"is_group"`
	IsActive  bool            `json:"is_active"`
	ParentID  *int64          `json:"parent_id,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AssertPostable fails for group or inactive accounts.
func AssertPostable(a Account) error {
	if a.IsGroup {
		return fmt.Errorf("%w: %s is a group account", shared.ErrAccountNotPostable, a.Code)
	}
	if !a.IsActive {
		return fmt.Errorf("%w: %s is inactive", shared.ErrAccountNotPostable, a.Code)
	}
	return nil
}

// BalanceDelta returns the change a line applies to the account balance.
func BalanceDelta(a Account, debit, credit decimal.Decimal) decimal.Decimal {
	if a.Nature == NatureCredit {
		return credit.Sub(debit)
	}
	return debit.Sub(credit)
}
