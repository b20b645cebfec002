package reports

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
)

// TrialBalanceRow is one postable account with its balance split by side.
type TrialBalanceRow struct {
	AccountID int64           `json:"account_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

// TrialBalanceGroup aggregates rows sharing an account type.
type TrialBalanceGroup struct {
	Type   accounts.AccountType `json:"type"`
	Rows   []TrialBalanceRow    `json:"rows"`
	Debit  decimal.Decimal      `json:"debit"`
	Credit decimal.Decimal      `json:"credit"`
}

// TrialBalance lists every non-zero account balance. Balanced is false only
// when the stored balances disagree with double-entry.
type TrialBalance struct {
	Groups      []TrialBalanceGroup `json:"groups"`
	TotalDebit  decimal.Decimal     `json:"total_debit"`
	TotalCredit decimal.Decimal     `json:"total_credit"`
	Balanced    bool                `json:"balanced"`
}

var typeOrder = map[accounts.AccountType]int{
	accounts.AccountTypeAsset:     0,
	accounts.AccountTypeLiability: 1,
	accounts.AccountTypeEquity:    2,
	accounts.AccountTypeRevenue:   3,
	accounts.AccountTypeExpense:   4,
}

// Side places a balance on the debit or credit column. A balance opposite
// to the account nature moves to the other column.
func Side(a accounts.Account) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	bal := a.Balance
	if a.Nature == accounts.NatureCredit {
		bal = bal.Neg()
	}
	if bal.IsPositive() {
		return bal, credit
	}
	return debit, bal.Neg()
}

// BuildTrialBalance groups account balances by type in chart order.
func BuildTrialBalance(list []accounts.Account) TrialBalance {
	groups := make(map[accounts.AccountType]*TrialBalanceGroup)
	result := TrialBalance{TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, acc := range list {
		if acc.IsGroup || acc.Balance.IsZero() {
			continue
		}
		debit, credit := Side(acc)
		grp, ok := groups[acc.Type]
		if !ok {
			grp = &TrialBalanceGroup{Type: acc.Type, Debit: decimal.Zero, Credit: decimal.Zero}
			groups[acc.Type] = grp
		}
		grp.Rows = append(grp.Rows, TrialBalanceRow{AccountID: acc.ID, Code: acc.Code, Name: acc.Name, Debit: debit, Credit: credit})
		grp.Debit = grp.Debit.Add(debit)
		grp.Credit = grp.Credit.Add(credit)
		result.TotalDebit = result.TotalDebit.Add(debit)
		result.TotalCredit = result.TotalCredit.Add(credit)
	}

	for _, grp := range groups {
		sort.Slice(grp.Rows, func(i, j int) bool {
			return strings.Compare(grp.Rows[i].Code, grp.Rows[j].Code) < 0
		})
		result.Groups = append(result.Groups, *grp)
	}
	sort.Slice(result.Groups, func(i, j int) bool {
		return typeOrder[result.Groups[i].Type] < typeOrder[result.Groups[j].Type]
	})
	result.Balanced = result.TotalDebit.Equal(result.TotalCredit)
	return result
}
