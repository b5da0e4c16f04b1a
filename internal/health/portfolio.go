package health

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Totals is a plain summation over every record, regardless of status or dates.
type Totals struct {
	TotalCommits      decimal.Decimal `json:"total_commits"`
	RemainingBalance  decimal.Decimal `json:"remaining_balance"`
	BurnedAmount      decimal.Decimal `json:"burned_amount"`
	ActualBurnPercent float64         `json:"actual_burn_rate"`
}

// Summarize sums all records, clamping balances the same way Classify does.
func Summarize(records []CommitRecord) (Totals, error) {
	t := Totals{
		TotalCommits:     decimal.Zero,
		RemainingBalance: decimal.Zero,
		BurnedAmount:     decimal.Zero,
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return Totals{}, err
		}
		total, remaining, burned, _ := r.balances()
		t.TotalCommits = t.TotalCommits.Add(total)
		t.RemainingBalance = t.RemainingBalance.Add(remaining)
		t.BurnedAmount = t.BurnedAmount.Add(burned)
	}
	t.ActualBurnPercent = burnPercent(t.BurnedAmount, t.TotalCommits)
	return t, nil
}

func burnPercent(burned, total decimal.Decimal) float64 {
	if !total.IsPositive() {
		return 0
	}
	return burned.Mul(hundred).Div(total).InexactFloat64()
}

// CustomerAssessment pairs a customer with its assessment and totals.
type CustomerAssessment struct {
	CustomerID   string
	CustomerName string
	Assessment   Assessment
	Totals       Totals
}

// AccountSummary is one row of the portfolio's action list.
type AccountSummary struct {
	CustomerID        string          `json:"customer_id"`
	CustomerName      string          `json:"customer_name"`
	Status            Status          `json:"status"`
	ActualBurnPercent float64         `json:"actual_burn_rate"`
	RemainingBalance  decimal.Decimal `json:"remaining_balance"`
	DaysRemaining     int             `json:"days_remaining"`
}

// Portfolio is the cross-customer rollup.
type Portfolio struct {
	Accounts       int              `json:"accounts"`
	ByStatus       map[Status]int   `json:"by_status"`
	Totals         Totals           `json:"totals"`
	AtRiskRevenue  decimal.Decimal  `json:"at_risk_revenue"`
	NeedsAttention []AccountSummary `json:"needs_attention"`
}

// Overview rolls assessments up by display status. At-risk revenue is the
// unconsumed balance of under-consuming accounts.
func Overview(entries []CustomerAssessment, policy DisplayPolicy) Portfolio {
	p := Portfolio{
		Accounts: len(entries),
		ByStatus: make(map[Status]int),
		Totals: Totals{
			TotalCommits:     decimal.Zero,
			RemainingBalance: decimal.Zero,
			BurnedAmount:     decimal.Zero,
		},
		AtRiskRevenue:  decimal.Zero,
		NeedsAttention: []AccountSummary{},
	}
	for _, e := range entries {
		status := policy.Refine(e.Assessment)
		p.ByStatus[status]++

		p.Totals.TotalCommits = p.Totals.TotalCommits.Add(e.Totals.TotalCommits)
		p.Totals.RemainingBalance = p.Totals.RemainingBalance.Add(e.Totals.RemainingBalance)
		p.Totals.BurnedAmount = p.Totals.BurnedAmount.Add(e.Totals.BurnedAmount)

		if status == StatusUnderConsuming {
			p.AtRiskRevenue = p.AtRiskRevenue.Add(e.Assessment.RemainingBalance)
		}
		if NeedsAction(status) {
			p.NeedsAttention = append(p.NeedsAttention, AccountSummary{
				CustomerID:        e.CustomerID,
				CustomerName:      e.CustomerName,
				Status:            status,
				ActualBurnPercent: e.Assessment.ActualBurnPercent,
				RemainingBalance:  e.Assessment.RemainingBalance,
				DaysRemaining:     e.Assessment.DaysRemaining,
			})
		}
	}
	p.Totals.ActualBurnPercent = burnPercent(p.Totals.BurnedAmount, p.Totals.TotalCommits)

	sort.SliceStable(p.NeedsAttention, func(i, j int) bool {
		a, b := p.NeedsAttention[i], p.NeedsAttention[j]
		if !a.RemainingBalance.Equal(b.RemainingBalance) {
			return a.RemainingBalance.GreaterThan(b.RemainingBalance)
		}
		return a.CustomerID < b.CustomerID
	})
	return p
}
