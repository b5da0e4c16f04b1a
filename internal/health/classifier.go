// Package health classifies customer commitments by comparing how much of a
// commit has been consumed against how much of its term has elapsed.
//
// Classification is a pure function of a snapshot of records and a reference
// date; it performs no I/O and is safe for concurrent use.
package health

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the health bucket of an account.
type Status string

const (
	StatusHealthy        Status = "healthy"
	StatusOnTrack        Status = "on_track"
	StatusAtRisk         Status = "at_risk"
	StatusOverConsuming  Status = "over_consuming"
	StatusUnderConsuming Status = "under_consuming"
	StatusCritical       Status = "critical"
)

// DataQualityWarning is the kind of every non-fatal diagnostic.
const DataQualityWarning = "data_quality_warning"

const (
	RecommendNoCommitments  = "No active commitments to track."
	RecommendOverConsuming  = "Customer is burning faster than expected — upsell opportunity."
	RecommendUnderConsuming = "Customer is underutilizing — requires engagement."
	RecommendOnTrack        = "Customer usage is on track."
)

// ratioEpsilon guards the ratio when nothing of the term has elapsed yet.
const ratioEpsilon = 1e-6

var hundred = decimal.NewFromInt(100)

// Diagnostic annotates an assessment with a corrected data problem.
type Diagnostic struct {
	Kind       string `json:"kind"`
	ContractID string `json:"contract_id,omitempty"`
	Message    string `json:"message"`
}

// Assessment is the outcome of classifying one customer's records.
type Assessment struct {
	TotalCommits        decimal.Decimal `json:"total_commits"`
	RemainingBalance    decimal.Decimal `json:"remaining_balance"`
	BurnedAmount        decimal.Decimal `json:"burned_amount"`
	ActualBurnPercent   float64         `json:"actual_burn_rate"`
	ExpectedBurnPercent float64         `json:"expected_burn_rate"`
	Ratio               float64         `json:"ratio"`
	DaysRemaining       int             `json:"days_remaining"`
	Status              Status          `json:"health_status"`
	Recommendations     []string        `json:"recommendations"`
	Diagnostics         []Diagnostic    `json:"diagnostics,omitempty"`
	AsOf                time.Time       `json:"as_of"`
}

// Policy holds the classification thresholds.
type Policy struct {
	// OverConsumingRatio is exceeded (strictly) by over-consuming accounts.
	OverConsumingRatio float64 `yaml:"over_consuming_ratio"`
	// UnderConsumingRatio is undercut (strictly) by under-consuming accounts.
	UnderConsumingRatio float64 `yaml:"under_consuming_ratio"`
	// RenewalWindowDays adds a renewal recommendation when the farthest
	// contract ends within this many days. Zero disables it.
	RenewalWindowDays int `yaml:"renewal_window_days"`
}

// DefaultPolicy returns the standard 1.5x / 0.5x thresholds.
func DefaultPolicy() Policy {
	return Policy{
		OverConsumingRatio:  1.5,
		UnderConsumingRatio: 0.5,
		RenewalWindowDays:   30,
	}
}

// Classifier classifies records under a Policy.
type Classifier struct {
	policy Policy
}

// NewClassifier returns a Classifier. Non-positive ratios fall back to defaults.
func NewClassifier(p Policy) *Classifier {
	def := DefaultPolicy()
	if p.OverConsumingRatio <= 0 {
		p.OverConsumingRatio = def.OverConsumingRatio
	}
	if p.UnderConsumingRatio <= 0 {
		p.UnderConsumingRatio = def.UnderConsumingRatio
	}
	if p.RenewalWindowDays < 0 {
		p.RenewalWindowDays = 0
	}
	return &Classifier{policy: p}
}

// Policy returns the thresholds in effect.
func (c *Classifier) Policy() Policy {
	return c.policy
}

var defaultClassifier = NewClassifier(DefaultPolicy())

// Classify classifies records with the default policy.
func Classify(records []CommitRecord, asOf time.Time) (Assessment, error) {
	return defaultClassifier.Classify(records, asOf)
}

// Classify aggregates the active, in-window records of one customer and
// buckets the result. Only ErrInvalidInput is ever returned.
func (c *Classifier) Classify(records []CommitRecord, asOf time.Time) (Assessment, error) {
	a := Assessment{
		TotalCommits:     decimal.Zero,
		RemainingBalance: decimal.Zero,
		BurnedAmount:     decimal.Zero,
		AsOf:             asOf,
	}

	var weighted, weights float64
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return Assessment{}, err
		}
		inverted := r.InvertedRange()
		if inverted {
			a.Diagnostics = append(a.Diagnostics, Diagnostic{
				Kind:       DataQualityWarning,
				ContractID: r.ContractID,
				Message: fmt.Sprintf("end date %s precedes start date %s; treated as fully elapsed",
					r.EndDate.Format(time.DateOnly), r.StartDate.Format(time.DateOnly)),
			})
		}
		if !r.IsActive() || (!inverted && !r.InWindow(asOf)) {
			continue
		}

		total, remaining, burned, diag := r.balances()
		if diag != nil {
			a.Diagnostics = append(a.Diagnostics, *diag)
		}
		if total.IsZero() {
			a.Diagnostics = append(a.Diagnostics, Diagnostic{
				Kind:       DataQualityWarning,
				ContractID: r.ContractID,
				Message:    "active commitment has a zero total amount",
			})
		}
		a.TotalCommits = a.TotalCommits.Add(total)
		a.RemainingBalance = a.RemainingBalance.Add(remaining)
		a.BurnedAmount = a.BurnedAmount.Add(burned)

		w := total.InexactFloat64()
		weighted += w * r.elapsedFraction(asOf)
		weights += w
		if d := r.daysRemaining(asOf); d > a.DaysRemaining {
			a.DaysRemaining = d
		}
	}

	if !a.TotalCommits.IsPositive() {
		a.Status = StatusHealthy
		a.Recommendations = []string{RecommendNoCommitments}
		return a, nil
	}

	a.ActualBurnPercent = a.BurnedAmount.Mul(hundred).Div(a.TotalCommits).InexactFloat64()
	if weights > 0 {
		a.ExpectedBurnPercent = weighted / weights * 100
	}
	a.Ratio = a.ActualBurnPercent / math.Max(a.ExpectedBurnPercent, ratioEpsilon)

	switch {
	case a.ExpectedBurnPercent == 0:
		// Term has not started to elapse: any burn at all is ahead of plan.
		if a.ActualBurnPercent > 0 {
			a.Status = StatusOverConsuming
			a.Recommendations = []string{RecommendOverConsuming}
		} else {
			a.Status = StatusHealthy
			a.Recommendations = []string{RecommendOnTrack}
		}
	case a.Ratio > c.policy.OverConsumingRatio:
		a.Status = StatusOverConsuming
		a.Recommendations = []string{RecommendOverConsuming}
	case a.Ratio < c.policy.UnderConsumingRatio:
		a.Status = StatusUnderConsuming
		a.Recommendations = []string{RecommendUnderConsuming}
	default:
		a.Status = StatusHealthy
		a.Recommendations = []string{RecommendOnTrack}
	}

	if c.policy.RenewalWindowDays > 0 && a.DaysRemaining > 0 && a.DaysRemaining <= c.policy.RenewalWindowDays {
		a.Recommendations = append(a.Recommendations,
			fmt.Sprintf("Commitment ends in %d days; schedule a renewal conversation.", a.DaysRemaining))
	}
	return a, nil
}
