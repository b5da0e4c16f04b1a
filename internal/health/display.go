package health

// DisplayPolicy refines a healthy core status into badge buckets using
// absolute burn percentages.
type DisplayPolicy struct {
	OnTrackBurnPercent  float64 `yaml:"on_track_burn_percent"`
	AtRiskBurnPercent   float64 `yaml:"at_risk_burn_percent"`
	CriticalBurnPercent float64 `yaml:"critical_burn_percent"`
	WarningWindowDays   int     `yaml:"warning_window_days"`
}

// DefaultDisplayPolicy mirrors the drawdown badges: 70% on track, 90% at
// risk inside a 45 day window, 98% critical.
func DefaultDisplayPolicy() DisplayPolicy {
	return DisplayPolicy{
		OnTrackBurnPercent:  70,
		AtRiskBurnPercent:   90,
		CriticalBurnPercent: 98,
		WarningWindowDays:   45,
	}
}

// Refine returns the display status for a. It never alters a, and any core
// status other than healthy is returned unchanged.
func (p DisplayPolicy) Refine(a Assessment) Status {
	if a.Status != StatusHealthy || !a.TotalCommits.IsPositive() {
		return a.Status
	}
	switch {
	case a.ActualBurnPercent >= p.CriticalBurnPercent && a.DaysRemaining > 0:
		return StatusCritical
	case a.ActualBurnPercent >= p.AtRiskBurnPercent && a.DaysRemaining <= p.WarningWindowDays:
		return StatusAtRisk
	case a.ActualBurnPercent >= p.OnTrackBurnPercent:
		return StatusOnTrack
	}
	return StatusHealthy
}

// NeedsAction reports statuses that call for an account team follow-up.
func NeedsAction(s Status) bool {
	switch s {
	case StatusHealthy, StatusOnTrack:
		return false
	}
	return true
}
