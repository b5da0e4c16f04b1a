package models

import "time"

// SyncResult summarizes one sync run against the metering API
type SyncResult struct {
	CustomersSynced int       `json:"customers_synced"`
	BalancesSynced  int       `json:"balances_synced"`
	SnapshotsSaved  int       `json:"snapshots_saved"`
	AlertsSent      int       `json:"alerts_sent"`
	Errors          []string  `json:"errors"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}
