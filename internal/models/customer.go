package models

import "time"

// Customer represents a metering API customer cached locally
type Customer struct {
	ID        string    `json:"id"` // Metronome customer ID
	Name      string    `json:"name"`
	Tier      string    `json:"tier,omitempty"`
	Industry  string    `json:"industry,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
