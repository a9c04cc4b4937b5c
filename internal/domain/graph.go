// internal/domain/graph.go
package domain

import "time"

// ScreenNode is a persisted screen. Its ID is the composite signature hash.
type ScreenNode struct {
	ID           string    `json:"id"`
	AppID        string    `json:"app_id"`
	LayoutHash   string    `json:"layout_hash"`
	OCRStemsHash string    `json:"ocr_stems_hash"`
	FirstRunID   string    `json:"first_run_id"`
	Bundle       Bundle    `json:"bundle"`
	Visits       int       `json:"visits"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// TransitionEdge is a persisted action between two screens.
type TransitionEdge struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Action     string    `json:"action"`
	FirstRunID string    `json:"first_run_id"`
	Count      int       `json:"count"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// NodeMeta is optional data attached on upsert.
type NodeMeta struct {
	RunID  string
	AppID  string
	Bundle Bundle
}

// EdgeMeta is optional data attached on upsert.
type EdgeMeta struct {
	RunID      string
	Confidence float64
}

// UpsertResult reports the id of the upserted record and whether it is new.
type UpsertResult struct {
	ID      string
	Created bool
}
