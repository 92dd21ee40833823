package storage

import (
	"time"

	"github.com/google/uuid"

	"watch-arbitrage/internal/model"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunRecord is one persisted analysis run.
type RunRecord struct {
	ID                uuid.UUID
	Brand             string
	ReferenceCurrency string
	Observations      int
	Usable            int
	Opportunities     int
	SkippedGroups     int
	Status            string
	Error             *string
	StartedAt         time.Time
	FinishedAt        *time.Time
}

// OpportunityRecord is a persisted opportunity together with its run.
type OpportunityRecord struct {
	ID    int64
	RunID uuid.UUID
	model.Opportunity
	CreatedAt time.Time
}
