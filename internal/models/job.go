package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobState represents the lifecycle state of a phase job
type JobState string

const (
	JobStateIdle    JobState = "IDLE"
	JobStatePending JobState = "PENDING"
	JobStateStarted JobState = "STARTED"
	JobStateRetry   JobState = "RETRY"
	JobStateSuccess JobState = "SUCCESS"
	JobStateFailure JobState = "FAILURE"
	JobStateRevoked JobState = "REVOKED"
)

// IsTerminal reports whether the state ends the job's lifecycle
func (s JobState) IsTerminal() bool {
	return s == JobStateSuccess || s == JobStateFailure || s == JobStateRevoked
}

// Phase names for the four top-level units of work
const (
	PhaseLista       = "fase_lista"
	PhaseMovimientos = "fase_movimientos"
	PhaseDocumentos  = "fase_documentos"
	PhaseUnico       = "fase_unico"
)

// KnownPhase reports whether name is one of the four phases
func KnownPhase(name string) bool {
	switch name {
	case PhaseLista, PhaseMovimientos, PhaseDocumentos, PhaseUnico:
		return true
	}
	return false
}

// PhaseJob tracks one asynchronous execution of a phase. At most one live
// record exists per (phase, user) pair; the record is forgotten once a
// terminal state has been reported to a poller.
type PhaseJob struct {
	ID        string    `json:"id"`
	Phase     string    `json:"phase"`
	UserID    string    `json:"user_id"`
	State     JobState  `json:"state" badgerhold:"index"`
	Result    string    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPhaseJob creates a pending job for a (phase, user) pair
func NewPhaseJob(phase, userID string) *PhaseJob {
	now := time.Now()
	return &PhaseJob{
		ID:        uuid.New().String(),
		Phase:     phase,
		UserID:    userID,
		State:     JobStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RegistryKey returns the composite key that enforces one live job per
// (phase, user) pair
func (j *PhaseJob) RegistryKey() string {
	return JobRegistryKey(j.Phase, j.UserID)
}

// JobRegistryKey builds the composite (phase, user) registry key
func JobRegistryKey(phase, userID string) string {
	return fmt.Sprintf("%s:%s", phase, userID)
}

// JobStatus is the pollable view of a phase job
type JobStatus struct {
	State  JobState `json:"state"`
	Result string   `json:"result"`
}
