package models

import (
	"time"

	"github.com/google/uuid"
)

// PhaseTask is one queued unit of phase work. The authenticated session
// cookies travel with the task so the worker never needs credentials.
type PhaseTask struct {
	ID            string            `json:"id" badgerhold:"key"`
	Phase         string            `json:"phase"`
	UserID        string            `json:"user_id"`
	ExpedienteNro string            `json:"expediente_nro,omitempty"`
	Cookies       map[string]string `json:"cookies"`
	EnqueuedAt    time.Time         `json:"enqueued_at"`
	VisibleAt     time.Time         `json:"visible_at"`
	ReceiveCount  int               `json:"receive_count"`
}

// NewPhaseTask creates an immediately visible task
func NewPhaseTask(phase, userID string, cookies map[string]string) *PhaseTask {
	now := time.Now()
	return &PhaseTask{
		ID:         uuid.New().String(),
		Phase:      phase,
		UserID:     userID,
		Cookies:    cookies,
		EnqueuedAt: now,
		VisibleAt:  now,
	}
}
