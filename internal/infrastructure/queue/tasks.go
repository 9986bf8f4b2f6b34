package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task Types (constants for task identification)
const (
	TaskTypeDebateAdvance = "debate:advance"
)

// AdvancePayload is the body of a debate:advance task
type AdvancePayload struct {
	DebateID uuid.UUID `json:"debate_id"`
}

// NewAdvanceTask builds a debate:advance task
func NewAdvanceTask(debateID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(AdvancePayload{DebateID: debateID})
	if err != nil {
		return nil, fmt.Errorf("marshal advance payload: %w", err)
	}
	return asynq.NewTask(TaskTypeDebateAdvance, payload), nil
}

// ParseAdvancePayload decodes a debate:advance task body
func ParseAdvancePayload(task *asynq.Task) (AdvancePayload, error) {
	var p AdvancePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode advance payload: %w", err)
	}
	if p.DebateID == uuid.Nil {
		return p, fmt.Errorf("advance payload has no debate_id")
	}
	return p, nil
}
