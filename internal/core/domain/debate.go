package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status is the lifecycle state of a debate
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusStopping  Status = "stopping"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StopReason records why a debate stopped advancing
type StopReason string

const (
	StopMaxRounds            StopReason = "max_rounds"
	StopMaxRuntimeSeconds    StopReason = "max_runtime_seconds"
	StopMaxTotalOutputTokens StopReason = "max_total_output_tokens"
	StopJudgeNoNewArguments  StopReason = "judge_no_new_arguments"
	StopManual               StopReason = "manual_stop"
	StopError                StopReason = "error"
)

// Debate is a single exchange between two debaters and a judge.
// NextRound/NextActor form the cursor naming the step the worker produces next.
type Debate struct {
	ID         uuid.UUID                    `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Topic      string                       `gorm:"type:text;not null" json:"topic"`
	Status     Status                       `gorm:"type:varchar(32);not null;default:'created';index" json:"status"`
	Settings   datatypes.JSONType[Settings] `gorm:"type:jsonb;not null" json:"settings"`
	NextRound  int                          `gorm:"not null;default:1;check:chk_debates_next_round,next_round >= 1" json:"next_round"`
	NextActor  Actor                        `gorm:"type:varchar(32);not null;default:'debater_a'" json:"next_actor"`
	StopReason *StopReason                  `gorm:"type:varchar(64)" json:"stop_reason,omitempty"`
	LastError  *string                      `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt  time.Time                    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time                    `gorm:"autoUpdateTime;index" json:"updated_at"`

	// Relations
	Turns []Turn `gorm:"foreignKey:DebateID;constraint:OnDelete:CASCADE" json:"turns,omitempty"`
}

// TableName specifies the table name for GORM
func (Debate) TableName() string {
	return "debates"
}

// BeforeCreate GORM hook - called before creating a record
func (d *Debate) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.NextRound < 1 {
		d.NextRound = 1
	}
	if d.NextActor == "" {
		d.NextActor = ActorDebaterA
	}
	if d.Status == "" {
		d.Status = StatusCreated
	}
	return nil
}

// Config returns the typed settings
func (d *Debate) Config() Settings {
	return d.Settings.Data()
}

// SetConfig replaces the stored settings
func (d *Debate) SetConfig(s Settings) {
	d.Settings = datatypes.NewJSONType(s)
}

// Cursor returns the next step to be produced
func (d *Debate) Cursor() (int, Actor) {
	return d.NextRound, d.NextActor
}

// SetCursor moves the cursor
func (d *Debate) SetCursor(round int, actor Actor) {
	d.NextRound = round
	d.NextActor = actor
}

// CompletedRounds is derived from the cursor and never negative
func (d *Debate) CompletedRounds() int {
	if d.NextRound <= 1 {
		return 0
	}
	return d.NextRound - 1
}

// SetStopReason records reason
func (d *Debate) SetStopReason(reason StopReason) {
	r := reason
	d.StopReason = &r
}

// HasStopReason reports whether any stop reason is recorded
func (d *Debate) HasStopReason() bool {
	return d.StopReason != nil && *d.StopReason != ""
}

// SetLastError records msg, or clears it when msg is empty
func (d *Debate) SetLastError(msg string) {
	if msg == "" {
		d.LastError = nil
		return
	}
	m := msg
	d.LastError = &m
}

// IsTerminal reports whether the status ends a run
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusFailed
}

// ValidStatuses returns list of valid debate statuses
func ValidStatuses() []Status {
	return []Status{
		StatusCreated,
		StatusRunning,
		StatusStopping,
		StatusStopped,
		StatusCompleted,
		StatusFailed,
	}
}

// IsValidStatus checks if a status is valid
func IsValidStatus(status string) bool {
	for _, s := range ValidStatuses() {
		if string(s) == status {
			return true
		}
	}
	return false
}
