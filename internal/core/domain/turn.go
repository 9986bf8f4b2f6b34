package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actor is a participant in a debate
type Actor string

const (
	ActorDebaterA Actor = "debater_a"
	ActorDebaterB Actor = "debater_b"
	ActorJudge    Actor = "judge"
)

// Turn is one immutable persisted step. (debate_id, round, actor) is unique.
type Turn struct {
	ID        uuid.UUID         `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	DebateID  uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:uq_turns_debate_id_round_actor,priority:1;index:idx_turns_debate_created,priority:1" json:"debate_id"`
	Round     int               `gorm:"not null;uniqueIndex:uq_turns_debate_id_round_actor,priority:2;check:chk_turns_round,round >= 1" json:"round"`
	Actor     Actor             `gorm:"type:varchar(32);not null;uniqueIndex:uq_turns_debate_id_round_actor,priority:3" json:"actor"`
	Content   string            `gorm:"type:text;not null" json:"content"`
	Model     *string           `gorm:"type:varchar(200)" json:"model"`
	Usage     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"usage"`
	Metadata  datatypes.JSONMap `gorm:"column:metadata;type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt time.Time         `gorm:"autoCreateTime;index:idx_turns_debate_created,priority:2" json:"created_at"`
}

// TableName specifies the table name for GORM
func (Turn) TableName() string {
	return "turns"
}

// BeforeCreate GORM hook - called before creating a record
func (t *Turn) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Usage == nil {
		t.Usage = datatypes.JSONMap{}
	}
	if t.Metadata == nil {
		t.Metadata = datatypes.JSONMap{}
	}
	return nil
}

// ValidActors returns the participants in canonical in-round order
func ValidActors() []Actor {
	return []Actor{ActorDebaterA, ActorDebaterB, ActorJudge}
}

// IsValid checks if an actor is known
func (a Actor) IsValid() bool {
	return a.Order() >= 0
}

// Order is the position of the actor inside a round, -1 if unknown
func (a Actor) Order() int {
	switch a {
	case ActorDebaterA:
		return 0
	case ActorDebaterB:
		return 1
	case ActorJudge:
		return 2
	default:
		return -1
	}
}

// Label is the short transcript label
func (a Actor) Label() string {
	switch a {
	case ActorDebaterA:
		return "A"
	case ActorDebaterB:
		return "B"
	case ActorJudge:
		return "Judge"
	default:
		return string(a)
	}
}

// SortTurns orders turns by round, in-round actor order, then creation time
func SortTurns(turns []Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		if turns[i].Round != turns[j].Round {
			return turns[i].Round < turns[j].Round
		}
		if oi, oj := turns[i].Actor.Order(), turns[j].Actor.Order(); oi != oj {
			return oi < oj
		}
		return turns[i].CreatedAt.Before(turns[j].CreatedAt)
	})
}
