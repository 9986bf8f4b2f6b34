package progression

import "github.com/alejandroruanova/debate-engine/internal/core/domain"

// Step names one (round, actor) position in a debate
type Step struct {
	Round int
	Actor domain.Actor
}

// NextStepFromHistory derives the next step from the last persisted turn.
// turns must be in canonical order.
func NextStepFromHistory(turns []domain.Turn) Step {
	if len(turns) == 0 {
		return Step{Round: 1, Actor: domain.ActorDebaterA}
	}

	last := turns[len(turns)-1]
	switch last.Actor {
	case domain.ActorDebaterA:
		return Step{Round: last.Round, Actor: domain.ActorDebaterB}
	case domain.ActorDebaterB:
		return Step{Round: last.Round, Actor: domain.ActorJudge}
	default:
		return Step{Round: last.Round + 1, Actor: domain.ActorDebaterA}
	}
}

// AdvanceAfterPersist moves the cursor past a step that was just stored.
// A judge step keeps the round; callers pass the round they want next.
func AdvanceAfterPersist(round int, persisted domain.Actor) Step {
	switch persisted {
	case domain.ActorDebaterA:
		return Step{Round: round, Actor: domain.ActorDebaterB}
	case domain.ActorDebaterB:
		return Step{Round: round + 1, Actor: domain.ActorDebaterA}
	default:
		return Step{Round: round, Actor: domain.ActorDebaterA}
	}
}

// CompletedRoundsFromCursor is max(0, nextRound-1)
func CompletedRoundsFromCursor(nextRound int) int {
	if nextRound <= 1 {
		return 0
	}
	return nextRound - 1
}

// IsValidCursor reports whether (round, actor) can be stored on a debate
func IsValidCursor(round int, actor domain.Actor) bool {
	return round >= 1 && actor.IsValid()
}

// JudgeRoundForStop is the round the judge evaluates when a stop fires with
// the cursor at (round, actor). At a round boundary that is the round just
// finished; mid-round it is the current one. Never below 1.
func JudgeRoundForStop(round int, actor domain.Actor) int {
	if actor == domain.ActorDebaterA && round > 1 {
		return round - 1
	}
	if round < 1 {
		return 1
	}
	return round
}

// ResyncCursor recomputes the cursor from history. In end mode the judge only
// speaks once a stop reason exists, so a derived judge step without one
// becomes the start of the next round.
func ResyncCursor(turns []domain.Turn, mode domain.JudgeMode, stopRecorded bool) Step {
	next := NextStepFromHistory(turns)
	if next.Actor == domain.ActorJudge && mode == domain.JudgeAtEnd && !stopRecorded {
		return Step{Round: next.Round + 1, Actor: domain.ActorDebaterA}
	}
	return next
}
