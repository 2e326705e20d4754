package protocol

import (
	"errors"

	"github.com/fivestack-gg/match-coordinator/internal/engine"
)

// ErrorCode maps an engine rejection onto the wire error code plus a
// human-readable message. Unknown errors surface as INTERNAL without leaking
// detail to the client.
func ErrorCode(err error) (code, message string) {
	switch {
	case errors.Is(err, engine.ErrWrongTurn):
		return CodeWrongTurn, "it is not your turn to pick"
	case errors.Is(err, engine.ErrInvalidTarget):
		return CodeInvalidTarget, "target player is not available"
	case errors.Is(err, engine.ErrInvalidState):
		return CodeInvalidState, "action is not legal in the current match state"
	case errors.Is(err, engine.ErrNotHost):
		return CodeNotHost, "only the host may do that"
	case errors.Is(err, engine.ErrMatchFull):
		return CodeMatchFull, "match is full"
	case errors.Is(err, engine.ErrAlreadyJoined):
		return CodeInvalidState, "already in this match"
	case errors.Is(err, engine.ErrNotInMatch):
		return CodeInvalidTarget, "player is not in this match"
	default:
		return CodeInternal, "internal error"
	}
}
