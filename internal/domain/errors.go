package domain

import "errors"

// Domain errors
var (
	ErrValidation         = errors.New("invalid request")
	ErrMatchNotFound      = errors.New("match not found")
	ErrRoomCodeNotFound   = errors.New("no active match for room code")
	ErrMembershipNotFound = errors.New("membership not found in match")
	ErrGameNotFound       = errors.New("game not found")
	ErrUnauthenticated    = errors.New("caller identity required")
	ErrForbidden          = errors.New("operation restricted to the match host")
	ErrInvalidTransition  = errors.New("operation not allowed in current match status")
	ErrNoPlayers          = errors.New("match has no players")
	ErrCodesExhausted     = errors.New("room code allocation attempts exhausted")
	ErrInternalError      = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrMatchNotFound) ||
		errors.Is(err, ErrRoomCodeNotFound) ||
		errors.Is(err, ErrMembershipNotFound) ||
		errors.Is(err, ErrGameNotFound)
}
