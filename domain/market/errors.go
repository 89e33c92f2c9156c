package market

import "errors"

// ErrorCode is the result taxonomy surfaced to sessions.
type ErrorCode uint8

const (
	Ok ErrorCode = iota
	NotAuthenticated
	AlreadySubscribed
	InvalidArgs
	NotFound
	Other
)

func (c ErrorCode) String() string {
	switch c {
	case Ok:
		return "ok"
	case NotAuthenticated:
		return "notAuthenticated"
	case AlreadySubscribed:
		return "alreadySubscribed"
	case InvalidArgs:
		return "invalidArgs"
	case NotFound:
		return "notFound"
	default:
		return "other"
	}
}

var (
	ErrInvalidArgs       = errors.New("invalid arguments")
	ErrNotFound          = errors.New("order not found")
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrNotAuthenticated  = errors.New("not authenticated")
)

// CodeOf maps an error onto the session-facing taxonomy. Anything not
// in the taxonomy is an internal fault and reported as Other.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return Ok
	case errors.Is(err, ErrInvalidArgs):
		return InvalidArgs
	case errors.Is(err, ErrNotFound):
		return NotFound
	case errors.Is(err, ErrAlreadySubscribed):
		return AlreadySubscribed
	case errors.Is(err, ErrNotAuthenticated):
		return NotAuthenticated
	default:
		return Other
	}
}
