package atmxgo

import (
	"errors"
	"fmt"
)

var (
	ErrInternalServer    = errors.New("internal server error")
	ErrInvalidCardKey    = errors.New("invalid card key")
	ErrInvalidPin        = errors.New("invalid PIN")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrServiceBusy       = errors.New("service busy")

	// ErrNoSnapshot is returned by a Repository that has never been written to.
	ErrNoSnapshot = errors.New("no account snapshot")

	ErrUnexpectedResponse = errors.New("unexpected response")
)

type ErrBadRequest struct {
	Fields map[string]string `json:"fields"`
}

func (e ErrBadRequest) Error() string {
	return fmt.Sprintf("missing/invalid params: %v", e.Fields)
}

type ErrNotFound struct {
	CardNumber string `json:"card_number"`
}

func (e ErrNotFound) Error() string {
	return "card not found"
}

// ErrCorruptSnapshot reports a loaded account set that breaks a store invariant.
type ErrCorruptSnapshot struct {
	Reason string
}

func (e ErrCorruptSnapshot) Error() string {
	return "corrupt account snapshot: " + e.Reason
}

// isApplicationError reports whether err is an ordinary outcome of a
// well-formed request rather than an infrastructure failure.
func isApplicationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidCardKey),
		errors.Is(err, ErrInvalidPin),
		errors.Is(err, ErrInsufficientFunds):
		return true
	}
	return errors.As(err, &ErrNotFound{}) || errors.As(err, &ErrBadRequest{})
}
