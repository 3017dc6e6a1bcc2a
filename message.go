package atmxgo

import (
	"errors"
)

type Language int

const (
	English Language = iota
	Bulgarian
)

func (l Language) String() string {
	switch l {
	case Bulgarian:
		return "bg"
	default:
		return "en"
	}
}

type localized struct {
	en, bg string
}

var (
	msgInvalidCardKey = localized{"Invalid card key", "Невалиден ключ на картата"}
	msgCardNotFound   = localized{"Card not found", "Картата не е намерена"}
	msgInvalidPin     = localized{"Invalid PIN", "Невалиден ПИН"}
	msgInsufficient   = localized{"Insufficient funds", "Недостатъчна наличност"}
	msgInvalidAmount  = localized{"Invalid amount", "Невалидна сума"}
	msgServerBusy     = localized{"Service temporarily unavailable", "Услугата е временно недостъпна"}
	msgServerError    = localized{"Server error", "Сървърна грешка"}
	msgNoCard         = localized{"Please insert your card", "Моля, поставете картата си"}
	msgConnection     = localized{"Connection to the bank was lost", "Връзката с банката е прекъсната"}
)

func (m localized) in(lang Language) string {
	if lang == Bulgarian {
		return m.bg
	}
	return m.en
}

// Message returns the text a terminal shows for err in lang. Every
// application error gets its own message; nil yields an empty string.
func Message(lang Language, err error) string {
	var fe *FrameError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCardKey):
		return msgInvalidCardKey.in(lang)
	case errors.As(err, &ErrNotFound{}):
		return msgCardNotFound.in(lang)
	case errors.Is(err, ErrInvalidPin):
		return msgInvalidPin.in(lang)
	case errors.Is(err, ErrInsufficientFunds):
		return msgInsufficient.in(lang)
	case errors.As(err, &ErrBadRequest{}):
		return msgInvalidAmount.in(lang)
	case errors.Is(err, ErrServiceBusy):
		return msgServerBusy.in(lang)
	case errors.Is(err, ErrNoCard):
		return msgNoCard.in(lang)
	case errors.Is(err, ErrPeerClosed), errors.As(err, &fe):
		return msgConnection.in(lang)
	}
	return msgServerError.in(lang)
}
