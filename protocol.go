package atmxgo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Command is a request sent by a terminal. The set of commands is closed.
type Command interface {
	commandTag() string
}

// Response is the server's answer to exactly one Command. The set is closed.
type Response interface {
	responseTag() string
}

type ValidateCardKeyReq struct {
	CardKey string
}

type WithdrawReq struct {
	CardNumber string
	Pin        string
	Amount     decimal.Decimal
}

type CheckBalanceReq struct {
	CardNumber string
	Pin        string
}

func (ValidateCardKeyReq) commandTag() string { return "ValidateCardKey" }
func (WithdrawReq) commandTag() string        { return "Withdraw" }
func (CheckBalanceReq) commandTag() string    { return "CheckBalance" }

type (
	ValidateCardKeySuccess struct {
		CardNumber string
	}
	ValidateCardKeyErrorInvalid struct{}

	WithdrawSuccess struct {
		NewBalance decimal.Decimal
	}
	WithdrawErrorInsufficientFunds struct{}
	WithdrawErrorInvalidAmount     struct{}

	CheckBalanceSuccess struct {
		Amount decimal.Decimal
	}

	ErrorServerInternal struct{}
	ErrorInvalidPin     struct{}
	ErrorCardNotFound   struct{}
)

func (ValidateCardKeySuccess) responseTag() string         { return "ValidateCardKeySuccess" }
func (ValidateCardKeyErrorInvalid) responseTag() string    { return "ValidateCardKeyErrorInvalid" }
func (WithdrawSuccess) responseTag() string                { return "WithdrawSuccess" }
func (WithdrawErrorInsufficientFunds) responseTag() string { return "WithdrawErrorInsufficientFunds" }
func (WithdrawErrorInvalidAmount) responseTag() string     { return "WithdrawErrorInvalidAmount" }
func (CheckBalanceSuccess) responseTag() string            { return "CheckBalanceSuccess" }
func (ErrorServerInternal) responseTag() string            { return "ErrorServerInternal" }
func (ErrorInvalidPin) responseTag() string                { return "ErrorInvalidPin" }
func (ErrorCardNotFound) responseTag() string              { return "ErrorCardNotFound" }

// Wire bodies. Money is carried as a bare JSON number so that terminals
// speaking the original float protocol can still talk to us.
type (
	validateCardKeyBody struct {
		CardKey string `json:"card_key"`
	}
	withdrawBody struct {
		CardNumber string      `json:"card_number"`
		Pin        string      `json:"pin"`
		Amount     json.Number `json:"amount"`
	}
	checkBalanceBody struct {
		CardNumber string `json:"card_number"`
		Pin        string `json:"pin"`
	}
	cardNumberBody struct {
		CardNumber string `json:"card_number"`
	}
	newBalanceBody struct {
		NewBalance json.Number `json:"new_balance"`
	}
	amountBody struct {
		Amount json.Number `json:"amount"`
	}
)

func marshalCommand(cmd Command) ([]byte, error) {
	var body any
	switch c := cmd.(type) {
	case ValidateCardKeyReq:
		body = validateCardKeyBody{CardKey: c.CardKey}
	case WithdrawReq:
		body = withdrawBody{CardNumber: c.CardNumber, Pin: c.Pin, Amount: json.Number(c.Amount.String())}
	case CheckBalanceReq:
		body = checkBalanceBody{CardNumber: c.CardNumber, Pin: c.Pin}
	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}
	return json.Marshal(map[string]any{cmd.commandTag(): body})
}

func unmarshalCommand(data []byte) (Command, error) {
	tag, raw, err := splitVariant(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case "ValidateCardKey":
		var b validateCardKeyBody
		if err = decodeStrict(raw, &b); err != nil {
			return nil, err
		}
		return ValidateCardKeyReq{CardKey: b.CardKey}, nil
	case "Withdraw":
		var b withdrawBody
		if err = decodeStrict(raw, &b); err != nil {
			return nil, err
		}
		amt, err := parseMoney(b.Amount)
		if err != nil {
			return nil, err
		}
		return WithdrawReq{CardNumber: b.CardNumber, Pin: b.Pin, Amount: amt}, nil
	case "CheckBalance":
		var b checkBalanceBody
		if err = decodeStrict(raw, &b); err != nil {
			return nil, err
		}
		return CheckBalanceReq{CardNumber: b.CardNumber, Pin: b.Pin}, nil
	}
	return nil, fmt.Errorf("unknown command %q", tag)
}

func marshalResponse(resp Response) ([]byte, error) {
	var body any
	switch r := resp.(type) {
	case ValidateCardKeySuccess:
		body = cardNumberBody{CardNumber: r.CardNumber}
	case WithdrawSuccess:
		body = newBalanceBody{NewBalance: json.Number(r.NewBalance.String())}
	case CheckBalanceSuccess:
		body = amountBody{Amount: json.Number(r.Amount.String())}
	case ValidateCardKeyErrorInvalid, WithdrawErrorInsufficientFunds, WithdrawErrorInvalidAmount,
		ErrorServerInternal, ErrorInvalidPin, ErrorCardNotFound:
		return json.Marshal(resp.responseTag())
	default:
		return nil, fmt.Errorf("unsupported response %T", resp)
	}
	return json.Marshal(map[string]any{resp.responseTag(): body})
}

func unmarshalResponse(data []byte) (Response, error) {
	tag, raw, err := splitVariant(data)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		switch tag {
		case "ValidateCardKeyErrorInvalid":
			return ValidateCardKeyErrorInvalid{}, nil
		case "WithdrawErrorInsufficientFunds":
			return WithdrawErrorInsufficientFunds{}, nil
		case "WithdrawErrorInvalidAmount":
			return WithdrawErrorInvalidAmount{}, nil
		case "ErrorServerInternal":
			return ErrorServerInternal{}, nil
		case "ErrorInvalidPin":
			return ErrorInvalidPin{}, nil
		case "ErrorCardNotFound":
			return ErrorCardNotFound{}, nil
		}
		return nil, fmt.Errorf("unknown unit response %q", tag)
	}
	switch tag {
	case "ValidateCardKeySuccess":
		var b cardNumberBody
		if err = decodeStrict(raw, &b); err != nil {
			return nil, err
		}
		return ValidateCardKeySuccess{CardNumber: b.CardNumber}, nil
	case "WithdrawSuccess":
		var b newBalanceBody
		if err = decodeStrict(raw, &b); err != nil {
			return nil, err
		}
		bal, err := parseMoney(b.NewBalance)
		if err != nil {
			return nil, err
		}
		return WithdrawSuccess{NewBalance: bal}, nil
	case "CheckBalanceSuccess":
		var b amountBody
		if err = decodeStrict(raw, &b); err != nil {
			return nil, err
		}
		amt, err := parseMoney(b.Amount)
		if err != nil {
			return nil, err
		}
		return CheckBalanceSuccess{Amount: amt}, nil
	}
	return nil, fmt.Errorf("unknown response %q", tag)
}

// splitVariant reads an externally tagged enum: either a bare string for a
// unit variant (raw is nil) or an object with exactly one key.
func splitVariant(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return "", nil, err
		}
		return tag, nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("expected exactly one variant, got %d", len(obj))
	}
	var (
		tag string
		raw json.RawMessage
	)
	for k, v := range obj {
		tag, raw = k, v
	}
	if bytes.Equal(raw, []byte("null")) {
		return "", nil, fmt.Errorf("variant %q has no body", tag)
	}
	return tag, raw, nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Bounds on a money literal. Arithmetic on a decimal rescales its
// coefficient to 10^|exponent|, so an unbounded exponent is unbounded work.
const (
	maxMoneyLiteral  = 40
	maxMoneyExponent = 18
)

var ErrMoneyOutOfRange = errors.New("money amount out of range")

func parseMoney(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, fmt.Errorf("missing amount")
	}
	if len(n) > maxMoneyLiteral {
		return decimal.Zero, fmt.Errorf("%w: %d characters", ErrMoneyOutOfRange, len(n))
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, err
	}
	if exp := d.Exponent(); exp < -maxMoneyExponent || exp > maxMoneyExponent {
		return decimal.Zero, fmt.Errorf("%w: exponent %d", ErrMoneyOutOfRange, exp)
	}
	return d, nil
}
