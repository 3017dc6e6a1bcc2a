package atmxgo

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/shopspring/decimal"
)

// Client is the terminal side of a connection. Like the connection itself it
// carries one request at a time and is not safe for concurrent use.
type Client struct {
	conn  net.Conn
	codec *Codec
}

func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:  conn,
		codec: NewCodec(conn),
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends cmd and waits for its response.
func (c *Client) Do(cmd Command) (Response, error) {
	if err := c.codec.WriteCommand(cmd); err != nil {
		return nil, err
	}
	return c.codec.ReadResponse()
}

func (c *Client) ValidateCardKey(cardKey string) (string, error) {
	resp, err := c.Do(ValidateCardKeyReq{CardKey: cardKey})
	if err != nil {
		return "", err
	}
	if r, ok := resp.(ValidateCardKeySuccess); ok {
		return r.CardNumber, nil
	}
	return "", responseError(resp, "")
}

func (c *Client) CheckBalance(cardNumber, pin string) (decimal.Decimal, error) {
	resp, err := c.Do(CheckBalanceReq{CardNumber: cardNumber, Pin: pin})
	if err != nil {
		return decimal.Zero, err
	}
	if r, ok := resp.(CheckBalanceSuccess); ok {
		return r.Amount, nil
	}
	return decimal.Zero, responseError(resp, cardNumber)
}

func (c *Client) Withdraw(cardNumber, pin string, amount decimal.Decimal) (decimal.Decimal, error) {
	resp, err := c.Do(WithdrawReq{CardNumber: cardNumber, Pin: pin, Amount: amount})
	if err != nil {
		return decimal.Zero, err
	}
	if r, ok := resp.(WithdrawSuccess); ok {
		return r.NewBalance, nil
	}
	return decimal.Zero, responseError(resp, cardNumber)
}

func responseError(resp Response, cardNumber string) error {
	switch resp.(type) {
	case ValidateCardKeyErrorInvalid:
		return ErrInvalidCardKey
	case ErrorCardNotFound:
		return ErrNotFound{CardNumber: cardNumber}
	case ErrorInvalidPin:
		return ErrInvalidPin
	case WithdrawErrorInsufficientFunds:
		return ErrInsufficientFunds
	case WithdrawErrorInvalidAmount:
		return ErrBadRequest{Fields: map[string]string{"amount": "rejected by server"}}
	case ErrorServerInternal:
		return ErrInternalServer
	}
	return fmt.Errorf("%w: %s", ErrUnexpectedResponse, resp.responseTag())
}

// CardSession is the per-connection state a terminal keeps after a card is
// inserted: the resolved card number and the PIN, asked for once and reused
// until the server rejects it. Nothing here outlives the connection.
type CardSession struct {
	Language Language

	client     *Client
	prompt     func() (string, error)
	cardNumber string
	pin        string
}

// NewCardSession binds a session to client. prompt is called whenever a PIN
// is needed and none is cached.
func NewCardSession(client *Client, lang Language, prompt func() (string, error)) *CardSession {
	return &CardSession{
		Language: lang,
		client:   client,
		prompt:   prompt,
	}
}

var ErrNoCard = errors.New("no card inserted")

// InsertCard exchanges the card key for the card number.
func (cs *CardSession) InsertCard(cardKey string) error {
	num, err := cs.client.ValidateCardKey(cardKey)
	if err != nil {
		return err
	}
	cs.cardNumber = num
	cs.pin = ""
	return nil
}

func (cs *CardSession) CardNumber() string {
	return cs.cardNumber
}

func (cs *CardSession) Balance() (decimal.Decimal, error) {
	pin, err := cs.getPin()
	if err != nil {
		return decimal.Zero, err
	}
	bal, err := cs.client.CheckBalance(cs.cardNumber, pin)
	cs.forgetPinOn(err)
	return bal, err
}

func (cs *CardSession) Withdraw(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrBadRequest{Fields: map[string]string{"amount": "must be positive"}}
	}
	pin, err := cs.getPin()
	if err != nil {
		return decimal.Zero, err
	}
	bal, err := cs.client.Withdraw(cs.cardNumber, pin, amount)
	cs.forgetPinOn(err)
	return bal, err
}

func (cs *CardSession) getPin() (string, error) {
	if cs.cardNumber == "" {
		return "", ErrNoCard
	}
	if cs.pin != "" {
		return cs.pin, nil
	}
	pin, err := cs.prompt()
	if err != nil {
		return "", err
	}
	cs.pin = pin
	return pin, nil
}

func (cs *CardSession) forgetPinOn(err error) {
	if errors.Is(err, ErrInvalidPin) {
		cs.pin = ""
	}
}
