package atmxgo

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
)

// Session serves one terminal connection: read a command, run it against the
// shared store, write the response, repeat. There is never more than one
// command in flight per connection.
type Session struct {
	ID    snowflake.ID
	conn  net.Conn
	codec *Codec
	svc   Service
	log   zerolog.Logger

	idleTimeout  time.Duration
	writeTimeout time.Duration
}

func NewSession(id snowflake.ID, conn net.Conn, svc Service, cfg ServerConfig, log *zerolog.Logger) *Session {
	codec := NewCodec(conn)
	codec.MaxFrameSize = cfg.MaxFrameSize
	return &Session{
		ID:           id,
		conn:         conn,
		codec:        codec,
		svc:          svc,
		log:          log.With().Str("session", id.String()).Logger(),
		idleTimeout:  cfg.IdleTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
}

// Serve runs until the peer disconnects (nil) or the connection fails. It
// does not close the connection.
func (s *Session) Serve(ctx context.Context) error {
	// Commands already read are run to completion even when ctx ends.
	dctx := context.WithoutCancel(s.log.WithContext(ctx))
	for {
		if s.idleTimeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
				return err
			}
		}
		// Checked after arming the deadline so a concurrent drain, which
		// resets it to now, cannot be overwritten.
		if ctx.Err() != nil {
			return nil
		}
		cmd, err := s.codec.ReadCommand()
		if err != nil {
			if errors.Is(err, ErrPeerClosed) {
				s.log.Debug().Msg("terminal disconnected")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		resp := s.dispatch(dctx, cmd)

		if s.writeTimeout > 0 {
			if err = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				return err
			}
		}
		if err = s.codec.WriteResponse(resp); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(ctx context.Context, cmd Command) Response {
	switch c := cmd.(type) {
	case ValidateCardKeyReq:
		num, err := s.svc.ValidateCardKey(ctx, c)
		s.logOutcome("validate_card_key", num, err)
		if err != nil {
			return responseForError(err)
		}
		return ValidateCardKeySuccess{CardNumber: num}

	case CheckBalanceReq:
		bal, err := s.svc.CheckBalance(ctx, c)
		s.logOutcome("check_balance", c.CardNumber, err)
		if err != nil {
			return responseForError(err)
		}
		return CheckBalanceSuccess{Amount: *bal}

	case WithdrawReq:
		bal, err := s.svc.Withdraw(ctx, c)
		s.logOutcome("withdraw", c.CardNumber, err)
		if err != nil {
			return responseForError(err)
		}
		return WithdrawSuccess{NewBalance: *bal}
	}
	s.log.Error().Str("command", cmd.commandTag()).Msg("no handler for command")
	return ErrorServerInternal{}
}

func (s *Session) logOutcome(method, cardNumber string, err error) {
	var evt *zerolog.Event
	switch {
	case err == nil:
		evt = s.log.Info()
	case isApplicationError(err):
		evt = s.log.Info().Str("outcome", err.Error())
	default:
		evt = s.log.Err(err)
	}
	if cardNumber != "" {
		evt = evt.Str("card", MaskCardNumber(cardNumber))
	}
	evt.Str("method", method).Msg("command handled")
}

func responseForError(err error) Response {
	switch {
	case errors.As(err, &ErrNotFound{}):
		return ErrorCardNotFound{}
	case errors.Is(err, ErrInvalidPin):
		return ErrorInvalidPin{}
	case errors.Is(err, ErrInsufficientFunds):
		return WithdrawErrorInsufficientFunds{}
	case errors.As(err, &ErrBadRequest{}):
		return WithdrawErrorInvalidAmount{}
	case errors.Is(err, ErrInvalidCardKey):
		return ValidateCardKeyErrorInvalid{}
	}
	return ErrorServerInternal{}
}
