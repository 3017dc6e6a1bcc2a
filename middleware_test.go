package atmxgo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/arhyth/atmxgo"
	"github.com/arhyth/atmxgo/mocks"
)

func TestValidationMWWithdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects amounts that are not positive", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		v := atmxgo.NewValidationMiddleware()(svc)

		for _, amt := range []string{"0", "0.00", "-1", "-0.01"} {
			bal, err := v.Withdraw(ctx, atmxgo.WithdrawReq{
				CardNumber: johnCard,
				Pin:        johnPin,
				Amount:     decimal.RequireFromString(amt),
			})
			as.ErrorAs(err, &atmxgo.ErrBadRequest{}, amt)
			as.Nil(bal)
		}
	})

	t.Run("rejects fractions of a cent", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		v := atmxgo.NewValidationMiddleware()(svc)

		bal, err := v.Withdraw(ctx, atmxgo.WithdrawReq{
			CardNumber: johnCard,
			Pin:        johnPin,
			Amount:     decimal.RequireFromString("10.005"),
		})
		as.ErrorAs(err, &atmxgo.ErrBadRequest{})
		as.Nil(bal)
	})

	t.Run("passes valid amounts through", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		v := atmxgo.NewValidationMiddleware()(svc)
		req := atmxgo.WithdrawReq{
			CardNumber: johnCard,
			Pin:        johnPin,
			Amount:     decimal.RequireFromString("10.50"),
		}
		want := decimal.RequireFromString("989.50")
		svc.EXPECT().
			Withdraw(gomock.Any(), req).
			Return(&want, nil)

		bal, err := v.Withdraw(ctx, req)
		as.NoError(err)
		as.Equal(&want, bal)
	})

	t.Run("leaves card checks to the store", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		v := atmxgo.NewValidationMiddleware()(svc)
		req := atmxgo.CheckBalanceReq{CardNumber: "", Pin: ""}
		svc.EXPECT().
			CheckBalance(gomock.Any(), req).
			Return(nil, atmxgo.ErrNotFound{})

		_, err := v.CheckBalance(ctx, req)
		as.ErrorAs(err, &atmxgo.ErrNotFound{})
	})
}

func TestLimitMW(t *testing.T) {
	ctx := context.Background()

	t.Run("sheds requests once the limit is reached", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		l := atmxgo.NewLimitMiddleware(atmxgo.NewServiceLimits(1, 20*time.Millisecond))(svc)

		entered := make(chan struct{})
		release := make(chan struct{})
		bal := decimal.NewFromInt(900)
		svc.EXPECT().
			Withdraw(gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, atmxgo.WithdrawReq) (*decimal.Decimal, error) {
				close(entered)
				<-release
				return &bal, nil
			})

		done := make(chan error, 1)
		go func() {
			_, err := l.Withdraw(ctx, atmxgo.WithdrawReq{CardNumber: johnCard, Pin: johnPin, Amount: decimal.NewFromInt(100)})
			done <- err
		}()
		<-entered

		_, err := l.Withdraw(ctx, atmxgo.WithdrawReq{CardNumber: johnCard, Pin: johnPin, Amount: decimal.NewFromInt(100)})
		as.ErrorIs(err, atmxgo.ErrServiceBusy)

		close(release)
		as.NoError(<-done)
	})

	t.Run("operations have separate limits", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		l := atmxgo.NewLimitMiddleware(atmxgo.NewServiceLimits(1, 20*time.Millisecond))(svc)

		entered := make(chan struct{})
		release := make(chan struct{})
		svc.EXPECT().
			Withdraw(gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, atmxgo.WithdrawReq) (*decimal.Decimal, error) {
				close(entered)
				<-release
				return nil, atmxgo.ErrInsufficientFunds
			})
		svc.EXPECT().
			ValidateCardKey(gomock.Any(), atmxgo.ValidateCardKeyReq{CardKey: "key123"}).
			Return(johnCard, nil)

		done := make(chan struct{})
		go func() {
			defer close(done)
			l.Withdraw(ctx, atmxgo.WithdrawReq{CardNumber: johnCard, Pin: johnPin, Amount: decimal.NewFromInt(100)})
		}()
		<-entered

		num, err := l.ValidateCardKey(ctx, atmxgo.ValidateCardKeyReq{CardKey: "key123"})
		as.NoError(err)
		as.Equal(johnCard, num)

		close(release)
		<-done
	})

	t.Run("releases the slot after each call", func(tt *testing.T) {
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		l := atmxgo.NewLimitMiddleware(atmxgo.NewServiceLimits(1, 20*time.Millisecond))(svc)
		svc.EXPECT().
			CheckBalance(gomock.Any(), gomock.Any()).
			Return(nil, atmxgo.ErrInvalidPin).
			Times(3)

		for i := 0; i < 3; i++ {
			_, err := l.CheckBalance(ctx, atmxgo.CheckBalanceReq{CardNumber: johnCard, Pin: "0000"})
			assert.ErrorIs(tt, err, atmxgo.ErrInvalidPin)
		}
	})
}

func TestCircuitBreakMW(t *testing.T) {
	ctx := context.Background()
	nooplog := zerolog.Nop()
	req := atmxgo.WithdrawReq{CardNumber: johnCard, Pin: johnPin, Amount: decimal.NewFromInt(10)}

	t.Run("opens after consecutive infrastructure failures", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		cb := atmxgo.NewCircuitBreakMiddleware(atmxgo.NewServiceBreaker(2, time.Minute, &nooplog))(svc)
		svc.EXPECT().
			Withdraw(gomock.Any(), req).
			Return(nil, atmxgo.ErrInternalServer).
			Times(2)

		for i := 0; i < 2; i++ {
			_, err := cb.Withdraw(ctx, req)
			as.ErrorIs(err, atmxgo.ErrInternalServer)
		}
		_, err := cb.Withdraw(ctx, req)
		as.ErrorIs(err, atmxgo.ErrServiceBusy)
	})

	t.Run("application errors do not trip the breaker", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		cb := atmxgo.NewCircuitBreakMiddleware(atmxgo.NewServiceBreaker(2, time.Minute, &nooplog))(svc)
		appErrs := []error{
			atmxgo.ErrInsufficientFunds,
			atmxgo.ErrInvalidPin,
			atmxgo.ErrNotFound{CardNumber: johnCard},
			atmxgo.ErrBadRequest{Fields: map[string]string{"amount": "must be positive"}},
		}
		for _, e := range appErrs {
			svc.EXPECT().
				Withdraw(gomock.Any(), req).
				Return(nil, e)
		}

		for _, e := range appErrs {
			_, err := cb.Withdraw(ctx, req)
			as.Equal(e, err)
		}
	})

	t.Run("a success resets the failure count", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		cb := atmxgo.NewCircuitBreakMiddleware(atmxgo.NewServiceBreaker(2, time.Minute, &nooplog))(svc)
		bal := decimal.NewFromInt(990)
		gomock.InOrder(
			svc.EXPECT().Withdraw(gomock.Any(), req).Return(nil, errors.New("disk full")),
			svc.EXPECT().Withdraw(gomock.Any(), req).Return(&bal, nil),
			svc.EXPECT().Withdraw(gomock.Any(), req).Return(nil, errors.New("disk full")),
			svc.EXPECT().Withdraw(gomock.Any(), req).Return(&bal, nil),
		)

		for i := 0; i < 4; i++ {
			_, err := cb.Withdraw(ctx, req)
			as.NotErrorIs(err, atmxgo.ErrServiceBusy)
		}
	})

	t.Run("breakers are per operation", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		cb := atmxgo.NewCircuitBreakMiddleware(atmxgo.NewServiceBreaker(1, time.Minute, &nooplog))(svc)
		bal := decimal.NewFromInt(1000)
		svc.EXPECT().
			Withdraw(gomock.Any(), req).
			Return(nil, atmxgo.ErrInternalServer)
		svc.EXPECT().
			CheckBalance(gomock.Any(), gomock.Any()).
			Return(&bal, nil)

		_, err := cb.Withdraw(ctx, req)
		as.ErrorIs(err, atmxgo.ErrInternalServer)
		_, err = cb.Withdraw(ctx, req)
		as.ErrorIs(err, atmxgo.ErrServiceBusy)

		got, err := cb.CheckBalance(ctx, atmxgo.CheckBalanceReq{CardNumber: johnCard, Pin: johnPin})
		as.NoError(err)
		as.Equal(&bal, got)
	})
}

type recordingService struct {
	atmxgo.Service
	name  string
	calls *[]string
}

func (r recordingService) ValidateCardKey(ctx context.Context, req atmxgo.ValidateCardKeyReq) (string, error) {
	*r.calls = append(*r.calls, r.name)
	return r.Service.ValidateCardKey(ctx, req)
}

func TestChain(t *testing.T) {
	as := assert.New(t)
	reqrd := require.New(t)
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	svc.EXPECT().
		ValidateCardKey(gomock.Any(), gomock.Any()).
		Return(johnCard, nil)
	svc.EXPECT().
		Accounts().
		Return(2)

	var calls []string
	record := func(name string) atmxgo.Middleware {
		return func(next atmxgo.Service) atmxgo.Service {
			return recordingService{Service: next, name: name, calls: &calls}
		}
	}
	nooplog := zerolog.Nop()
	chained := atmxgo.Chain(svc,
		record("outer"),
		atmxgo.NewValidationMiddleware(),
		atmxgo.NewLimitMiddleware(atmxgo.NewServiceLimits(4, time.Second)),
		atmxgo.NewCircuitBreakMiddleware(atmxgo.NewServiceBreaker(5, time.Minute, &nooplog)),
		record("inner"),
	)

	num, err := chained.ValidateCardKey(context.Background(), atmxgo.ValidateCardKeyReq{CardKey: "key123"})
	reqrd.NoError(err)
	as.Equal(johnCard, num)
	as.Equal([]string{"outer", "inner"}, calls)
	as.Equal(2, chained.Accounts())
}
