package atmxgo_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/arhyth/atmxgo"
	"github.com/arhyth/atmxgo/mocks"
)

type fixedSessions int64

func (f fixedSessions) ActiveSessions() int64 {
	return int64(f)
}

func TestHTTPHealth(t *testing.T) {
	as := assert.New(t)
	nooplog := zerolog.Nop()
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	hndlr := atmxgo.NewHTTPHandler(svc, fixedSessions(0), &nooplog)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	hndlr.ServeHTTP(w, req)

	as.Equal(http.StatusOK, w.Code)
	as.JSONEq(`{"status":"OK"}`, w.Body.String())
}

func TestHTTPStats(t *testing.T) {
	nooplog := zerolog.Nop()

	t.Run("reports accounts and live sessions", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		svc.EXPECT().
			Accounts().
			Return(2).
			Times(1)
		hndlr := atmxgo.NewHTTPHandler(svc, fixedSessions(3), &nooplog)

		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusOK, w.Code)
		as.Equal("application/json", w.Header().Get("Content-Type"))
		resp := map[string]int{}
		reqrd.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		as.Equal(map[string]int{"accounts": 2, "active_sessions": 3}, resp)
	})

	t.Run("stats are read only", func(tt *testing.T) {
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		hndlr := atmxgo.NewHTTPHandler(svc, fixedSessions(0), &nooplog)

		req := httptest.NewRequest(http.MethodPost, "/stats", nil)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		assert.Equal(tt, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("unknown path is a JSON 404", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		hndlr := atmxgo.NewHTTPHandler(svc, fixedSessions(0), &nooplog)

		req := httptest.NewRequest(http.MethodGet, "/accounts/1234567890123456", nil)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusNotFound, w.Code)
		as.JSONEq(`{"path":"/accounts/1234567890123456"}`, w.Body.String())
	})
}
