package atmxgo

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	statusOK = []byte(`{"status":"OK"}`)
)

// SessionCounter reports live terminal sessions; *Server implements it.
type SessionCounter interface {
	ActiveSessions() int64
}

type statsJSONResp struct {
	Accounts       int   `json:"accounts"`
	ActiveSessions int64 `json:"active_sessions"`
}

// NewHTTPHandler serves the operations endpoints. It never touches balances.
func NewHTTPHandler(svc Service, sessions SessionCounter, log *zerolog.Logger) http.Handler {
	hndlr := &httpHandler{
		Svc:      svc,
		Sessions: sessions,
		Log:      log,
	}
	mux := chi.NewMux()
	mux.NotFound(HTTPNotFound)
	mux.Get("/health", hndlr.Health)
	mux.Get("/stats", hndlr.Stats)

	return mux
}

type httpHandler struct {
	Svc      Service
	Sessions SessionCounter
	Log      *zerolog.Logger
}

func (h *httpHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(statusOK); err != nil {
		h.Log.Err(err).Str("method", "health").Msg("error writing HTTP response")
	}
}

func (h *httpHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := statsJSONResp{
		Accounts:       h.Svc.Accounts(),
		ActiveSessions: h.Sessions.ActiveSessions(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		WriteHTTPError(w, err)
	}
}

func WriteHTTPError(w http.ResponseWriter, err error) {
	log.Error().
		Err(err).
		Msg("HTTP handler error")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	resp := map[string]string{
		"message": "server error",
	}
	if ne := json.NewEncoder(w).Encode(resp); ne != nil {
		log.Error().
			Err(ne).
			Msg("error response encoding failed")
	}
}

func HTTPNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	resp := map[string]string{
		"path": r.URL.Path,
	}
	json.NewEncoder(w).Encode(resp)
}
