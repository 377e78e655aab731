package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	errs "github.com/podscout/podscout/internal/core/errors"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
)

// handleNotificationsWS authenticates the query-string token, upgrades
// the connection and hands it to the hub. Browsers cannot set an
// Authorization header on websocket dials, hence the query token.
func (s *Server) handleNotificationsWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, r, s.logger, errs.ErrUnauthorized)

		return
	}

	person, err := s.db.PersonIDByToken(r.Context(), token)
	if err != nil {
		writeError(w, r, s.logger, err)

		return
	}

	if person == 0 {
		writeError(w, r, s.logger, errs.ErrUnauthorized)

		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin:     s.checkWSOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")

		return
	}

	s.hub.Register(conn, person, r.URL.Query().Get("campaign_id"))
}

// checkWSOrigin restricts upgrades to the configured origin. An empty
// setting admits every origin, which suits same-host deployments.
func (s *Server) checkWSOrigin(r *http.Request) bool {
	if s.cfg.WSAllowedOrigin == "" {
		return true
	}

	return r.Header.Get("Origin") == s.cfg.WSAllowedOrigin
}
