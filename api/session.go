package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medgaze/medgaze/domain"
	"github.com/medgaze/medgaze/session"
)

// SessionCookieName is the name of the cookie carrying the session
// credential. The credential is opaque to the client; only its identity
// value matters to the server.
const SessionCookieName = "session_id"

// credential reads the inbound session credential, or "" if absent.
func credential(c echo.Context) string {
	cookie, err := c.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return cookie.Value
}

// setCredential (re)issues the session cookie.
func (h *Handler) setCredential(c echo.Context, sessionID string) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(h.config.SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// resolveSession maps the request's credential to a live session, minting a
// fresh one when the credential is missing, malformed or stale, and keeps
// the cookie in sync. Unknown credentials never error; they silently become
// new, empty sessions.
func (h *Handler) resolveSession(c echo.Context) (*domain.Session, *session.Context, error) {
	cred := credential(c)
	sess, conv, err := h.sessions.Resolve(cred)
	if err != nil {
		return nil, nil, err
	}
	if sess.SessionID != cred {
		h.setCredential(c, sess.SessionID)
	}
	return sess, conv, nil
}
