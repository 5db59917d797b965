package session

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/medcase/internal/logger"
)

// CookieName is the session cookie.
const CookieName = "medcase_session"

// Session is one request's view of a stored session.
type Session struct {
	ID    string
	State *State

	// previous is set by Rotate and deleted on Save.
	previous string
}

// Manager binds sessions to requests through a cookie.
type Manager struct {
	store  Store
	ttl    time.Duration
	secure bool
	log    *logger.Logger
}

func NewManager(store Store, ttl time.Duration, secure bool, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{store: store, ttl: ttl, secure: secure, log: log}
}

// Load returns the request's session, or a fresh one when the cookie is
// missing, unknown or expired. A store failure also yields a fresh session.
func (m *Manager) Load(r *http.Request) *Session {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return m.fresh()
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return m.fresh()
	}

	st, err := m.store.Load(r.Context(), c.Value)
	if err != nil {
		m.log.Warn("session load failed", "session_id", c.Value, "error", err.Error())
		return m.fresh()
	}
	if st == nil {
		return m.fresh()
	}
	return &Session{ID: c.Value, State: st}
}

// Save writes the state and refreshes the cookie. It must run before the
// response body is written.
func (m *Manager) Save(w http.ResponseWriter, r *http.Request, s *Session) error {
	if err := m.store.Save(r.Context(), s.ID, s.State, m.ttl); err != nil {
		return err
	}
	if s.previous != "" {
		if err := m.store.Delete(r.Context(), s.previous); err != nil {
			m.log.Warn("session delete failed", "session_id", s.previous, "error", err.Error())
		}
		s.previous = ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Rotate gives the session a new token, keeping its state. Used on login and
// logout so a token seen before authentication is never reused after it.
func (m *Manager) Rotate(s *Session) {
	if s.previous == "" {
		s.previous = s.ID
	}
	s.ID = uuid.NewString()
}

// Destroy deletes the stored session.
func (m *Manager) Destroy(ctx context.Context, s *Session) error {
	return m.store.Delete(ctx, s.ID)
}

func (m *Manager) fresh() *Session {
	return &Session{ID: uuid.NewString(), State: NewState()}
}
