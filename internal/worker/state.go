package worker

import (
	"sync"

	"dynochat/internal/models"
)

// sessionView is the in-process conversation state for one session: the
// ordered message history the UI renders. It lives for the lifetime of
// the serving process and is rebuilt from cache or database on open.
type sessionView struct {
	mu      sync.RWMutex
	ready   map[int64]struct{}
	session map[int64]*models.Session
	history map[int64][]*models.Message
}

func newSessionView() *sessionView {
	return &sessionView{
		ready:   make(map[int64]struct{}),
		session: make(map[int64]*models.Session),
		history: make(map[int64][]*models.Message),
	}
}

func (s *sessionView) isReady(sessionID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ready[sessionID]
	return ok
}

func (s *sessionView) markReady(sessionID int64) {
	s.mu.Lock()
	s.ready[sessionID] = struct{}{}
	s.mu.Unlock()
}

// promote moves state filed under a pending (negative) id to the real
// database id once the session row exists.
func (s *sessionView) promote(pendingID, realID int64) {
	if pendingID == realID {
		return
	}
	s.mu.Lock()
	if se, ok := s.session[pendingID]; ok {
		delete(s.session, pendingID)
		s.session[realID] = se
	}
	if history, ok := s.history[pendingID]; ok {
		delete(s.history, pendingID)
		s.history[realID] = history
	}
	delete(s.ready, pendingID)
	s.mu.Unlock()
}

func (s *sessionView) setSession(session *models.Session) {
	if session == nil {
		return
	}
	s.mu.Lock()
	s.session[session.ID] = session
	s.mu.Unlock()
}

func (s *sessionView) getSession(sessionID int64) *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session[sessionID]
}

func (s *sessionView) setHistory(sessionID int64, history []*models.Message) {
	s.mu.Lock()
	s.history[sessionID] = history
	s.mu.Unlock()
}

func (s *sessionView) appendHistory(sessionID int64, msgs ...*models.Message) {
	s.mu.Lock()
	for _, msg := range msgs {
		if msg != nil {
			s.history[sessionID] = append(s.history[sessionID], msg)
		}
	}
	s.mu.Unlock()
}

func (s *sessionView) getHistory(sessionID int64) []*models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history[sessionID]
}

func (s *sessionView) purge(sessionID int64) {
	s.mu.Lock()
	delete(s.ready, sessionID)
	delete(s.session, sessionID)
	delete(s.history, sessionID)
	s.mu.Unlock()
}
