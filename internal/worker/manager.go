package worker

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"dynochat/internal/chat"
	"dynochat/internal/models"
	"dynochat/internal/redis"
	"dynochat/internal/service/assistant"
)

// TurnRunner executes one retrieval-augmented turn; *chat.Controller
// satisfies it.
type TurnRunner interface {
	Run(ctx context.Context, prompt string, onToken func(string) error) (*chat.TurnResult, error)
}

// Manager owns the per-session conversation views and executes jobs on
// behalf of the dispatcher. All public methods are safe for concurrent
// use; per-session ordering is the dispatcher's job.
type Manager struct {
	assistant  *assistant.Service
	controller TurnRunner
	titles     assistant.Generator
	view       *sessionView
	cache      *stateCache
	dispatcher *Dispatcher
}

var pendingSeq int64

func NewManager(asst *assistant.Service, controller TurnRunner, titles assistant.Generator, cfg DispatcherConfig, cacheClient *redis.Client) *Manager {
	m := &Manager{
		assistant:  asst,
		controller: controller,
		titles:     titles,
		view:       newSessionView(),
		cache:      newStateCache(cacheClient),
	}
	m.dispatcher = NewDispatcher(cfg, m)
	m.cache.startListener(func(inv invalidateMessage) {
		if inv.SessionID > 0 {
			m.view.purge(inv.SessionID)
		}
	})
	return m
}

// OpenSession loads an existing session view, or creates a new session
// when req.SessionID is zero. Blocks until the job has run.
func (m *Manager) OpenSession(req OpenRequest) (*models.Session, []*models.Message, error) {
	if req.SessionID == 0 {
		// negative ids keep concurrent create jobs on distinct queues
		req.SessionID = -atomic.AddInt64(&pendingSeq, 1)
	}
	if req.SessionID > 0 && m.view.isReady(req.SessionID) {
		if se := m.view.getSession(req.SessionID); se != nil {
			return se, m.view.getHistory(req.SessionID), nil
		}
	}

	resultCh := make(chan workerReturn, 1)
	if err := m.dispatcher.Submit(Job{Type: Open, OpenTask: &openTask{req: req, resultCh: resultCh}}); err != nil {
		return nil, nil, err
	}
	ret := <-resultCh
	return ret.session, ret.history, ret.err
}

// RunTurn executes one conversational turn. Blocks until the turn has
// fully persisted; tokens flow through req.ChunkFn while it runs.
func (m *Manager) RunTurn(req TurnRequest) (*TurnOutcome, error) {
	if req.SessionID <= 0 {
		return nil, errors.New("session id required")
	}
	if req.Message == nil {
		return nil, errors.New("message required")
	}
	if !m.view.isReady(req.SessionID) {
		if _, _, err := m.OpenSession(OpenRequest{Context: req.Context, SessionID: req.SessionID}); err != nil {
			return nil, err
		}
	}

	resultCh := make(chan workerReturn, 1)
	if err := m.dispatcher.Submit(Job{Type: Turn, TurnTask: &turnTask{req: req, resultCh: resultCh}}); err != nil {
		return nil, err
	}
	ret := <-resultCh
	return ret.outcome, ret.err
}

// Purge drops all local and cached state for a session and cancels its
// pending jobs. Called when a session is deleted.
func (m *Manager) Purge(sessionID int64) {
	m.dispatcher.CancelSession(sessionID)
	m.view.purge(sessionID)
	m.cache.invalidateSession(sessionID)
	m.cache.publishInvalidation(invalidateMessage{SessionID: sessionID})
}

func (m *Manager) handleOpen(task *openTask) {
	req := task.req
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		se      *models.Session
		history []*models.Message
		err     error
	)

	pendingID := req.SessionID
	if req.SessionID < 0 {
		se, err = m.assistant.CreateSession(ctx, "New Conversation")
		if err != nil {
			task.resultCh <- workerReturn{err: err}
			return
		}
		history = make([]*models.Message, 0)
	} else if cached, cachedHistory, ok := m.cache.loadSession(req.SessionID); ok {
		se, history = cached, cachedHistory
	} else {
		se, history, err = m.assistant.GetSessionWithMessages(ctx, req.SessionID)
		if err != nil {
			task.resultCh <- workerReturn{err: err}
			return
		}
	}

	m.view.setSession(se)
	m.view.setHistory(se.ID, history)
	m.view.promote(pendingID, se.ID)
	m.view.markReady(se.ID)
	m.cache.cacheSession(se, history)
	task.resultCh <- workerReturn{session: se, history: history}
}

func (m *Manager) handleTurn(task *turnTask) {
	req := task.req
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}

	// A freshly opened view is loaded from the store, where the user
	// message is already persisted; appending it again would double it.
	history := m.view.getHistory(req.SessionID)
	seen := len(history) > 0 && history[len(history)-1].ID == req.Message.ID
	var title string
	if len(history) == 0 || (seen && len(history) == 1) {
		// first turn names the session
		title = assistant.GenerateTitle(ctx, m.titles, req.Message.Content)
		if err := m.assistant.UpdateSessionTitle(ctx, req.SessionID, title); err != nil {
			log.Printf("worker: update session title failed: %v", err)
			title = ""
		} else if session := m.view.getSession(req.SessionID); session != nil {
			session.Title = title
			m.view.setSession(session)
		}
	}
	if !seen {
		m.view.appendHistory(req.SessionID, req.Message)
	}

	result, err := m.controller.Run(ctx, req.Message.Content, req.ChunkFn)
	if err != nil {
		task.resultCh <- workerReturn{err: err}
		return
	}
	for _, warning := range result.Warnings {
		log.Printf("worker: session %d turn warning: %s", req.SessionID, warning)
		if req.WarnFn != nil {
			req.WarnFn(warning)
		}
	}

	// The transcript keeps whatever the user saw, synthetic failure
	// messages included.
	aiMsg, err := m.assistant.AppendMessage(ctx, req.SessionID, models.RoleAssistant, result.Response)
	if err != nil {
		task.resultCh <- workerReturn{err: err}
		return
	}
	m.view.appendHistory(req.SessionID, aiMsg)
	m.cache.cacheSession(m.view.getSession(req.SessionID), m.view.getHistory(req.SessionID))

	task.resultCh <- workerReturn{outcome: &TurnOutcome{AIMessage: aiMsg, Result: result, Title: title}}
}
