package worker

import (
	"context"
	"errors"

	"dynochat/internal/chat"
	"dynochat/internal/models"
)

// ErrDispatcherBusy signals that the global job queue is full; callers
// translate it into a retry-later response.
var ErrDispatcherBusy = errors.New("dispatcher queue is full")

// ErrSessionClosed is returned to callers whose queued jobs were dropped
// because the session was cancelled before they ran.
var ErrSessionClosed = errors.New("session closed before job ran")

type JobType string

const (
	Open JobType = "open"
	Turn JobType = "turn"
	Stop JobType = "stop"
)

// Job is one unit of work routed to a pool worker. Stop jobs come from
// the pool itself when it retires an idle worker.
type Job struct {
	Type     JobType
	OpenTask *openTask
	TurnTask *turnTask
}

// OpenRequest loads (or creates, when SessionID is zero) a session view.
type OpenRequest struct {
	Context   context.Context
	SessionID int64
}

// TurnRequest executes one conversational turn for an opened session.
// Message is the already-persisted user message; ChunkFn receives each
// token as it arrives and WarnFn any non-fatal degradation.
type TurnRequest struct {
	Context   context.Context
	SessionID int64
	Message   *models.Message
	ChunkFn   func(string) error
	WarnFn    func(string)
}

// TurnOutcome is what a finished turn hands back to the HTTP layer.
type TurnOutcome struct {
	AIMessage *models.Message
	Result    *chat.TurnResult
	Title     string
}

type openTask struct {
	req      OpenRequest
	resultCh chan workerReturn
}

type turnTask struct {
	req      TurnRequest
	resultCh chan workerReturn
}

type workerReturn struct {
	session *models.Session
	history []*models.Message
	outcome *TurnOutcome
	err     error
}

// fail unblocks whoever is waiting on the job's result. Every result
// channel is buffered and consumed by exactly one caller, so the send
// never blocks.
func (job Job) fail(err error) {
	switch job.Type {
	case Open:
		job.OpenTask.resultCh <- workerReturn{err: err}
	case Turn:
		job.TurnTask.resultCh <- workerReturn{err: err}
	}
}

func (job Job) sessionID() int64 {
	switch job.Type {
	case Open:
		return job.OpenTask.req.SessionID
	case Turn:
		return job.TurnTask.req.SessionID
	default:
		return 0
	}
}
