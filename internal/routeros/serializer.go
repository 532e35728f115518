package routeros

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Executor submits a device command and waits for its result
type Executor interface {
	Submit(ctx context.Context, sentence ...string) ([]Row, error)
}

type commandResult struct {
	rows []Row
	err  error
}

type commandRequest struct {
	sentence []string
	reply    chan commandResult
}

// Serializer forces strict one-at-a-time execution of device commands.
// The device control protocol corrupts state under concurrent commands,
// so exactly one worker goroutine drains the request channel in FIFO
// order.
type Serializer struct {
	session  *Session
	timeout  time.Duration
	requests chan *commandRequest
}

// NewSerializer creates a command serializer over the given session
func NewSerializer(session *Session, timeout time.Duration, queueSize int) *Serializer {
	return &Serializer{
		session:  session,
		timeout:  timeout,
		requests: make(chan *commandRequest, queueSize),
	}
}

// Run drains the command queue until ctx is cancelled
func (q *Serializer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-q.requests:
			rows, err := q.execute(ctx, req.sentence)
			req.reply <- commandResult{rows: rows, err: err}
		}
	}
}

// Submit enqueues a command behind any queued or in-flight command and
// waits for its result. Execution errors propagate to the caller;
// retrying is the job queue's responsibility.
func (q *Serializer) Submit(ctx context.Context, sentence ...string) ([]Row, error) {
	req := &commandRequest{
		sentence: sentence,
		reply:    make(chan commandResult, 1),
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case q.requests <- req:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-req.reply:
		return res.rows, res.err
	}
}

// execute runs one command against the live session. An error or a
// timeout marks the session disconnected so the reconnect loop takes
// over; a dequeued command is never retried here.
func (q *Serializer) execute(ctx context.Context, sentence []string) ([]Row, error) {
	if err := q.session.AwaitConnection(ctx); err != nil {
		return nil, err
	}

	conn, err := q.session.Current()
	if err != nil {
		return nil, err
	}

	done := make(chan commandResult, 1)
	go func() {
		rows, err := conn.Run(sentence...)
		done <- commandResult{rows: rows, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			log.Warn().Err(res.err).Strs("sentence", sentence).Msg("Router command failed")
			q.session.MarkDisconnected()
			return nil, res.err
		}
		return res.rows, nil
	case <-time.After(q.timeout):
		log.Warn().Strs("sentence", sentence).Dur("timeout", q.timeout).Msg("Router command timed out")
		q.session.MarkDisconnected()
		return nil, ErrCommandTimeout
	}
}
