package service

import (
	"context"
	"sort"
	"sync"

	"github.com/tapwire/tapwire/internal/domain/model"
	"github.com/tapwire/tapwire/internal/domain/port"
)

// Aggregator consumes captured chunks and keeps one HTTPTCPData per
// connection. Only the goroutine running Run (or calling Push) mutates the
// sessions; the lock exists so snapshots can be read from elsewhere.
//
// Closed sessions are kept until more than retention of them exist, then the
// oldest closed ones are dropped. Open sessions are never dropped.
type Aggregator struct {
	mutex     sync.RWMutex
	sessions  map[string]*model.HTTPTCPData
	order     []string
	closed    []string
	retention int
	publisher port.MessagePublisher
	logger    port.Logger
}

// NewAggregator creates a new Aggregator. publisher may be nil.
func NewAggregator(publisher port.MessagePublisher, logger port.Logger) *Aggregator {
	return &Aggregator{
		sessions:  make(map[string]*model.HTTPTCPData),
		publisher: publisher,
		logger:    logger,
	}
}

// SetPublisher replaces the publisher. It must be called before Run.
func (a *Aggregator) SetPublisher(publisher port.MessagePublisher) {
	a.publisher = publisher
}

// SetRetention caps the number of closed sessions kept, 0 keeps all of them.
// It must be called before Run.
func (a *Aggregator) SetRetention(n int) {
	a.retention = n
}

// Run consumes chunks until the channel is closed or ctx is done
func (a *Aggregator) Run(ctx context.Context, chunks <-chan model.ProxyData) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			a.Push(&chunk)
		}
	}
}

// Push folds one chunk into the session of its connection
func (a *Aggregator) Push(chunk *model.ProxyData) {
	a.mutex.Lock()
	session, ok := a.sessions[chunk.ConnectionID]
	if !ok {
		session = model.NewHTTPTCPData(chunk.ConnectionID)
		a.sessions[chunk.ConnectionID] = session
		a.order = append(a.order, chunk.ConnectionID)
	}

	if chunk.Closed {
		a.closeLocked(session)
		return
	}

	msg, err := session.Push(chunk)
	sequence := a.sequenceLocked(session, chunk.Direction)
	a.mutex.Unlock()

	if err != nil {
		a.logger.Warn("[%s] %s message could not be framed: %v", chunk.ConnectionID, chunk.Direction, err)
		if a.publisher != nil {
			a.publisher.PublishError(chunk.ConnectionID, model.WrapError(err, "%s message rejected", chunk.Direction))
		}
		return
	}
	if msg != nil {
		a.logger.Debug("[%s] %s message framed", chunk.ConnectionID, chunk.Direction)
		if a.publisher != nil {
			a.publisher.PublishHTTP(chunk.ConnectionID, sequence, msg)
		}
	}
}

// closeLocked flushes the pending bytes of session. It releases the lock.
func (a *Aggregator) closeLocked(session *model.HTTPTCPData) {
	if !session.Closed {
		a.closed = append(a.closed, session.ConnectionID)
	}
	session.Closed = true
	next := map[model.StreamDirection]int{
		model.ClientToServer: len(session.Requests),
		model.ServerToClient: len(session.Responses),
	}
	completed, errs := session.Flush()
	type framed struct {
		seq int
		msg *model.HTTPData
	}
	out := make([]framed, 0, len(completed))
	for _, msg := range completed {
		out = append(out, framed{seq: next[msg.Direction], msg: msg})
		next[msg.Direction]++
	}
	snapshot := session.Snapshot()
	a.evictLocked()
	a.mutex.Unlock()

	for _, err := range errs {
		a.logger.Warn("[%s] pending message dropped into rejected list on close: %v", session.ConnectionID, err)
	}
	if a.publisher == nil {
		return
	}
	for _, err := range errs {
		a.publisher.PublishError(session.ConnectionID, model.WrapError(err, "message rejected on close"))
	}
	for _, f := range out {
		a.publisher.PublishHTTP(session.ConnectionID, f.seq, f.msg)
	}
	a.publisher.PublishClosed(snapshot)
}

// evictLocked drops the oldest closed sessions beyond the retention cap
func (a *Aggregator) evictLocked() {
	if a.retention <= 0 || len(a.closed) <= a.retention {
		return
	}
	drop := a.closed[:len(a.closed)-a.retention]
	dropped := make(map[string]struct{}, len(drop))
	for _, id := range drop {
		dropped[id] = struct{}{}
		delete(a.sessions, id)
	}
	a.closed = append([]string(nil), a.closed[len(drop):]...)

	order := a.order[:0]
	for _, id := range a.order {
		if _, ok := dropped[id]; !ok {
			order = append(order, id)
		}
	}
	a.order = order
	a.logger.Debug("Dropped %d closed sessions beyond retention of %d", len(drop), a.retention)
}

// sequenceLocked returns the index of the last framed message of dir
func (a *Aggregator) sequenceLocked(session *model.HTTPTCPData, dir model.StreamDirection) int {
	if dir == model.ClientToServer {
		return len(session.Requests) - 1
	}
	return len(session.Responses) - 1
}

// Session returns a copy of the session of connectionID
func (a *Aggregator) Session(connectionID string) (*model.HTTPTCPData, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	session, ok := a.sessions[connectionID]
	if !ok {
		return nil, false
	}
	return session.Snapshot(), true
}

// Snapshot returns a copy of every session in the order they were first seen
func (a *Aggregator) Snapshot() []*model.HTTPTCPData {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	out := make([]*model.HTTPTCPData, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.sessions[id].Snapshot())
	}
	return out
}

// ConnectionIDs returns the known connection ids, sorted
func (a *Aggregator) ConnectionIDs() []string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
