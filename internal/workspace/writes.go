package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/storage"
	"go.uber.org/zap"
)

// writer drains the write queue of one session. At most one upsert per
// session is in flight; requests made meanwhile share the next write.
type writer struct {
	pending []chan error
	idle    chan struct{}
}

type pendingTimer struct {
	timer *time.Timer
	gen   uint64
}

// Update merges p into the cached session and writes it. It returns once
// a write containing the change has finished. A failed write leaves the
// merged state in memory.
func (w *Workspace) Update(ctx context.Context, p story.Patch) error {
	w.mu.Lock()
	if err := w.merge(p); err != nil {
		w.mu.Unlock()
		return err
	}
	// The immediate write supersedes a pending debounced one
	if t, ok := w.timers[p.ID]; ok {
		t.timer.Stop()
		delete(w.timers, p.ID)
	}
	done := w.enqueue(p.ID)
	w.mu.Unlock()

	return wait(ctx, done)
}

// UpdateDebounced merges p into the cached session and schedules a write
// after the debounce period. Each call restarts the period. Write results
// are reported through OnEvent.
func (w *Workspace) UpdateDebounced(p story.Patch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.merge(p); err != nil {
		return err
	}

	if t, ok := w.timers[p.ID]; ok {
		t.timer.Stop()
	}
	w.timerGen++
	gen := w.timerGen
	id := p.ID
	w.timers[id] = &pendingTimer{
		gen:   gen,
		timer: time.AfterFunc(w.opts.Debounce, func() { w.fire(id, gen) }),
	}
	return nil
}

// merge applies p to the cache. Callers hold w.mu.
func (w *Workspace) merge(p story.Patch) error {
	if w.closed {
		return ErrClosed
	}
	prev, ok := w.sessions[p.ID]
	if !ok {
		return fmt.Errorf("session %s: %w", p.ID, storage.ErrNotFound)
	}
	w.sessions[p.ID] = p.Apply(prev, w.opts.Now())
	return nil
}

func (w *Workspace) fire(id string, gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.timers[id]
	if !ok || t.gen != gen {
		return
	}
	delete(w.timers, id)
	w.enqueue(id)
}

// Flush writes every pending debounced edit now and waits for all writes
// in flight, returning their joined errors.
func (w *Workspace) Flush(ctx context.Context) error {
	w.mu.Lock()
	var waits []<-chan error
	var idle []<-chan struct{}
	for id, t := range w.timers {
		t.timer.Stop()
		delete(w.timers, id)
		waits = append(waits, w.enqueue(id))
	}
	for _, wr := range w.writers {
		idle = append(idle, wr.idle)
	}
	w.mu.Unlock()

	var errs []error
	for _, done := range waits {
		if err := wait(ctx, done); err != nil {
			errs = append(errs, err)
		}
	}
	for _, ch := range idle {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

// enqueue requests a write of the current state of id and returns a
// channel that receives its result. Callers hold w.mu.
func (w *Workspace) enqueue(id string) <-chan error {
	done := make(chan error, 1)
	wr, ok := w.writers[id]
	if !ok {
		wr = &writer{idle: make(chan struct{})}
		w.writers[id] = wr
		go w.drain(id, wr)
	}
	wr.pending = append(wr.pending, done)
	return done
}

func (w *Workspace) drain(id string, wr *writer) {
	for {
		w.mu.Lock()
		if len(wr.pending) == 0 {
			delete(w.writers, id)
			w.mu.Unlock()
			close(wr.idle)
			return
		}
		waiters := wr.pending
		wr.pending = nil
		snapshot := w.sessions[id].Clone()
		w.mu.Unlock()

		var err error
		if snapshot != nil {
			err = w.write(snapshot)
		}
		for _, ch := range waiters {
			ch <- err
		}
	}
}

// write upserts one snapshot and records the storage key it landed under
func (w *Workspace) write(s *story.Session) error {
	ctx := w.ctx
	if w.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.WriteTimeout)
		defer cancel()
	}

	up, err := w.remote.UpsertSession(ctx, s)
	if err != nil {
		w.logger.Warn("Failed to save session",
			zap.String("session_id", s.ID),
			zap.Error(err),
		)
		w.emit(Event{Type: EventSaveFailed, SessionID: s.ID, UpdatedAt: s.UpdatedAt, Err: err})
		return err
	}

	w.mu.Lock()
	w.fileIDs[s.ID] = up.FileID
	w.mu.Unlock()

	w.logger.Debug("Session saved",
		zap.String("session_id", s.ID),
		zap.String("file_id", up.FileID),
	)
	w.emit(Event{Type: EventSaved, SessionID: s.ID, FileID: up.FileID, UpdatedAt: s.UpdatedAt})
	return nil
}

func wait(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
