package sequencer

import (
	"errors"
	"sync"
)

// Operator input errors, mapped to UDS error codes by the control handlers.
var (
	ErrNotPaused       = errors.New("no checkpoint is waiting for acknowledgement")
	ErrAlreadyFinished = errors.New("run already finished")
)

// Gate is the single meeting point for operator input. The executor arms it
// at each MANUAL_PAUSE; stdin, `gelpilot ack`, and `gelpilot abort` feed it
// from their own goroutines. Abort is run-scoped: once requested it stands
// whether or not a checkpoint is waiting, and the executor honors it at the
// next action boundary.
type Gate struct {
	mu         sync.Mutex
	waiting    bool
	checkpoint string
	ackCh      chan struct{}
	abortCh    chan struct{}
	aborted    bool
	finished   bool
}

func NewGate() *Gate {
	return &Gate{abortCh: make(chan struct{})}
}

// BeginWait arms the gate for one checkpoint and returns the channel the
// executor blocks on. The previous ack channel, if any, is abandoned.
func (g *Gate) BeginWait(message string) <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.waiting = true
	g.checkpoint = message
	g.ackCh = make(chan struct{})
	return g.ackCh
}

// EndWait disarms the gate once the executor stops blocking, whatever the
// reason it stopped.
func (g *Gate) EndWait() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.waiting = false
	g.checkpoint = ""
}

// Ack releases the waiting checkpoint. ErrNotPaused when nothing waits.
func (g *Gate) Ack() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finished {
		return ErrAlreadyFinished
	}
	if !g.waiting {
		return ErrNotPaused
	}
	g.waiting = false
	g.checkpoint = ""
	close(g.ackCh)
	return nil
}

// Abort requests a clean run abort. Idempotent while the run is live;
// ErrAlreadyFinished once it is over.
func (g *Gate) Abort() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finished {
		return ErrAlreadyFinished
	}
	if !g.aborted {
		g.aborted = true
		close(g.abortCh)
	}
	return nil
}

// AbortC closes when an abort has been requested.
func (g *Gate) AbortC() <-chan struct{} {
	return g.abortCh
}

// IsAborted reports whether an abort stands.
func (g *Gate) IsAborted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.aborted
}

// Waiting reports the active checkpoint message, if one is armed.
func (g *Gate) Waiting() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkpoint, g.waiting
}

// Finish seals the gate: later acks and aborts answer ErrAlreadyFinished.
func (g *Gate) Finish() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finished = true
	g.waiting = false
}
