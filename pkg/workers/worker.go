// Package workers provides the concrete agents the registry wires behind the orchestrator:
// a version compatibility checker, a lint report formatter and a build/deploy runner.
// Each is a BaseAgent around a Handler that decodes its typed payload.
package workers

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"switchboard/pkg/agent"
	"switchboard/pkg/agent/agenterrors"
	"switchboard/pkg/proto"
)

// Kind selects which worker a Spec builds.
type Kind string

const (
	KindVersion Kind = "version"
	KindLint    Kind = "lint"
	KindBuild   Kind = "build"
)

// Result is what a worker produced for one message.
type Result struct {
	At        time.Time `json:"at"`
	MessageID string    `json:"message_id"`
	Worker    string    `json:"worker"`
	Summary   string    `json:"summary"`
	Detail    string    `json:"detail,omitempty"`
	OK        bool      `json:"ok"`
}

// ResultSink receives every Result. It may be called from several goroutines.
type ResultSink func(Result)

// Worker is a routable agent with the message types it serves.
type Worker struct {
	*agent.BaseAgent
	kind  Kind
	types []proto.MsgType
}

// Kind returns the worker kind.
func (w *Worker) Kind() Kind { return w.kind }

// MessageTypes returns the message types routed to this worker by default.
func (w *Worker) MessageTypes() []proto.MsgType {
	out := make([]proto.MsgType, len(w.types))
	copy(out, w.types)
	return out
}

// Collector is a ResultSink that keeps results in memory.
type Collector struct {
	mu      sync.Mutex
	results []Result
}

// Sink returns the function to hand to WithResultSink.
func (c *Collector) Sink() ResultSink {
	return func(r Result) {
		c.mu.Lock()
		c.results = append(c.results, r)
		c.mu.Unlock()
	}
}

// Results returns a copy of everything collected so far.
func (c *Collector) Results() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Result, len(c.results))
	copy(out, c.results)
	return out
}

// emitter stamps and forwards results.
type emitter struct {
	sink ResultSink
	now  func() time.Time
	name string
}

func (e emitter) emit(msg *proto.Message, ok bool, summary, detail string) {
	if e.sink == nil {
		return
	}
	e.sink(Result{
		At:        e.now(),
		MessageID: msg.ID,
		Worker:    e.name,
		Summary:   summary,
		Detail:    detail,
		OK:        ok,
	})
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("interrupted: %w", ctx.Err())
	}
}

func payloadError(op string, err error) error {
	return agenterrors.Wrap(agenterrors.KindValidation, op, err, "unreadable payload")
}

// writerOrDiscard keeps a nil writer usable.
func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
