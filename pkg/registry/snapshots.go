package registry

import (
	"context"
	"sort"
	"time"

	"switchboard/pkg/agent"
	"switchboard/pkg/persistence"
)

// Start begins periodic snapshotting. It takes one snapshot immediately. Calling Start
// while the loop is running does nothing. The loop ends on ctx cancellation or Dispose,
// after which Start may be called again.
func (r *Registry) Start(ctx context.Context) {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.stop != nil {
		r.logger.Warn("snapshot loop already running")
		return
	}

	stop := make(chan struct{})
	r.stop = stop
	r.RefreshSnapshots(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.config.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.loopMu.Lock()
				if r.stop == stop {
					r.stop = nil
				}
				r.loopMu.Unlock()
				return
			case <-stop:
				return
			case <-ticker.C:
				r.RefreshSnapshots(ctx)
			}
		}
	}()
	r.logger.Info("snapshot loop started (every %v)", r.config.HealthCheckInterval)
}

// RefreshSnapshots records {name, state, last active} for every registered agent and
// journals them when a journal is configured.
func (r *Registry) RefreshSnapshots(ctx context.Context) {
	now := r.now()

	r.mu.Lock()
	taken := make([]Snapshot, 0, len(r.agents))
	for name, ag := range r.agents {
		snap := Snapshot{
			Name:       name,
			State:      ag.State(),
			LastActive: ag.LastActiveTime(),
			TakenAt:    now,
		}
		r.snapshots[name] = snap
		taken = append(taken, snap)
	}
	count := len(r.agents)
	r.mu.Unlock()

	r.recorder.SetRegisteredAgents(count)
	if r.journal == nil {
		return
	}
	for _, snap := range taken {
		err := r.journal.RecordSnapshot(ctx, persistence.SnapshotRecord{
			TakenAt:    snap.TakenAt,
			LastActive: snap.LastActive,
			Agent:      snap.Name,
			State:      snap.State.String(),
		})
		if err != nil {
			r.logger.Warn("failed to journal snapshot of %s: %v", snap.Name, err)
		}
	}
}

// Snapshots returns the latest snapshot of every agent, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.snapshots))
	for _, snap := range r.snapshots {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot returns the latest snapshot of one agent.
func (r *Registry) Snapshot(name string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[name]
	return snap, ok
}

// Dispose stops the snapshot loop, stops the orchestrator and clears the directory.
// It is safe to call more than once.
func (r *Registry) Dispose(ctx context.Context) error {
	r.loopMu.Lock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	r.loopMu.Unlock()
	r.wg.Wait()

	r.mu.Lock()
	orch := r.orchestrator
	r.orchestrator = nil
	r.agents = make(map[string]agent.Agent)
	r.snapshots = make(map[string]Snapshot)
	r.mu.Unlock()

	r.recorder.SetRegisteredAgents(0)
	if orch == nil {
		return nil
	}
	if err := orch.Stop(ctx); err != nil {
		return err //nolint:wrapcheck // Stop names itself
	}
	r.logger.Info("registry disposed")
	return nil
}
