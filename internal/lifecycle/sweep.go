package lifecycle

import (
	"context"
	"log"
	"time"

	"github.com/agent-observatory/backend/internal/store"
	"github.com/agent-observatory/backend/internal/ws"
)

// RunSweeper periodically completes sessions that stopped emitting
// events without a terminal hook. It blocks until ctx is cancelled.
func (t *Tracker) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.SweepStaleSessions()
		}
	}
}

// SweepStaleSessions completes every active session whose last activity
// predates the stale timeout. It takes the pipeline lock, so a sweep
// never interleaves with an in-flight ingest.
func (t *Tracker) SweepStaleSessions() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	cutoff := now.Add(-t.cfg.StaleTimeout)

	stale, err := t.store.StaleActiveSessions(cutoff)
	if err != nil {
		log.Printf("lifecycle: stale scan: %v", err)
		return
	}

	for _, sess := range stale {
		if err := t.store.UpdateSessionStatus(sess.ID, store.SessionCompleted, &now); err != nil {
			log.Printf("lifecycle: stale complete: %v", err)
			continue
		}
		t.publishGroup(ws.MsgSessionStatus, ws.SessionStatusPayload{
			SessionID: sess.ID,
			Status:    string(store.SessionCompleted),
			Reason:    "stale_timeout",
		}, sess.ID)
		if t.collector != nil {
			t.collector.RecordSessionTerminal(store.SessionCompleted)
		}
		t.checkGroupCompletion(sess.ID, now)
	}

	if len(stale) > 0 {
		log.Printf("lifecycle: completed %d stale session(s)", len(stale))
	}
}
