package server

import (
	"context"
	"time"

	"github.com/agenthands/driftwatch/internal/logging"
)

// Schedule triggers a run every interval until ctx is done. A tick that lands
// while a run is active is skipped. interval <= 0 disables the ticker;
// runOnStart still fires once.
func (s *Server) Schedule(ctx context.Context, interval time.Duration, runOnStart bool) {
	if runOnStart {
		s.scheduledRun(ctx)
	}
	if interval <= 0 {
		s.Logger.Info("Scheduler disabled; runs only on demand")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.Logger.WithField("interval", interval.String()).Info("Scheduler started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scheduledRun(ctx)
		}
	}
}

func (s *Server) scheduledRun(ctx context.Context) {
	summary, ok := s.TriggerRun(ctx, "schedule")
	if !ok {
		s.Logger.Warn("Previous run still active; skipping scheduled run")
		return
	}
	s.Logger.WithFields(logging.Fields{
		"run_id": summary.RunID,
		"failed": summary.JobsFailed,
	}).Debug("Scheduled run finished")
}
