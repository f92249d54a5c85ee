package jobs

import (
	"context"
	"log/slog"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"eduvia/portal/internal/config"
)

type PendingDrainer interface {
	RecoverAll(ctx context.Context) (int, error)
}

// DrainPendingSubmissions replays every queued exam result once, in the
// background, right after startup.
func DrainPendingSubmissions(ctx context.Context, cfg config.Config, drainer PendingDrainer, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	if drainer == nil {
		close(done)
		return done
	}
	timeout := cfg.PendingDrainTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	go func() {
		defer close(done)
		drainCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		recovered, err := drainer.RecoverAll(drainCtx)
		if err != nil {
			logger.Warn("pending drain incomplete", "recovered", recovered, "error", err)
			return
		}
		if recovered > 0 {
			logger.Info("pending drain delivered results", "recovered", recovered)
		}
	}()
	return done
}

type AttemptReaper interface {
	Reap(cutoff time.Time) int
}

func StartAttemptReapJob(ctx context.Context, cfg config.Config, reaper AttemptReaper, logger *slog.Logger) {
	if reaper == nil {
		return
	}
	interval := cfg.AttemptReapInterval
	if interval <= 0 {
		interval = time.Minute
	}
	retention := cfg.AttemptRetention
	if retention <= 0 {
		retention = 2 * time.Hour
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := reaper.Reap(time.Now().Add(-retention))
				if removed > 0 {
					logger.Info("attempt reaper removed finished attempts", "count", removed)
				}
			}
		}
	}()
}

type HealthSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// Probe checks one dependency; nil means healthy.
type Probe func(ctx context.Context) error

// StartHealthJob runs every probe on each tick and publishes the result under
// the probe's service name. Probes also run once before the first tick.
func StartHealthJob(ctx context.Context, cfg config.Config, health HealthSetter, probes map[string]Probe, logger *slog.Logger) {
	if health == nil || len(probes) == 0 {
		return
	}
	interval := cfg.HealthProbeInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	run := func() {
		for service, probe := range probes {
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			err := probe(probeCtx)
			cancel()
			if err != nil {
				logger.Warn("health probe failed", "service", service, "error", err)
				health.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
				continue
			}
			health.SetServingStatus(service, healthpb.HealthCheckResponse_SERVING)
		}
	}
	run()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
