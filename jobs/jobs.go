// Package jobs holds the periodic background loops that feed the engine:
// expiry sweeps, checkpoints and the market-data depth feed. Sweeps and
// checkpoints are injected as commands so they execute at a well-defined
// point in the command order.
package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vidar/engine"
	"vidar/infra/kafka"
)

// RunExpireSweeper injects an expiry sweep every interval. The sweep time
// rides in the command, so replicas applying the resulting events need no
// clock of their own.
func RunExpireSweeper(ctx context.Context, eng *engine.Engine, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cmd := &engine.Command{Type: engine.CmdExpireSweep, Now: now.UnixNano()}
			if err := eng.Inject(ctx, cmd); err != nil {
				log.Debug("expire sweep skipped", zap.Error(err))
			}
		}
	}
}

// RunCheckpointer injects a checkpoint every interval. A full queue skips
// the tick; the next one retries.
func RunCheckpointer(ctx context.Context, eng *engine.Engine, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cmd := &engine.Command{Type: engine.CmdCheckpoint}
			if err := eng.Inject(ctx, cmd); err != nil {
				log.Warn("checkpoint skipped", zap.Error(err))
			}
		}
	}
}

// RunDepthFeed publishes the current depth snapshot of every symbol on a
// fixed cadence. Lossy on purpose; each frame supersedes the last.
func RunDepthFeed(ctx context.Context, eng *engine.Engine, pub *kafka.DepthPublisher, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastLSN := make(map[string]uint64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range eng.Symbols() {
				d := eng.Depth(sym)
				if d == nil || lastLSN[sym] == d.LSN {
					continue // unchanged since last publish
				}
				if err := pub.Publish(ctx, d); err != nil {
					log.Debug("depth publish failed", zap.String("symbol", sym), zap.Error(err))
					continue
				}
				lastLSN[sym] = d.LSN
			}
		}
	}
}
