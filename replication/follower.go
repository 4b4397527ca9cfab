package replication

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"vidar/engine"
	"vidar/infra/metrics"
)

const (
	reconnectMin = 200 * time.Millisecond
	reconnectMax = 5 * time.Second
)

// Follower tails the primary's log stream and applies every record through
// the engine's replay path. It never runs matching; on a persistent gap or
// corruption it stops rather than guess.
type Follower struct {
	eng    *engine.Engine
	client *Client
	log    *zap.Logger
	met    *metrics.Set

	primaryLSN atomic.Uint64
}

func NewFollower(eng *engine.Engine, client *Client, met *metrics.Set, log *zap.Logger) *Follower {
	return &Follower{eng: eng, client: client, met: met, log: log}
}

// Status is the replication view exposed over the ops surface.
type Status struct {
	LastApplied uint64 `json:"last_applied"`
	PrimaryLSN  uint64 `json:"primary_lsn"`
	Lag         uint64 `json:"lag"`
}

func (f *Follower) Status() Status {
	applied := f.eng.LastLSN()
	primary := f.primaryLSN.Load()
	var lag uint64
	if primary > applied {
		lag = primary - applied
	}
	return Status{LastApplied: applied, PrimaryLSN: primary, Lag: lag}
}

// Run streams until ctx is cancelled, reconnecting with backoff. Apply
// failures (gap, undecodable record) are fatal: local state can no longer
// be trusted to match the primary.
func (f *Follower) Run(ctx context.Context) error {
	backoff := reconnectMin
	for {
		if err := f.stream(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isFatalApply(err) {
				f.log.Error("replication apply failed, stopping", zap.Error(err))
				return err
			}
			f.log.Warn("replication stream lost, reconnecting",
				zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = min(backoff*2, reconnectMax)
			continue
		}
		backoff = reconnectMin
	}
}

type fatalApplyError struct{ err error }

func (e *fatalApplyError) Error() string { return e.err.Error() }
func (e *fatalApplyError) Unwrap() error { return e.err }

func isFatalApply(err error) bool {
	var f *fatalApplyError
	return errors.As(err, &f)
}

func (f *Follower) stream(ctx context.Context) error {
	from := f.eng.LastLSN() + 1
	stream, err := f.client.Ship(ctx, &ShipRequest{FromLSN: from})
	if err != nil {
		return err
	}

	for {
		frame, err := stream.Recv()
		if err != nil {
			if status.Code(err) == codes.FailedPrecondition {
				// History truncated beneath us; bootstrap from snapshot.
				if berr := f.bootstrap(ctx); berr != nil {
					return berr
				}
			}
			return err
		}

		if len(frame.Records) > 0 {
			if err := f.eng.ApplyCommittedBatch(frame.Records); err != nil {
				return &fatalApplyError{err}
			}
		}
		f.primaryLSN.Store(frame.PrimaryLSN)
		f.met.ReplicationLag.Set(float64(f.Status().Lag))
	}
}

// bootstrap seeds an empty follower from the primary's newest snapshot.
// A follower that already holds state cannot be reseeded in place.
func (f *Follower) bootstrap(ctx context.Context) error {
	if f.eng.LastLSN() > 0 {
		return &fatalApplyError{errors.New(
			"primary truncated history past our position; wipe local state and resync")}
	}
	reply, err := f.client.FetchSnapshot(ctx)
	if err != nil {
		return err
	}
	if reply.State == nil || reply.State.LSN == 0 {
		return nil
	}
	if err := f.eng.InstallSnapshot(reply.State); err != nil {
		return &fatalApplyError{err}
	}
	f.log.Info("bootstrapped from snapshot", zap.Uint64("lsn", reply.State.LSN))
	return nil
}
