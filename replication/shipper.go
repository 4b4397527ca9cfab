package replication

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"vidar/engine"
	"vidar/infra/wal"
	"vidar/snapshot"
)

const (
	shipSubscribeBuf = 4096
	maxFrameRecords  = 256
	defaultHeartbeat = 500 * time.Millisecond
)

// Shipper serves the primary side: it streams committed records to each
// follower, catching up from the WAL on disk and then tailing live commits.
type Shipper struct {
	eng       *engine.Engine
	w         *wal.WAL
	snapDir   string
	heartbeat time.Duration
	log       *zap.Logger
}

func NewShipper(eng *engine.Engine, w *wal.WAL, snapDir string, heartbeat time.Duration, log *zap.Logger) *Shipper {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Shipper{eng: eng, w: w, snapDir: snapDir, heartbeat: heartbeat, log: log}
}

// Ship streams records with LSN >= req.FromLSN until the follower hangs up.
// The subscription is opened before the disk catch-up so nothing committed
// in between is missed; duplicates are filtered by LSN.
func (s *Shipper) Ship(req *ShipRequest, stream ShipStream) error {
	ch, cancel := s.eng.SubscribeRecords(shipSubscribeBuf)
	defer cancel()

	next := req.FromLSN
	if next == 0 {
		next = 1
	}
	s.log.Info("follower attached", zap.Uint64("from_lsn", next))

	next, err := s.catchUp(next, stream)
	if err != nil {
		return err
	}

	hb := time.NewTicker(s.heartbeat)
	defer hb.Stop()

	for {
		select {
		case <-stream.Context().Done():
			s.log.Info("follower detached", zap.Uint64("next_lsn", next))
			return stream.Context().Err()

		case rec, ok := <-ch:
			if !ok {
				return nil
			}
			if rec.LSN < next {
				continue // already delivered during catch-up
			}
			if rec.LSN > next {
				// The subscription buffer overflowed; refill from disk.
				if next, err = s.catchUp(next, stream); err != nil {
					return err
				}
				continue
			}

			frame := &ShipFrame{Records: []*wal.Record{rec}}
			next++
			gap := false
		drain:
			for len(frame.Records) < maxFrameRecords {
				select {
				case r2, ok := <-ch:
					if !ok {
						break drain
					}
					if r2.LSN != next {
						gap = r2.LSN > next
						break drain
					}
					frame.Records = append(frame.Records, r2)
					next++
				default:
					break drain
				}
			}
			frame.PrimaryLSN = s.eng.LastLSN()
			if err := stream.Send(frame); err != nil {
				return err
			}
			if gap {
				if next, err = s.catchUp(next, stream); err != nil {
					return err
				}
			}

		case <-hb.C:
			if err := stream.Send(&ShipFrame{PrimaryLSN: s.eng.LastLSN()}); err != nil {
				return err
			}
		}
	}
}

// catchUp replays the on-disk log from next and returns the LSN after the
// last record sent. A follower asking for history already truncated by a
// checkpoint gets FailedPrecondition and must fetch a snapshot first.
func (s *Shipper) catchUp(next uint64, stream ShipStream) (uint64, error) {
	oldest, err := s.w.OldestLSN()
	if err != nil {
		return next, err
	}
	// oldest == 0 means the log holds no records at all; if the engine is
	// past the requested position anyway, history was checkpointed away.
	truncated := oldest > next || (oldest == 0 && next <= s.eng.LastLSN())
	if truncated {
		return next, status.Errorf(codes.FailedPrecondition,
			"lsn %d no longer retained (oldest %d), snapshot required", next, oldest)
	}

	// Records past the durable point arrive via the live subscription; the
	// tail of the file may still be in flight, so stop reading there.
	limit := s.eng.LastLSN()
	errCaughtUp := errors.New("caught up")

	batch := make([]*wal.Record, 0, maxFrameRecords)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := stream.Send(&ShipFrame{
			Records:    batch,
			PrimaryLSN: s.eng.LastLSN(),
		})
		batch = make([]*wal.Record, 0, maxFrameRecords)
		return err
	}

	_, err = wal.Replay(s.w.Dir(), next, func(rec *wal.Record) error {
		if rec.LSN > limit {
			return errCaughtUp
		}
		batch = append(batch, rec)
		next = rec.LSN + 1
		if len(batch) == maxFrameRecords {
			return flush()
		}
		return nil
	})
	if err != nil && !errors.Is(err, errCaughtUp) {
		var corrupt *wal.CorruptionError
		if errors.As(err, &corrupt) {
			// Concurrent append racing the read; the valid prefix was
			// delivered and the rest arrives via the subscription.
			s.log.Debug("catch-up stopped at in-flight tail", zap.Uint64("next", next))
		} else {
			return next, err
		}
	}
	if err := flush(); err != nil {
		return next, err
	}
	return next, nil
}

// FetchSnapshot hands a bootstrapping follower the newest durable snapshot.
// A zero-LSN state means the WAL reaches back to the beginning and no
// snapshot is needed.
func (s *Shipper) FetchSnapshot(ctx context.Context, _ *SnapshotRequest) (*SnapshotReply, error) {
	if s.snapDir == "" {
		return &SnapshotReply{State: &snapshot.State{}}, nil
	}
	st, err := snapshot.Latest(s.snapDir, math.MaxUint64)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "load snapshot: %v", err)
	}
	if st == nil {
		st = &snapshot.State{}
	}
	return &SnapshotReply{State: st}, nil
}
