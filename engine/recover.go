package engine

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"vidar/domain/book"
	"vidar/infra/wal"
	"vidar/snapshot"
)

const keepSnapshots = 3

// RecoverStats summarizes a completed recovery.
type RecoverStats struct {
	SnapshotLSN uint64
	Replayed    int
	LastLSN     uint64
	Torn        bool
}

// Recover rebuilds book state from the newest snapshot plus the WAL suffix
// after it. It must run before the writer (or the replication apply loop)
// starts. A torn final frame is truncated and logged; anything else that
// fails a checksum or breaks LSN order is returned as a fatal error.
func (e *Engine) Recover() (*RecoverStats, error) {
	stats := &RecoverStats{}

	from := uint64(1)
	if e.snapDir != "" {
		st, err := snapshot.Latest(e.snapDir, math.MaxUint64)
		if err != nil {
			return nil, err
		}
		if st != nil {
			for i := range st.Orders {
				o := st.Orders[i]
				e.bookFor(o.Symbol).Restore(&o)
				e.trackOrder(o.ID, o.Symbol)
			}
			e.lsn.Reset(st.LSN)
			if st.NextOrderID > 0 {
				e.orderIDs.Reset(st.NextOrderID - 1)
			}
			from = st.LSN + 1
			stats.SnapshotLSN = st.LSN
		}
	}

	maxOrder := e.orderIDs.Current()
	res, err := wal.Replay(e.wal.Dir(), from, func(rec *wal.Record) error {
		ev, err := wal.DecodeEvent(rec.Payload)
		if err != nil {
			return fmt.Errorf("recover: decode lsn %d: %w", rec.LSN, err)
		}
		ev.LSN = book.LSN(rec.LSN)
		if err := e.bookFor(ev.Symbol).ApplyEvent(ev); err != nil {
			return fmt.Errorf("recover: apply lsn %d: %w", rec.LSN, err)
		}
		if ev.Type == book.EvAccepted {
			e.trackOrder(ev.OrderID, ev.Symbol)
		}
		if uint64(ev.OrderID) > maxOrder {
			maxOrder = uint64(ev.OrderID)
		}
		stats.Replayed++
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Torn {
		stats.Torn = true
		e.log.Warn("truncating torn wal tail",
			zap.String("path", res.TornPath),
			zap.Int64("offset", res.TornOffset))
		if err := wal.TruncateTorn(res.TornPath, res.TornOffset); err != nil {
			return nil, err
		}
	}
	if res.LastLSN > e.lsn.Current() {
		e.lsn.Reset(res.LastLSN)
	}
	e.orderIDs.Reset(maxOrder)
	stats.LastLSN = e.lsn.Current()

	e.refreshAllDepth()
	e.met.LastLSN.Set(float64(stats.LastLSN))
	e.log.Info("recovery complete",
		zap.Uint64("snapshot_lsn", stats.SnapshotLSN),
		zap.Int("replayed", stats.Replayed),
		zap.Uint64("last_lsn", stats.LastLSN),
		zap.Bool("torn_tail", stats.Torn))
	return stats, nil
}

// Checkpoint writes a snapshot at the current LSN, then drops WAL segments
// and acked outbox records the snapshot supersedes. Runs on the writer
// goroutine via CmdCheckpoint, so book state is quiescent.
func (e *Engine) Checkpoint() error {
	if e.snapDir == "" {
		return nil
	}
	st := &snapshot.State{
		LSN:         e.lsn.Current(),
		NextOrderID: e.orderIDs.Current() + 1,
	}
	for _, sym := range e.symbols {
		e.books[sym].WalkResting(func(o *book.Order) {
			st.Orders = append(st.Orders, *o)
		})
	}

	path, err := snapshot.Write(e.snapDir, st)
	if err != nil {
		return err
	}
	if err := e.wal.TruncateBefore(st.LSN); err != nil {
		e.log.Error("wal truncation failed", zap.Error(err))
	}
	if e.ob != nil {
		if err := e.ob.TruncateAckedUpTo(st.LSN); err != nil {
			e.log.Error("outbox truncation failed", zap.Error(err))
		}
	}
	if err := snapshot.Prune(e.snapDir, keepSnapshots); err != nil {
		e.log.Error("snapshot prune failed", zap.Error(err))
	}
	e.log.Info("checkpoint written",
		zap.String("path", path),
		zap.Uint64("lsn", st.LSN),
		zap.Int("orders", len(st.Orders)))
	return nil
}

// SnapshotState captures current state for shipping to a bootstrapping
// follower. Writer-goroutine only.
func (e *Engine) SnapshotState() *snapshot.State {
	st := &snapshot.State{
		LSN:         e.lsn.Current(),
		NextOrderID: e.orderIDs.Current() + 1,
	}
	for _, sym := range e.symbols {
		e.books[sym].WalkResting(func(o *book.Order) {
			st.Orders = append(st.Orders, *o)
		})
	}
	return st
}

// InstallSnapshot seeds an empty follower from a primary snapshot.
func (e *Engine) InstallSnapshot(st *snapshot.State) error {
	if len(e.books) != 0 {
		return fmt.Errorf("engine: snapshot install over non-empty state")
	}
	for i := range st.Orders {
		o := st.Orders[i]
		e.bookFor(o.Symbol).Restore(&o)
		e.trackOrder(o.ID, o.Symbol)
	}
	e.lsn.Reset(st.LSN)
	if st.NextOrderID > 0 {
		e.orderIDs.Reset(st.NextOrderID - 1)
	}
	e.refreshAllDepth()
	return nil
}

// ApplyCommittedBatch applies records shipped from the primary: append and
// fsync locally first, then replay into the books. Records must continue
// exactly at lastApplied+1; a gap aborts before anything is written.
func (e *Engine) ApplyCommittedBatch(recs []*wal.Record) error {
	if len(recs) == 0 {
		return nil
	}
	expect := e.lsn.Current() + 1
	for _, rec := range recs {
		if rec.LSN != expect {
			return fmt.Errorf("engine: replication gap, got lsn %d want %d", rec.LSN, expect)
		}
		expect++
	}

	for _, rec := range recs {
		if err := e.wal.Append(rec); err != nil {
			return err
		}
	}
	if err := e.wal.Sync(); err != nil {
		return err
	}

	touched := make(map[string]struct{})
	maxOrder := e.orderIDs.Current()
	for _, rec := range recs {
		ev, err := wal.DecodeEvent(rec.Payload)
		if err != nil {
			return fmt.Errorf("engine: decode shipped lsn %d: %w", rec.LSN, err)
		}
		ev.LSN = book.LSN(rec.LSN)
		bk := e.bookFor(ev.Symbol)
		if err := bk.ApplyEvent(ev); err != nil {
			return err
		}
		if ev.Type == book.EvAccepted {
			e.trackOrder(ev.OrderID, ev.Symbol)
		}
		if uint64(ev.OrderID) > maxOrder {
			maxOrder = uint64(ev.OrderID)
		}
		touched[ev.Symbol] = struct{}{}
		e.lsn.Reset(rec.LSN)
	}
	e.orderIDs.Reset(maxOrder)

	e.refreshDepth(touched)
	e.met.LastLSN.Set(float64(e.lsn.Current()))
	if err := e.wal.MaybeRotate(); err != nil {
		e.log.Error("wal rotation failed", zap.Error(err))
	}
	return nil
}
