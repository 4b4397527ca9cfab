// Package engine runs the matching core. One writer goroutine owns every
// book: it drains the ingestion queue in batches, applies commands, commits
// the resulting events to the WAL with a single fsync per batch, and only
// then acknowledges callers and hands events to the publication paths.
package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"vidar/domain/book"
	"vidar/infra/metrics"
	"vidar/infra/outbox"
	"vidar/infra/queue"
	"vidar/infra/sequence"
	"vidar/infra/wal"
)

type Role int32

const (
	RolePrimary Role = iota + 1
	RoleFollower
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleFollower:
		return "follower"
	default:
		return "unknown"
	}
}

const (
	defaultBatchMax    = 256
	defaultDepthLevels = 32
	defaultIdemTTL     = 10 * time.Minute

	// Orders whose id-to-symbol mapping is older than this many submits
	// can no longer be cancelled by id alone.
	symbolIndexCap = 1 << 17

	idemSweepEvery = 4096 // batches between idempotency sweeps
)

type Config struct {
	DepthLevels    int
	BatchMax       int
	IdempotencyTTL time.Duration
}

func (c *Config) defaults() {
	if c.DepthLevels <= 0 {
		c.DepthLevels = defaultDepthLevels
	}
	if c.BatchMax <= 0 {
		c.BatchMax = defaultBatchMax
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = defaultIdemTTL
	}
}

type Engine struct {
	cfg Config
	log *zap.Logger
	met *metrics.Set

	q   queue.Queue[*Command]
	wal *wal.WAL
	ob  *outbox.Outbox // nil disables the durable publication hand-off

	lsn      *sequence.Sequencer
	orderIDs *sequence.Sequencer

	role   atomic.Int32
	halted atomic.Bool

	// Writer-owned state. Touched only by the writer goroutine (or the
	// replication apply loop on a follower; the two never run together).
	books    map[string]*book.Book
	symbols  []string // sorted, so multi-book sweeps are deterministic
	symbolOf map[book.OrderID]string
	idxRing  []book.OrderID
	idxPos   int
	idem     *idempotencyStore
	batches  uint64
	snapDir  string

	depthMu sync.RWMutex
	depths  map[string]*book.Depth

	subMu sync.Mutex
	subs  map[int]chan *wal.Record
	subID int
}

func New(cfg Config, role Role, snapDir string, q queue.Queue[*Command], w *wal.WAL, ob *outbox.Outbox, met *metrics.Set, log *zap.Logger) *Engine {
	cfg.defaults()
	e := &Engine{
		cfg:      cfg,
		log:      log,
		met:      met,
		q:        q,
		wal:      w,
		ob:       ob,
		lsn:      sequence.New(0),
		orderIDs: sequence.New(0),
		books:    make(map[string]*book.Book),
		symbolOf: make(map[book.OrderID]string),
		idem:     newIdempotencyStore(cfg.IdempotencyTTL),
		snapDir:  snapDir,
		depths:   make(map[string]*book.Depth),
		subs:     make(map[int]chan *wal.Record),
	}
	e.role.Store(int32(role))
	return e
}

// ---- public surface ----

func (e *Engine) Role() Role { return Role(e.role.Load()) }

func (e *Engine) Halted() bool { return e.halted.Load() }

func (e *Engine) LastLSN() uint64 { return e.lsn.Current() }

// Promote flips a follower to primary. The caller must have stopped the
// replication apply loop first; the writer resumes issuing LSNs at
// lastApplied+1.
func (e *Engine) Promote() {
	e.role.Store(int32(RolePrimary))
	e.log.Info("promoted to primary", zap.Uint64("last_lsn", e.lsn.Current()))
}

// Execute enqueues a command and waits for its committed result. Transport
// failures (backpressure, shutdown, context) come back as the error;
// business rejections ride inside Result.Err.
func (e *Engine) Execute(ctx context.Context, cmd *Command) (Result, error) {
	if e.Role() != RolePrimary {
		return Result{}, book.ErrNotPrimary
	}
	if e.halted.Load() {
		return Result{}, book.ErrHalted
	}
	cmd.Reply = make(chan Result, 1)
	if err := e.q.Enqueue(ctx, cmd); err != nil {
		if err == queue.ErrFull {
			e.met.RejectsTotal.WithLabelValues("queue_full").Inc()
		}
		return Result{}, err
	}
	select {
	case r := <-cmd.Reply:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Inject enqueues an internal command without waiting for a reply.
func (e *Engine) Inject(ctx context.Context, cmd *Command) error {
	if e.halted.Load() {
		return book.ErrHalted
	}
	return e.q.Enqueue(ctx, cmd)
}

// Depth returns the last published depth snapshot for symbol. The snapshot
// is immutable; it never exposes mid-mutation book state.
func (e *Engine) Depth(symbol string) *book.Depth {
	e.depthMu.RLock()
	defer e.depthMu.RUnlock()
	return e.depths[symbol]
}

func (e *Engine) Symbols() []string {
	e.depthMu.RLock()
	defer e.depthMu.RUnlock()
	out := make([]string, 0, len(e.depths))
	for sym := range e.depths {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// SubscribeRecords delivers committed WAL records to in-process consumers
// (the replication shipper). Delivery is best-effort: a slow subscriber
// drops records and must re-read the WAL to fill the gap.
func (e *Engine) SubscribeRecords(buf int) (<-chan *wal.Record, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.subID
	e.subID++
	ch := make(chan *wal.Record, buf)
	e.subs[id] = ch
	cancel := func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// ---- writer loop ----

// Run drains the ingestion queue until it is closed. Closing the queue is
// the only stop signal: every command already accepted is processed and
// answered before Run returns, so no caller is left waiting. Only one Run
// may be active, and only on a primary.
func (e *Engine) Run() {
	e.log.Info("matching writer started",
		zap.Uint64("last_lsn", e.lsn.Current()),
		zap.Int("batch_max", e.cfg.BatchMax))
	for {
		batch, ok := e.q.DequeueBatch(e.cfg.BatchMax)
		if !ok {
			e.log.Info("ingestion queue closed, writer stopping")
			return
		}
		e.commit(batch)
	}
}

type done struct {
	cmd *Command
	res Result
}

func (e *Engine) commit(batch []*Command) {
	outs := make([]done, 0, len(batch))
	var recs []*wal.Record
	touched := make(map[string]struct{})

	for _, cmd := range batch {
		e.met.CommandsTotal.WithLabelValues(cmd.Type.String()).Inc()
		if e.halted.Load() {
			outs = append(outs, done{cmd, Result{Err: book.ErrHalted}})
			continue
		}
		res, newRecs := e.process(cmd, touched)
		recs = append(recs, newRecs...)
		outs = append(outs, done{cmd, res})
	}

	if len(recs) > 0 {
		for _, rec := range recs {
			if err := e.wal.Append(rec); err != nil {
				e.failCommit(err, outs)
				return
			}
		}
		start := time.Now()
		if err := e.wal.Sync(); err != nil {
			e.failCommit(err, outs)
			return
		}
		e.met.WALFsyncSeconds.Observe(time.Since(start).Seconds())
		e.met.EventsTotal.Add(float64(len(recs)))
		e.met.LastLSN.Set(float64(e.lsn.Current()))
	}

	// Durable. Acknowledge and fan out.
	for _, rec := range recs {
		if e.ob != nil {
			if err := e.ob.Put(rec.LSN, rec.Payload); err != nil {
				e.log.Error("outbox put failed", zap.Uint64("lsn", rec.LSN), zap.Error(err))
			}
		}
		e.fanout(rec)
	}
	for _, d := range outs {
		d.cmd.reply(d.res)
	}

	e.refreshDepth(touched)
	e.met.QueueDepth.Set(float64(e.q.Len()))
	if err := e.wal.MaybeRotate(); err != nil {
		e.log.Error("wal rotation failed", zap.Error(err))
	}
	e.batches++
	if e.batches%idemSweepEvery == 0 {
		e.idem.Sweep()
	}
}

// failCommit handles a WAL write failure. Nothing in this batch is
// acknowledged as committed; the engine halts because book state already
// diverged from the log.
func (e *Engine) failCommit(err error, outs []done) {
	e.halt(err)
	for _, d := range outs {
		d.cmd.reply(Result{Err: book.ErrHalted})
	}
}

func (e *Engine) halt(err error) {
	if e.halted.CompareAndSwap(false, true) {
		e.log.Error("engine halted", zap.Error(err))
	}
}

func (e *Engine) fanout(rec *wal.Record) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- rec:
		default: // subscriber lags, it recovers from the WAL
		}
	}
}

// ---- command processing ----

func (e *Engine) process(cmd *Command, touched map[string]struct{}) (Result, []*wal.Record) {
	switch cmd.Type {
	case CmdSubmit:
		return e.processSubmit(cmd, touched)
	case CmdCancel, CmdReplace:
		return e.processByID(cmd, touched)
	case CmdExpireSweep:
		return e.processExpire(cmd, touched)
	case CmdCheckpoint:
		return Result{Err: e.Checkpoint()}, nil
	default:
		return Result{Err: &book.ValidationError{Reason: "unknown_command", Field: "type"}}, nil
	}
}

func (e *Engine) processSubmit(cmd *Command, touched map[string]struct{}) (Result, []*wal.Record) {
	var hash [32]byte
	if cmd.IdempotencyKey != "" {
		hash = submitHash(cmd)
		if cached, hit, conflict := e.idem.Lookup(cmd.IdempotencyKey, hash); hit {
			if conflict {
				e.met.RejectsTotal.WithLabelValues(book.ReasonDuplicateKey).Inc()
				return Result{Err: &book.ValidationError{
					Reason: book.ReasonDuplicateKey,
					Field:  "idempotency_key",
					Value:  cmd.IdempotencyKey,
				}}, nil
			}
			return cached, nil
		}
	}

	bk := e.bookFor(cmd.Symbol)
	id := book.OrderID(e.orderIDs.Next())
	o := &book.Order{
		ID:        id,
		Symbol:    cmd.Symbol,
		Side:      cmd.Side,
		Price:     cmd.Price,
		Qty:       cmd.Qty,
		Remaining: cmd.Qty,
		Seq:       cmd.seq,
		TIF:       cmd.TIF,
		ExpireAt:  cmd.ExpireAt,
	}
	evs := bk.ApplySubmit(o)
	recs := e.seal(bk, evs, touched)

	res := Result{OrderID: id, Events: evs, Err: rejectionOf(evs)}
	e.trackOrder(id, cmd.Symbol)
	if cmd.IdempotencyKey != "" {
		e.idem.Store(cmd.IdempotencyKey, hash, res)
	}
	return res, recs
}

func (e *Engine) processByID(cmd *Command, touched map[string]struct{}) (Result, []*wal.Record) {
	sym, ok := e.symbolOf[cmd.OrderID]
	if !ok {
		sym = cmd.Symbol
	}
	bk := e.books[sym]
	if bk == nil {
		e.met.RejectsTotal.WithLabelValues(book.ReasonNotFound).Inc()
		return Result{Err: &book.ValidationError{
			Reason: book.ReasonNotFound,
			Field:  "order_id",
		}}, nil
	}

	var evs []book.Event
	if cmd.Type == CmdCancel {
		evs = bk.ApplyCancel(cmd.OrderID, "user")
	} else {
		evs = bk.ApplyReplace(cmd.OrderID, cmd.NewPrice, cmd.NewQty)
	}
	recs := e.seal(bk, evs, touched)
	return Result{OrderID: cmd.OrderID, Events: evs, Err: rejectionOf(evs)}, recs
}

func (e *Engine) processExpire(cmd *Command, touched map[string]struct{}) (Result, []*wal.Record) {
	var all []book.Event
	var recs []*wal.Record
	for _, sym := range e.symbols {
		bk := e.books[sym]
		evs := bk.ApplyExpire(cmd.Now)
		if len(evs) == 0 {
			continue
		}
		recs = append(recs, e.seal(bk, evs, touched)...)
		all = append(all, evs...)
	}
	return Result{Events: all}, recs
}

// seal assigns LSNs, encodes the events for the log, and verifies the book
// settled uncrossed. A crossed book halts the engine.
func (e *Engine) seal(bk *book.Book, evs []book.Event, touched map[string]struct{}) []*wal.Record {
	if len(evs) == 0 {
		return nil
	}
	recs := make([]*wal.Record, 0, len(evs))
	for i := range evs {
		evs[i].LSN = book.LSN(e.lsn.Next())
		recs = append(recs, &wal.Record{
			LSN:     uint64(evs[i].LSN),
			Payload: wal.EncodeEvent(&evs[i]),
		})
		switch evs[i].Type {
		case book.EvRejected:
			e.met.RejectsTotal.WithLabelValues(evs[i].Reason).Inc()
		case book.EvPartiallyFilled, book.EvFilled:
			// Each match emits a maker and a taker event; the taker always
			// holds the higher id, so this counts each trade once.
			if evs[i].CounterID != 0 && evs[i].OrderID > evs[i].CounterID {
				e.met.TradesTotal.Inc()
			}
		}
	}
	touched[bk.Symbol] = struct{}{}
	if err := bk.CheckCrossed(); err != nil {
		e.halt(err)
	}
	return recs
}

// rejectionOf surfaces a lone Rejected event as the command's error.
func rejectionOf(evs []book.Event) error {
	if len(evs) == 1 && evs[0].Type == book.EvRejected {
		return &book.ValidationError{Reason: evs[0].Reason, Field: evs[0].Field}
	}
	return nil
}

// ---- shared writer-state helpers ----

func (e *Engine) bookFor(symbol string) *book.Book {
	bk, ok := e.books[symbol]
	if !ok {
		bk = book.New(symbol)
		e.books[symbol] = bk
		i := sort.SearchStrings(e.symbols, symbol)
		e.symbols = append(e.symbols, "")
		copy(e.symbols[i+1:], e.symbols[i:])
		e.symbols[i] = symbol
	}
	return bk
}

// trackOrder remembers which book owns an order id so cancels and replaces
// route without a symbol. The index is bounded; ancient ids age out.
func (e *Engine) trackOrder(id book.OrderID, symbol string) {
	if len(e.idxRing) < symbolIndexCap {
		e.idxRing = append(e.idxRing, id)
	} else {
		delete(e.symbolOf, e.idxRing[e.idxPos])
		e.idxRing[e.idxPos] = id
		e.idxPos = (e.idxPos + 1) % symbolIndexCap
	}
	e.symbolOf[id] = symbol
}

func (e *Engine) refreshDepth(touched map[string]struct{}) {
	if len(touched) == 0 {
		return
	}
	lsn := book.LSN(e.lsn.Current())
	e.depthMu.Lock()
	for sym := range touched {
		e.depths[sym] = e.books[sym].Depth(e.cfg.DepthLevels, lsn)
	}
	e.depthMu.Unlock()
}

// refreshAllDepth rebuilds every symbol's snapshot. Recovery and follower
// promotion use it so reads are served immediately.
func (e *Engine) refreshAllDepth() {
	all := make(map[string]struct{}, len(e.symbols))
	for _, sym := range e.symbols {
		all[sym] = struct{}{}
	}
	e.refreshDepth(all)
}
