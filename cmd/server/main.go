package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"vidar/api/grpcserver"
	"vidar/api/ops"
	"vidar/config"
	"vidar/engine"
	"vidar/infra/kafka"
	"vidar/infra/metrics"
	"vidar/infra/outbox"
	"vidar/infra/queue"
	"vidar/infra/wal"
	"vidar/jobs"
	"vidar/jobs/broadcaster"
	"vidar/replication"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log.Info("starting",
		zap.String("role", cfg.Role),
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.String("ops_addr", cfg.OpsAddr),
		zap.String("data_dir", cfg.DataDir))

	for _, dir := range []string{cfg.WALDir(), cfg.SnapshotDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	met := metrics.New()

	w, err := wal.Open(wal.Config{
		Dir:             cfg.WALDir(),
		SegmentSize:     cfg.WALSegmentSize,
		SegmentDuration: cfg.WALSegmentDuration,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	var ob *outbox.Outbox
	if len(cfg.KafkaBrokers) > 0 {
		if ob, err = outbox.Open(cfg.OutboxDir()); err != nil {
			return err
		}
		defer ob.Close()
	}

	mode := queue.RejectNew
	if cfg.QueueMode == "block" {
		mode = queue.BlockProducer
	}
	var q queue.Queue[*engine.Command]
	if cfg.QueueImpl == "chan" {
		q = queue.NewChan[*engine.Command](cfg.QueueCapacity, mode)
	} else {
		q = queue.NewRing[*engine.Command](uint64(cfg.QueueCapacity), mode)
	}

	role := engine.RolePrimary
	if cfg.Role == "follower" {
		role = engine.RoleFollower
	}
	eng := engine.New(engine.Config{
		DepthLevels:    cfg.DepthLevels,
		BatchMax:       cfg.BatchMax,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}, role, cfg.SnapshotDir(), q, w, ob, met, log)

	if _, err := eng.Recover(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writerDone := make(chan struct{})
	var writerStarted atomic.Bool
	startPrimary := func() {
		writerStarted.Store(true)
		go func() {
			defer close(writerDone)
			eng.Run()
		}()
		go jobs.RunExpireSweeper(ctx, eng, cfg.ExpireInterval, log)
		go jobs.RunCheckpointer(ctx, eng, cfg.CheckpointInterval, log)
	}

	// gRPC: order entry plus the replication stream for downstream
	// followers. A follower serves both too; order entry just refuses
	// until promotion.
	grpcSrv := grpc.NewServer()
	grpcserver.Register(grpcSrv, grpcserver.NewServer(eng, int32(cfg.PriceScale), log))
	replication.RegisterServer(grpcSrv,
		replication.NewShipper(eng, w, cfg.SnapshotDir(), cfg.ReplicationHeartbeat, log))

	var follower *replication.Follower
	var promote func() error
	if role == engine.RoleFollower {
		conn, err := grpc.NewClient(cfg.PrimaryAddr,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return err
		}
		defer conn.Close()

		follower = replication.NewFollower(eng, replication.NewClient(conn), met, log)
		followCtx, stopFollowing := context.WithCancel(ctx)
		followDone := make(chan struct{})
		go func() {
			defer close(followDone)
			if err := follower.Run(followCtx); err != nil && followCtx.Err() == nil {
				log.Error("follower stopped", zap.Error(err))
			}
		}()
		promote = func() error {
			stopFollowing()
			<-followDone
			eng.Promote()
			startPrimary()
			return nil
		}
	} else {
		startPrimary()
	}

	if len(cfg.KafkaBrokers) > 0 {
		bc, err := broadcaster.New(cfg.KafkaBrokers, cfg.EventsTopic, ob, log)
		if err != nil {
			return err
		}
		defer bc.Close()
		go bc.Run(ctx)

		depthPub := kafka.NewDepthPublisher(cfg.KafkaBrokers, cfg.DepthTopic)
		defer depthPub.Close()
		go jobs.RunDepthFeed(ctx, eng, depthPub, cfg.DepthInterval, log)
	}

	opsSrv := &http.Server{
		Addr: cfg.OpsAddr,
		Handler: ops.Router(ops.Options{
			Engine:   eng,
			Follower: follower,
			Promote:  promote,
			Metrics:  met,
			Log:      log,
		}),
	}
	go func() {
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ops server failed", zap.Error(err))
		}
	}()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error("grpc server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	grpcSrv.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = opsSrv.Shutdown(shutdownCtx)

	// Closing the queue lets the writer drain what was already accepted,
	// then stop; the WAL closes after the writer is done with it.
	q.Close()
	if writerStarted.Load() {
		select {
		case <-writerDone:
		case <-time.After(10 * time.Second):
			log.Warn("writer did not drain in time")
		}
	}
	return nil
}
