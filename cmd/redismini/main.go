// Command redismini wires the persistence core (Dict/Store, AofBatchWriter,
// AofRewriter, RdbWriter, SnapshotCoordinator, metrics) into a standalone
// process. It restores state on startup and runs the background RDB/AOF
// maintenance loops; the network command server and RESP dispatcher are the
// explicit non-goal and are not part of this binary (spec.md §1).
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kachofugetsu09/redis-mini-sub000/internal/aof"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/config"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/logging"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/metrics"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/rdb"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/snapshot"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/store"
)

var log = logging.For("main")

func main() {
	configPath := "./redismini.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg := config.DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.LoadTOML(configPath)
		if err != nil {
			log.Error("failed to load %s, falling back to defaults: %v", configPath, err)
		} else {
			cfg = loaded
		}
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		log.Error("failed to create data directory %s: %v", cfg.Dir, err)
		os.Exit(1)
	}

	st := store.New(cfg.Databases)
	coord := snapshot.New()

	rdbPath := filepath.Join(cfg.Dir, cfg.RDBFileName)
	aofPath := filepath.Join(cfg.Dir, cfg.AOFFileName)

	log.Info("loading persisted state from %s", cfg.Dir)
	if err := aof.Load(aofPath, st); err != nil {
		log.Error("aof load failed: %v", err)
	} else if err := rdb.Load(rdbPath, st); err != nil {
		log.Error("rdb load failed: %v", err)
	}

	bw, err := aof.New(cfg)
	if err != nil {
		log.Error("failed to open aof: %v", err)
		os.Exit(1)
	}

	rewriter := aof.NewRewriter(aof.Config{Dir: cfg.Dir, AOFPath: aofPath}, coord, bw)
	rdbWriter := rdb.New(coord)
	tracker := metrics.NewTracker()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	forceSaveCh := make(chan os.Signal, 1)
	signal.Notify(forceSaveCh, syscall.SIGUSR1)

	go maintenanceLoop(ctx, st, rewriter, rdbWriter, tracker, rdbPath)
	go forcedSaveLoop(ctx, forceSaveCh, coord, st, rdbWriter, rdbPath)

	log.Info("redismini core ready, %d databases", cfg.Databases)
	<-sigCh
	log.Info("shutting down")
	cancel()
	if err := bw.Shutdown(); err != nil {
		log.Error("aof shutdown error: %v", err)
	}
}

// forcedSaveLoop answers SIGUSR1 with an immediate, synchronous RDB save.
// Unlike maintenanceLoop's BackgroundSave (which uses TryAcquire and skips
// the cycle if the snapshot slot is busy), an operator-requested save
// should not be silently dropped: it blocks on Coordinator.Acquire until
// the slot is free, then runs Writer.Save on this goroutine.
func forcedSaveLoop(ctx context.Context, sigCh <-chan os.Signal, coord *snapshot.Coordinator, st *store.Store, rdbWriter *rdb.Writer, rdbPath string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			log.Info("forced rdb save requested, waiting for snapshot slot")
			if err := coord.Acquire(ctx, snapshot.KindRDB); err != nil {
				log.Error("forced rdb save aborted: %v", err)
				continue
			}
			err := rdbWriter.Save(st, rdbPath)
			coord.Release()
			if err != nil {
				log.Error("forced rdb save failed: %v", err)
			} else {
				log.Info("forced rdb save complete: %s", rdbPath)
			}
		}
	}
}

// maintenanceLoop periodically triggers background RDB saves and AOF
// rewrites, logging a metrics snapshot each cycle. A real deployment would
// drive these from the command dispatcher's write-count/time heuristics;
// the dispatcher itself is out of scope, so this loop stands in for it.
func maintenanceLoop(ctx context.Context, st *store.Store, rewriter *aof.Rewriter, rdbWriter *rdb.Writer, tracker *metrics.Tracker, rdbPath string) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := tracker.Sample(st)
			log.Info("memory used=%d peak=%d keys=%v", snap.UsedMemoryBytes, snap.PeakMemoryBytes, snap.DatabaseKeyCounts)

			if err := rdbWriter.BackgroundSave(ctx, st, rdbPath); err != nil {
				log.Debug("background save skipped: %v", err)
			}
			if err := rewriter.Rewrite(ctx, st); err != nil {
				log.Debug("aof rewrite skipped: %v", err)
			}
		}
	}
}
