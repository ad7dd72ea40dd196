package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/stocksim/params"
	"github.com/uhyunpark/stocksim/pkg/api"
	"github.com/uhyunpark/stocksim/pkg/app/core"
	"github.com/uhyunpark/stocksim/pkg/app/sim"
	"github.com/uhyunpark/stocksim/pkg/storage"
	"github.com/uhyunpark/stocksim/pkg/util"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stocksim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		return err
	}

	logger, err := util.NewLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Log.File, "level", cfg.Log.Level)

	// ---- Storage ----
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	var journal storage.Journal = storage.NewNopJournal()
	if cfg.Storage.Journal != "" {
		fj, err := storage.NewFileJournal(cfg.Storage.Journal)
		if err != nil {
			return err
		}
		journal = fj
	}
	defer journal.Close()

	// ---- Simulation ----
	simCfg := sim.DefaultConfig()
	simCfg.Speed = cfg.Sim.Speed
	simCfg.PollInterval = cfg.Sim.PollInterval
	simCfg.Workers = cfg.Sim.Workers
	simCfg.DrainTimeout = cfg.Sim.DrainTimeout

	x, err := sim.New(simCfg, sim.Deps{Log: logger.Named("sim")})
	if err != nil {
		return err
	}
	stopRecording := storage.Record(x.Bus(), store, journal, logger.Named("storage"))
	defer stopRecording()

	if err := restore(x, store, cfg, sugar); err != nil {
		return err
	}
	if err := ensureUser(x, cfg.User); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Sim.AutoStart {
		if err := x.Start(); err != nil {
			return err
		}
	}

	st := x.Status()
	sugar.Infow("stocksim_starting",
		"instruments", st.Instruments,
		"traders", st.Traders,
		"bots", st.Bots,
		"speed", st.Speed,
		"state", st.State.String(),
		"api_addr", cfg.API.Addr)

	g, gctx := errgroup.WithContext(ctx)

	// ---- API Server ----
	apiServer := api.NewServer(x, store, cfg.API.CORSOrigins, logger.Named("api"))
	g.Go(func() error {
		return apiServer.Start(gctx, cfg.API.Addr)
	})

	// ---- Periodic snapshot ----
	if cfg.Sim.SnapshotInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Sim.SnapshotInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := store.SaveSnapshot(x.Snapshot()); err != nil {
						sugar.Warnw("snapshot_failed", "err", err)
						continue
					}
					sugar.Debugw("snapshot_saved", "instant", x.Clock().Instant())
				}
			}
		})
	}

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		sugar.Errorw("stocksim_failed", "err", runErr)
	}

	// Shutdown: pause, drain bots, final snapshot. Deferred closes follow.
	sugar.Info("stocksim_stopping")
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Sim.DrainTimeout)
	defer cancel()
	if err := x.Shutdown(drainCtx); err != nil {
		sugar.Warnw("drain_incomplete", "err", err)
	}
	if err := store.SaveSnapshot(x.Snapshot()); err != nil {
		return errors.Wrap(err, "final snapshot")
	}
	sugar.Infow("stocksim_stopped", "instant", x.Clock().Instant(), "state_hash", fmt.Sprintf("%x", x.StateHash()))
	return runErr
}

// restore loads the last snapshot, or the seed file plus generated bots when
// the store is empty.
func restore(x *sim.StockSim, store *storage.Store, cfg params.Config, sugar *zap.SugaredLogger) error {
	seed, ok, err := store.LoadSnapshot()
	if err != nil {
		return err
	}
	if ok {
		if err := x.Load(seed); err != nil {
			return err
		}
		sugar.Infow("snapshot_restored", "instruments", len(seed.Instruments), "traders", len(seed.Traders), "start", seed.Start)
		return nil
	}

	seed, err = sim.LoadSeedFile(cfg.Storage.SeedFile)
	if err != nil {
		return err
	}
	if err := x.Load(seed); err != nil {
		return err
	}
	sugar.Infow("seed_loaded", "file", cfg.Storage.SeedFile, "instruments", len(seed.Instruments), "bots", len(seed.Traders))

	if cfg.GenBots > 0 {
		symbols := make([]string, len(seed.Instruments))
		for i, inst := range seed.Instruments {
			symbols[i] = inst.Symbol
		}
		gen := sim.NewBotGenerator(symbols, 0)
		n, err := x.AddBots(gen.GenerateBatch(cfg.GenBots))
		if err != nil {
			return errors.Wrap(err, "generated bots")
		}
		sugar.Infow("bots_generated", "count", n, "by_strategy", gen.Stats())
	}
	return nil
}

// ensureUser creates the configured human user on first start and selects it.
func ensureUser(x *sim.StockSim, u params.User) error {
	_, err := x.CreateTrader(sim.TraderSpec{Kind: core.UserKind, ID: u.ID, Name: u.Name, Balance: u.Balance})
	if err != nil && !errors.Is(err, core.ErrDuplicateTrader) {
		return err
	}
	return x.SetCurrentUser(u.ID)
}
