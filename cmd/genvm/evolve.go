package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fortiblox/genvm/pkg/asm"
	"github.com/fortiblox/genvm/pkg/config"
	"github.com/fortiblox/genvm/pkg/dashboard"
	"github.com/fortiblox/genvm/pkg/evolve"
	"github.com/fortiblox/genvm/pkg/gvm"
	"github.com/fortiblox/genvm/pkg/history"
	"github.com/fortiblox/genvm/pkg/objective"
	"github.com/fortiblox/genvm/pkg/population"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// stores holds the on-disk population and history of an experiment.
type stores struct {
	population *population.Store
	history    *history.Store
}

// openStores opens both stores under cfg.Store.Dir and checks the history
// was written under the current command system.
func openStores(cfg *config.Config) (*stores, error) {
	if cfg.Store.Dir == "" {
		return nil, errors.New("no store directory configured (set [store] dir or --store)")
	}
	if err := os.MkdirAll(cfg.Store.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	pop, err := population.Open(cfg.PopulationConfig())
	if err != nil {
		return nil, err
	}
	hist, err := history.Open(cfg.HistoryConfig())
	if err != nil {
		pop.Close()
		return nil, err
	}

	want := gvm.CommandSystemHash()
	have, err := hist.CommandSystem()
	switch {
	case err != nil:
	case have == "":
		err = hist.SetCommandSystem(want)
	case have != want:
		log.WithFields(logrus.Fields{
			"store_cs": have,
			"expected": want,
		}).Warn("Store was written for a different command system")
	}
	if err != nil {
		pop.Close()
		hist.Close()
		return nil, err
	}
	return &stores{population: pop, history: hist}, nil
}

func (s *stores) Close() error {
	return errors.Join(s.population.Close(), s.history.Close())
}

// storeFlag applies --store over the configured directory.
func storeFlag(cmd *cobra.Command, cfg *config.Config) {
	if dir, _ := cmd.Flags().GetString("store"); dir != "" {
		cfg.Store.Dir = dir
	}
}

var evolveCmd = &cobra.Command{
	Use:   "evolve [seed genomes...]",
	Short: "Evolve genomes against the objective.",
	Long: "Run the genetic algorithm. Survivors of every generation are kept in the population " +
		"store and a summary of each generation in the history store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		storeFlag(cmd, cfg)
		if cmd.Flags().Changed("generations") {
			cfg.Evolve.Generations, _ = cmd.Flags().GetInt("generations")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		obj, closeObj, err := openObjective(cfg)
		if err != nil {
			return err
		}
		defer closeObj()

		engine, err := evolve.NewEngine(cfg.EvolveConfig(), obj, log)
		if err != nil {
			return err
		}

		for _, path := range args {
			genome, err := readGenome(path)
			if err != nil {
				return err
			}
			engine.Seed(genome)
		}

		var st *stores
		if cfg.Store.Dir != "" {
			if st, err = openStores(cfg); err != nil {
				return err
			}
			defer st.Close()
			engine.SetStore(st.population)
			engine.SetHistory(st.history)

			if resume, _ := cmd.Flags().GetBool("resume"); resume {
				if err := resumeEngine(engine, st, cfg.Evolve.TopSize); err != nil {
					return err
				}
			}
		}

		var dash *dashboard.Dashboard
		if addr, _ := cmd.Flags().GetString("dashboard"); addr != "" {
			if dash, err = startDashboard(ctx, addr, st); err != nil {
				return err
			}
		}

		bestOut, _ := cmd.Flags().GetString("best")
		err = engine.Run(ctx, cfg.Evolve.Generations, func(s evolve.Stats) error {
			if dash != nil {
				dash.Observe(s)
			}
			if st != nil && cfg.Store.KeepGenerations > 0 {
				if _, err := st.history.Prune(cfg.Store.KeepGenerations); err != nil {
					return err
				}
			}
			if bestOut != "" {
				return writeBest(bestOut, s)
			}
			return nil
		})
		if dash != nil {
			dash.SetError(err)
		}
		if errors.Is(err, context.Canceled) {
			log.WithField("generation", engine.Generation()).Info("Evolution interrupted")
			return nil
		}
		return err
	},
}

// startDashboard serves the monitoring dashboard on addr until ctx ends.
func startDashboard(ctx context.Context, addr string, st *stores) (*dashboard.Dashboard, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid dashboard address %q: %w", addr, err)
	}
	dcfg := dashboard.DefaultConfig()
	if host != "" {
		dcfg.BindAddress = host
	}
	if dcfg.Port, err = net.LookupPort("tcp", port); err != nil {
		return nil, fmt.Errorf("invalid dashboard port %q: %w", port, err)
	}

	// Interfaces stay nil without stores so the dashboard uses what it observes.
	var (
		hist dashboard.History
		pop  dashboard.Population
	)
	if st != nil {
		hist, pop = st.history, st.population
	}
	dash, err := dashboard.New(dcfg, hist, pop)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := dash.Start(ctx); err != nil {
			log.WithError(err).Error("Dashboard stopped")
		}
	}()
	log.WithField("address", "http://"+dash.Address()).Info("Dashboard listening")
	return dash, nil
}

// resumeEngine seeds the engine with the best stored individuals and
// continues generation numbering from the history.
func resumeEngine(engine *evolve.Engine, st *stores, n int) error {
	best, err := st.population.Best(n)
	if err != nil {
		return err
	}
	for _, ind := range best {
		engine.Seed(ind.Genome)
	}
	latest, err := st.history.Latest()
	switch {
	case errors.Is(err, history.ErrEmpty):
	case err != nil:
		return err
	default:
		engine.Resume(latest.Generation)
	}
	log.WithFields(logrus.Fields{
		"seeded":     len(best),
		"generation": engine.Generation(),
	}).Info("Resuming evolution")
	return nil
}

func writeBest(path string, s evolve.Stats) error {
	f := asm.NewGenomeFile(s.Best.Genome)
	gen := int(s.Generation)
	f.Generation = &gen
	f.Fitness = []float64{s.Best.Fitness.Main, s.Best.Fitness.Evals, s.Best.Fitness.Steps, s.Best.Fitness.Length}
	return asm.WriteGenomeFile(path, f)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a table function as a remote objective.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
			cfg.Objective.Listen = addr
		}
		if cmd.Flags().Changed("index") {
			cfg.Objective.Index, _ = cmd.Flags().GetInt("index")
		}

		ctx, cancel := signalContext()
		defer cancel()

		table := objective.Table{Index: cfg.Objective.Index}
		srv := objective.NewServer(cfg.ServerConfig(), table, log)
		log.WithField("objective", table.String()).Info("Starting objective server")
		if err := srv.ListenAndServe(ctx); err != nil {
			return err
		}
		log.WithField("served", srv.Served()).Info("Objective server stopped")
		return nil
	},
}

func init() {
	evolveCmd.Flags().String("store", "", "store directory (overrides [store] dir)")
	evolveCmd.Flags().IntP("generations", "g", 0, "generations to run (0 runs until interrupted)")
	evolveCmd.Flags().Bool("resume", false, "seed from the stored population and continue its history")
	evolveCmd.Flags().String("best", "", "genome file updated with the best individual after each generation")
	evolveCmd.Flags().String("dashboard", "", "serve the monitoring dashboard on host:port")

	serveCmd.Flags().String("listen", "", "listen address (overrides [objective] listen)")
	serveCmd.Flags().Int("index", 0, "table function index")

	rootCmd.AddCommand(evolveCmd, serveCmd)
}
