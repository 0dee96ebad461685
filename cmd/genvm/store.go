package main

import (
	"fmt"
	"math"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fortiblox/genvm/internal/types"
	"github.com/fortiblox/genvm/pkg/gvm"
	"github.com/fortiblox/genvm/pkg/history"
	"github.com/fortiblox/genvm/pkg/snapshot"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the generation history of an experiment.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		storeFlag(cmd, cfg)
		hc := cfg.HistoryConfig()
		hc.ReadOnly = true
		hist, err := history.Open(hc)
		if err != nil {
			return err
		}
		defer hist.Close()

		from, _ := cmd.Flags().GetUint64("from")
		to, _ := cmd.Flags().GetUint64("to")
		if to == 0 {
			to = math.MaxUint64
		}
		if last, _ := cmd.Flags().GetUint64("last"); last > 0 {
			latest, err := hist.Latest()
			if err != nil {
				return err
			}
			if latest.Generation >= last {
				from = latest.Generation - last + 1
			}
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "GEN\tBEST\tFITNESS\tMEAN\tFAILED\tDURATION\tTIME")
		err = hist.Range(from, to, func(rec *history.Record) error {
			_, err := fmt.Fprintf(w, "%d\t%s\t%s\t%.6g\t%d/%d\t%s\t%s\n",
				rec.Generation, rec.Best.ID.Short(), rec.Best.Fitness, rec.MeanMain,
				rec.Failed, rec.PoolSize, rec.Duration.Round(time.Millisecond), rec.Time.Format(time.RFC3339))
			return err
		})
		if err != nil {
			return err
		}
		return w.Flush()
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <snapshot>",
	Short: "Export the stored population to a snapshot.",
	Long:  "Write the stored population as JSON lines, zstd-compressed when the path ends in .zst.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		storeFlag(cmd, cfg)
		st, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		var inds []types.Individual
		if top, _ := cmd.Flags().GetInt("top"); top > 0 {
			inds, err = st.population.Best(top)
		} else {
			err = st.population.ForEach(func(ind *types.Individual) error {
				inds = append(inds, *ind)
				return nil
			})
		}
		if err != nil {
			return err
		}
		if err := snapshot.ExportFile(args[0], inds); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"path":        args[0],
			"individuals": len(inds),
			"compressed":  snapshot.IsCompressed(args[0]),
		}).Info("Exported population")
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <snapshot>",
	Short: "Import a snapshot into the population store.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		storeFlag(cmd, cfg)

		header, inds, err := snapshot.ImportFile(args[0])
		if err != nil {
			return err
		}
		if want := gvm.CommandSystemHash(); header.CommandSystemHash != want {
			log.WithFields(logrus.Fields{
				"snapshot_cs": header.CommandSystemHash,
				"expected":    want,
			}).Warn("Snapshot was written for a different command system")
		}

		st, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.population.PutBatch(inds); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"path":        args[0],
			"individuals": len(inds),
			"stored":      st.population.Count(),
		}).Info("Imported population")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{historyCmd, exportCmd, importCmd} {
		c.Flags().String("store", "", "store directory (overrides [store] dir)")
	}
	historyCmd.Flags().Uint64("from", 0, "first generation")
	historyCmd.Flags().Uint64("to", 0, "last generation (0 for the latest)")
	historyCmd.Flags().Uint64("last", 0, "show only the last N generations")
	exportCmd.Flags().Int("top", 0, "export only the best N individuals (0 exports all)")

	rootCmd.AddCommand(historyCmd, exportCmd, importCmd)
}
