package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fortiblox/genvm/internal/types"
	"github.com/fortiblox/genvm/pkg/asm"
	"github.com/fortiblox/genvm/pkg/config"
	"github.com/fortiblox/genvm/pkg/gvm"
	"github.com/fortiblox/genvm/pkg/objective"
)

// builtinNelderMead names the hand-written genome on the command line.
const builtinNelderMead = "@nelder-mead"

// readGenome loads a genome from an assembly source (.asm), a genome file
// (anything else), or the built-in Nelder-Mead genome.
func readGenome(path string) ([]byte, error) {
	if path == builtinNelderMead {
		return asm.NelderMead(), nil
	}
	if strings.EqualFold(filepath.Ext(path), ".asm") {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		genome, err := asm.Assemble(string(src))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return genome, nil
	}
	genome, _, err := asm.ReadGenomeFile(path, log)
	return genome, err
}

// openObjective returns the remote objective when an address is configured,
// otherwise the table function. The returned close function is never nil.
func openObjective(cfg *config.Config) (gvm.Objective, func() error, error) {
	addrs := cfg.RemoteAddresses()
	switch len(addrs) {
	case 0:
		return objective.Table{Index: cfg.Objective.Index}, func() error { return nil }, nil
	case 1:
		remote, err := objective.Dial(cfg.RemoteConfig())
		if err != nil {
			return nil, nil, err
		}
		log.WithField("address", addrs[0]).Info("Using remote objective")
		return remote, remote.Close, nil
	}

	pool := objective.NewPool()
	pool.ProbeTimeout = cfg.RemoteConfig().WithDefaults().Timeout
	pool.SetOnHealthChange(func(name string, healthy bool) {
		log.WithFields(logrus.Fields{"address": name, "healthy": healthy}).Warn("Objective server health changed")
	})
	for _, addr := range addrs {
		rc := cfg.RemoteConfig()
		rc.Address = addr
		remote, err := objective.Dial(rc)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		pool.Add(addr, remote)
	}
	pool.Start(context.Background())
	log.WithField("servers", len(addrs)).Info("Using remote objective pool")
	return pool, pool.Close, nil
}

var runCmd = &cobra.Command{
	Use:   "run <genome>",
	Short: "Run a genome against the objective.",
	Long: "Run a genome from a genome file, an .asm source or " + builtinNelderMead +
		" until vector register 0 reaches the target or the budget is spent.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("trace") {
			cfg.Machine.Trace, _ = cmd.Flags().GetBool("trace")
		}
		if cmd.Flags().Changed("seed") {
			cfg.Machine.Seed, _ = cmd.Flags().GetInt64("seed")
		}
		if cmd.Flags().Changed("steps") {
			cfg.Machine.MaxSteps, _ = cmd.Flags().GetUint64("steps")
		}
		if cmd.Flags().Changed("evals") {
			cfg.Machine.MaxEvals, _ = cmd.Flags().GetUint64("evals")
		}

		genome, err := readGenome(args[0])
		if err != nil {
			return err
		}
		obj, closeObj, err := openObjective(cfg)
		if err != nil {
			return err
		}
		defer closeObj()

		m := gvm.New(cfg.MachineConfig(log))
		m.SetObjective(obj)
		m.Load(genome)
		m.Reset()

		ec := cfg.EvolveConfig()
		target := ec.TargetPoint()
		reached, err := m.RunTo(cfg.Machine.MaxSteps, cfg.Machine.MaxEvals, target, cfg.Machine.Tol)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "genome %s (%d instructions)\n", types.ComputeGenomeID(genome).Short(), m.Len())
		fmt.Fprintf(out, "target %s reached=%t steps=%d evals=%d\n", target, reached, m.Steps(), m.Evals())
		fmt.Fprintf(out, "result %s\n", m.VecPoint(0))
		if show, _ := cmd.Flags().GetBool("show"); show {
			return m.Show(out)
		}
		return nil
	},
}

var asmCmd = &cobra.Command{
	Use:   "asm <source.asm>",
	Short: "Assemble a genome.",
	Long:  "Assemble a source file (or - for stdin) and write a genome file, or print hex with --hex.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			src []byte
			err error
		)
		if args[0] == "-" {
			src, err = io.ReadAll(cmd.InOrStdin())
		} else {
			src, err = os.ReadFile(args[0])
		}
		if err != nil {
			return err
		}
		genome, err := asm.Assemble(string(src))
		if err != nil {
			return err
		}

		if printHex, _ := cmd.Flags().GetBool("hex"); printHex {
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(genome))
			return nil
		}
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			if args[0] == "-" {
				return errors.New("--output is required when reading stdin")
			}
			output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".json"
		}
		if err := asm.WriteGenomeFile(output, asm.NewGenomeFile(genome)); err != nil {
			return err
		}
		log.WithField("path", output).WithField("bytes", len(genome)).Info("Wrote genome file")
		return nil
	},
}

var disasmCmd = &cobra.Command{
	Use:   "disasm <genome>",
	Short: "Disassemble a genome.",
	Long:  "Print a genome as assembly, or as a listing with offsets, resolved jumps and dead code.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		genome, err := readGenome(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if listing, _ := cmd.Flags().GetBool("listing"); !listing {
			_, err := io.WriteString(out, asm.Disassemble(genome))
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		opts := asm.DefaultListingOptions()
		opts.ShowDead, _ = cmd.Flags().GetBool("dead")
		opts.Attempts, _ = cmd.Flags().GetInt("attempts")
		opts.Steps = int(cfg.Machine.MaxSteps)
		if opts.ShowDead {
			obj, closeObj, err := openObjective(cfg)
			if err != nil {
				return err
			}
			defer closeObj()
			opts.Objective = obj
		}
		return asm.Listing(out, genome, opts)
	},
}

func init() {
	runCmd.Flags().Bool("trace", false, "log every executed instruction")
	runCmd.Flags().Bool("show", false, "print the final machine state")
	runCmd.Flags().Int64("seed", 0, "register randomisation seed (0 uses the clock)")
	runCmd.Flags().Uint64("steps", 0, "step budget (default from configuration)")
	runCmd.Flags().Uint64("evals", 0, "objective evaluation budget (default from configuration)")

	asmCmd.Flags().StringP("output", "o", "", "genome file to write (default <source>.json)")
	asmCmd.Flags().Bool("hex", false, "print the genome as hex instead of writing a file")

	disasmCmd.Flags().BoolP("listing", "l", false, "print a listing with offsets and jump targets")
	disasmCmd.Flags().Bool("dead", true, "mark code never executed in the listing")
	disasmCmd.Flags().Int("attempts", 10, "runs used to find live code")

	rootCmd.AddCommand(runCmd, asmCmd, disasmCmd)
}
