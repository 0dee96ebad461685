// genvm runs, assembles and evolves genomes for the genome machine.
package main

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fortiblox/genvm/pkg/config"
	"github.com/fortiblox/genvm/pkg/gvm"
)

// Version information, set with -ldflags at build time.
var (
	Version   = ""
	GitCommit = "dev"
)

var log = logrus.StandardLogger()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "genvm",
	Short:         "Genome machine toolbox.",
	Long:          "Run, assemble, inspect and evolve byte-string programs for the genome machine.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("genvm failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "experiment configuration file (TOML)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")

	rootCmd.AddCommand(versionCmd, hashCmd)
}

func setupLogging(cmd *cobra.Command) error {
	level, _ := cmd.Flags().GetString("log-level")
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)

	format, _ := cmd.Flags().GetString("log-format")
	switch strings.ToLower(format) {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	log.SetOutput(os.Stderr)
	return nil
}

// loadConfig reads the --config file, or returns the defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.WithField("path", path).Debug("Loaded configuration")
	return cfg, nil
}

func version() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(unknown version)"
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "genvm %s (%s) command system %s\n", version(), GitCommit, gvm.CommandSystemHash())
	},
}

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Print the command system hash.",
	Long:  "Print the fingerprint of the opcode table. Genome files record it so that code written for another table is flagged.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if full, _ := cmd.Flags().GetBool("full"); full {
			fmt.Fprint(cmd.OutOrStdout(), gvm.CommandSystem())
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), gvm.CommandSystemHash())
	},
}

func init() {
	hashCmd.Flags().Bool("full", false, "print the command system description instead of its hash")
}
