// PulseKit maintenance CLI. Inspects and drains the local capture
// store that the in-process SDK writes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/pkg/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	cfgFile string
	verbose bool

	// dump flags
	dumpDir         string
	dumpCompression string

	// purge flags
	purgeForce bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pulsekit",
	Short: "PulseKit - inspect and drain the local capture store",
	Long: `PulseKit ships app telemetry from a local DuckDB store to the
ingestion server. This CLI operates on that store: flush pending
signals, show counters, dump to parquet, or purge everything.`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	dumpCmd.Flags().StringVarP(&dumpDir, "out", "o", "pulsekit-dump", "output directory")
	dumpCmd.Flags().StringVar(&dumpCompression, "compression", "ZSTD", "parquet compression (ZSTD, SNAPPY, GZIP)")

	purgeCmd.Flags().BoolVar(&purgeForce, "force", false, "skip confirmation")

	rootCmd.AddCommand(flushCmd, statsCmd, dumpCmd, purgeCmd)
}

func loadConfig() (*config.Manager, error) {
	m := config.NewManager()
	if cfgFile != "" {
		if err := m.LoadPath(cfgFile); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

func newLogger() *zap.Logger {
	if verbose {
		log, err := zap.NewDevelopment()
		if err == nil {
			return log
		}
	}
	return zap.NewNop()
}
