package cmd

import (
	"fmt"
	"github.com/ValentinKolb/mLog/cmd/bench"
	"github.com/ValentinKolb/mLog/cmd/logs"
	"github.com/ValentinKolb/mLog/cmd/store"
	"github.com/ValentinKolb/mLog/cmd/util"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "mlog",
		Short: "crash-resilient memory-mapped logger",
		Long: fmt.Sprintf(`mLog (v%s)

A crash-resilient logging pipeline written in Go. Records are written
into a ring buffer inside a memory-mapped file and drained by a single
background goroutine into an append-only log file. Records that were
not drained when the process died are recovered on the next start.

All flags can also be set as environment variables with the prefix
MLOG_ (e.g. MLOG_BACKING_FILE=/var/run/app.mmap) or in a .env file.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mLog",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mLog v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(logs.LogCommands)
	RootCmd.AddCommand(store.StoreCommands)
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("Log level (debug, info, warn, error)"))
}

// setup binds the flags of the executed command and configures logging
func setup(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	return util.InitLogging()
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
