package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/mLog/cmd/util"
	"github.com/ValentinKolb/mLog/lib/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"io"
	"os"
)

var (
	logPipeline *pipeline.Pipeline

	// LogCommands represents the log command group
	LogCommands = &cobra.Command{
		Use:   "log",
		Short: "Write records to the log",
	}

	writeCmd = &cobra.Command{
		Use:   "write <message> [message...]",
		Short: "Write every argument as one record",
		Args:  cobra.MinimumNArgs(1),
		RunE:  withPipeline(runWrite),
	}

	pipeCmd = &cobra.Command{
		Use:   "pipe",
		Short: "Write every line read from stdin as one record",
		Args:  cobra.NoArgs,
		RunE:  withPipeline(runPipe),
	}
)

func init() {
	// Add common pipeline flags to the log command
	util.SetupPipelineFlags(LogCommands)

	key := "write-timeout"
	LogCommands.PersistentFlags().Duration(key, 0, util.WrapString("How long a write may wait for free space in a full buffer (0 waits forever)"))

	// Add subcommands
	LogCommands.AddCommand(writeCmd)
	LogCommands.AddCommand(pipeCmd)
}

// withPipeline opens the configured pipeline around run and shuts it down afterwards,
// also when run fails
func withPipeline(run func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		conf, err := util.GetPipelineConfig()
		if err != nil {
			return err
		}
		if logPipeline, err = pipeline.Open(conf); err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, logPipeline.Shutdown())
		}()
		return run(cmd, args)
	}
}

func runWrite(_ *cobra.Command, args []string) error {
	for _, msg := range args {
		if err := write(msg); err != nil {
			return err
		}
	}
	fmt.Printf("wrote %d record(s)\n", len(args))
	return nil
}

func runPipe(_ *cobra.Command, _ []string) error {
	n, err := pipeLines(os.Stdin)
	util.Logger.Infof("wrote %d record(s) from stdin", n)
	return err
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// pipeLines writes every line of r as one record and returns the number of records
func pipeLines(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	n := 0
	for scanner.Scan() {
		if err := write(scanner.Text()); err != nil {
			return n, err
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("read stdin: %w", err)
	}
	return n, nil
}

// write writes one record, honoring the write-timeout flag
func write(msg string) error {
	timeout := viper.GetDuration("write-timeout")
	if timeout <= 0 {
		return logPipeline.Write(msg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := logPipeline.WriteContext(ctx, msg); err != nil {
		return fmt.Errorf("write %q: %w", msg, err)
	}
	return nil
}
