package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ValentinKolb/mLog/cmd/util"
	"github.com/ValentinKolb/mLog/lib/backing"
	"github.com/ValentinKolb/mLog/lib/pipeline"
	"github.com/ValentinKolb/mLog/lib/ringbuf"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"io"
	"os"
)

var (
	// StoreCommands represents the store command group
	StoreCommands = &cobra.Command{
		Use:   "store",
		Short: "Inspect and recover backing files",
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect",
		Short: "Show the header and the pending records of a backing file",
		Long:  `Show the header and the pending records of a backing file without modifying it. A file that does not hold a compatible ring buffer is reported as an error and left untouched.`,
		Args:  cobra.NoArgs,
		RunE:  runInspect,
	}

	recoverCmd = &cobra.Command{
		Use:   "recover",
		Short: "Drain the pending records of a backing file into the output file",
		Long:  `Drain the pending records of a backing file into the output file. The file is attached at its current size and refused if it does not hold a compatible ring buffer, unless --on-mismatch is given explicitly.`,
		Args:  cobra.NoArgs,
		RunE:  runRecover,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Open the pipeline once and print its state and metrics",
		Long:  `Open the pipeline once and print its state and metrics in Prometheus text format. Pending records of the backing file are drained as a side effect.`,
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
)

func init() {
	// Add common pipeline flags to the store command
	util.SetupPipelineFlags(StoreCommands)

	key := "limit"
	inspectCmd.Flags().Int(key, 20, util.WrapString("Maximum number of pending records to print (-1 prints all)"))
	key = "json"
	inspectCmd.Flags().Bool(key, false, util.WrapString("Print the header as JSON"))

	// Add subcommands
	StoreCommands.AddCommand(inspectCmd)
	StoreCommands.AddCommand(recoverCmd)
	StoreCommands.AddCommand(statsCmd)
}

func runInspect(_ *cobra.Command, _ []string) error {
	conf, err := util.GetPipelineConfig()
	if err != nil {
		return err
	}
	return inspect(os.Stdout, conf.BackingPath, conf.SlotSize, viper.GetInt("limit"), viper.GetBool("json"))
}

func runRecover(_ *cobra.Command, _ []string) error {
	conf, err := util.GetPipelineConfig()
	if err != nil {
		return err
	}
	// only an explicit --on-mismatch may discard the content of the file
	if !viper.IsSet("on-mismatch") {
		conf.Policy = backing.PolicyRefuse
	}
	return recoverFile(os.Stdout, conf)
}

func runStats(_ *cobra.Command, _ []string) error {
	conf, err := util.GetPipelineConfig()
	if err != nil {
		return err
	}

	p, err := pipeline.Open(conf)
	if err != nil {
		return err
	}

	fmt.Println("Configuration:")
	fmt.Println(conf.String())

	stats, err := json.MarshalIndent(p.Stats(), "", "  ")
	if err == nil {
		fmt.Printf("%s\n\n", stats)
	}
	p.WriteMetrics(os.Stdout)

	return errors.Join(err, p.Shutdown())
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// inspect prints the state of the backing file at path. The file is attached with
// the refuse policy and at its current size, so it is never modified.
func inspect(w io.Writer, path string, slotSize, limit int, asJSON bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("backing file: %w", err)
	}

	// an empty or zeroed file would be initialized by Attach
	if err := checkMagic(path); err != nil {
		return err
	}

	s, err := backing.Attach(path, info.Size(), backing.Options{
		SlotSize: slotSize,
		Policy:   backing.PolicyRefuse,
	})
	if err != nil {
		return err
	}
	defer s.Detach()

	if s.InitResult() != ringbuf.AlreadyValid {
		return fmt.Errorf("%s does not contain a ring buffer", path)
	}

	rb := s.Buffer()
	stats := rb.Stats()

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Fprintf(w, "%-16s%s\n", "File:", path)
	fmt.Fprintf(w, "%-16s%d bytes\n", "Size:", s.Size())
	fmt.Fprintf(w, "%-16s%d bytes\n", "Slot size:", stats.SlotSize)
	fmt.Fprintf(w, "%-16s%d (%d usable)\n", "Slots:", stats.Slots, stats.Slots-1)
	fmt.Fprintf(w, "%-16s%d\n", "Write index:", stats.WriteIndex)
	fmt.Fprintf(w, "%-16s%d\n", "Read index:", stats.ReadIndex)
	fmt.Fprintf(w, "%-16s%d\n", "Pending:", stats.Pending)
	fmt.Fprintf(w, "%-16s%d\n", "Next sequence:", stats.NextSequence)

	if stats.Pending == 0 || limit == 0 {
		return nil
	}

	fmt.Fprintln(w)
	printed := 0
	rb.Peek(func(record []byte) bool {
		if limit > 0 && printed >= limit {
			return false
		}
		fmt.Fprintf(w, "%s", record[:ringbuf.ContentLen(record)])
		printed++
		return true
	})
	if uint64(printed) < stats.Pending {
		fmt.Fprintf(w, "... %d more\n", stats.Pending-uint64(printed))
	}
	return nil
}

// recoverFile drains the pending records of the backing file into the output file.
// The file is attached at its current size, so it is never resized.
func recoverFile(w io.Writer, conf pipeline.Config) error {
	info, err := os.Stat(conf.BackingPath)
	if err != nil {
		return fmt.Errorf("backing file: %w", err)
	}
	conf.BackingSize = info.Size()

	// the drainer empties the buffer before Shutdown returns
	p, err := pipeline.Open(conf)
	if err != nil {
		return err
	}
	if err := p.Shutdown(); err != nil {
		return err
	}

	fmt.Fprintf(w, "recovered %d record(s) from %s into %s\n", p.Stats().Drain.Records, conf.BackingPath, conf.OutputPath)
	return nil
}

// checkMagic reads the identification of the backing file without mapping it
func checkMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("backing file: %w", err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return fmt.Errorf("%s does not contain a ring buffer: %w", path, err)
	}
	if got := binary.NativeEndian.Uint32(magic[:]); got != ringbuf.Magic {
		return fmt.Errorf("%s does not contain a ring buffer (magic %#x)", path, got)
	}
	return nil
}
