package bench

import (
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/mLog/cmd/util"
	"github.com/ValentinKolb/mLog/lib/pipeline"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

var (
	// BenchCmd runs concurrent producers against a pipeline
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Performance testing tool for the logging pipeline",
		Long:    `Runs a fixed workload (threads x messages, each producer writing "Thread <t>: Log message <i>") and an open-ended parallel write benchmark against the configured pipeline. Latencies are collected per write.`,
		Args:    cobra.NoArgs,
		PreRunE: processBenchConfig,
		RunE:    run,
	}
	benchThreads     = 5
	benchMessages    = 100
	benchMessageSize = 0
	benchSkip        = make([]string, 0)
)

func init() {
	// Add common pipeline flags
	util.SetupPipelineFlags(BenchCmd)

	// add flags
	key := "threads"
	BenchCmd.Flags().Int(key, 5, util.WrapString("Number of concurrent producers"))
	key = "messages"
	BenchCmd.Flags().Int(key, 100, util.WrapString("Number of messages per producer in the fixed workload"))
	key = "message-size"
	BenchCmd.Flags().Int(key, 0, util.WrapString("Pad every message to this many bytes (0 keeps the plain message)"))
	key = "skip"
	BenchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. fixed,parallel)"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	benchThreads = viper.GetInt("threads")
	benchMessages = viper.GetInt("messages")
	benchMessageSize = viper.GetInt("message-size")
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	if benchThreads < 1 || benchMessages < 1 {
		return fmt.Errorf("threads and messages must be positive")
	}
	return nil
}

// result is the outcome of one benchmark
type result struct {
	name     string
	ops      int64
	failures int64
	elapsed  time.Duration
	timer    metrics.Timer
}

func run(_ *cobra.Command, _ []string) error {
	conf, err := util.GetPipelineConfig()
	if err != nil {
		return err
	}

	fmt.Println("Performance testing tool for the logging pipeline")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(conf.String())
	fmt.Printf("Threads: %d\n", benchThreads)
	fmt.Println()

	p, err := pipeline.Open(conf)
	if err != nil {
		return err
	}

	var results []result

	if !shouldSkip("fixed") {
		res := runFixed(p)
		printResult(res)
		results = append(results, res)
	}

	if !shouldSkip("parallel") {
		res := runParallel(p)
		printResult(res)
		results = append(results, res)
	}

	// the drain of the remaining records is part of the shutdown
	start := time.Now()
	if err := p.Shutdown(); err != nil {
		return err
	}
	fmt.Printf("%-20s%s\n", "shutdown", time.Since(start))

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, conf); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runFixed writes threads x messages records and times every write
func runFixed(p *pipeline.Pipeline) result {
	res := result{name: "fixed", timer: metrics.NewTimer()}
	failures := metrics.NewCounter()

	var wg sync.WaitGroup
	wg.Add(benchThreads)
	start := time.Now()
	for t := 0; t < benchThreads; t++ {
		go func(thread int) {
			defer wg.Done()
			for i := 0; i < benchMessages; i++ {
				msg := message(thread, i)
				begin := time.Now()
				if err := p.Write(msg); err != nil {
					failures.Inc(1)
					continue
				}
				res.timer.UpdateSince(begin)
			}
		}(t)
	}
	wg.Wait()

	res.elapsed = time.Since(start)
	res.ops = res.timer.Count()
	res.failures = failures.Count()
	return res
}

// runParallel lets the testing package pick the number of writes
func runParallel(p *pipeline.Pipeline) result {
	res := result{name: "parallel", timer: metrics.NewTimer()}
	failures := metrics.NewCounter()

	bench := testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(benchThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				begin := time.Now()
				if err := p.Write(message(-1, counter)); err != nil {
					failures.Inc(1)
				} else {
					res.timer.UpdateSince(begin)
				}
				counter++
			}
		})
	})

	res.elapsed = bench.T
	res.ops = int64(bench.N)
	res.failures = failures.Count()
	return res
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// message builds the record text of one write, padded to the configured size
func message(thread, i int) string {
	msg := fmt.Sprintf("Thread %d: Log message %d", thread, i)
	if pad := benchMessageSize - len(msg); pad > 0 {
		msg += " " + strings.Repeat("x", pad-1)
	}
	return msg
}

// opsPerSec returns the throughput of a result
func opsPerSec(res result) float64 {
	seconds := math.Max(res.elapsed.Seconds(), 1e-9) // prevent division by zero
	return float64(res.ops) / seconds
}

// printResult prints the result of a benchmark in a formatted way
func printResult(res result) {
	if res.ops == 0 {
		fmt.Printf("%-20sskipped\n", res.name)
		return
	}

	ps := res.timer.Percentiles([]float64{0.5, 0.99})
	fmt.Printf("%-20s%d ops in %s\t%.0f ops/sec\tp50 %s\tp99 %s\tmax %s\tfailures %d\n",
		res.name, res.ops, res.elapsed.Round(time.Microsecond), opsPerSec(res),
		time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(res.timer.Max()), res.failures)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []result, conf pipeline.Config) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "Ops", "Failures", "ElapsedNs", "OpsPerSec",
		"MeanNs", "P50Ns", "P99Ns", "MaxNs",
		"Threads", "Messages", "MessageSize", "SlotSize", "BackingSize",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, res := range results {
		ps := res.timer.Percentiles([]float64{0.5, 0.99})
		row := []string{
			res.name,
			strconv.FormatInt(res.ops, 10),
			strconv.FormatInt(res.failures, 10),
			strconv.FormatInt(res.elapsed.Nanoseconds(), 10),
			fmt.Sprintf("%.0f", opsPerSec(res)),
			fmt.Sprintf("%.0f", res.timer.Mean()),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			strconv.FormatInt(res.timer.Max(), 10),
			strconv.Itoa(benchThreads),
			strconv.Itoa(benchMessages),
			strconv.Itoa(benchMessageSize),
			strconv.Itoa(conf.SlotSize),
			strconv.FormatInt(conf.BackingSize, 10),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", res.name, err)
		}
	}

	return nil
}
