package util

import (
	"fmt"
	"github.com/ValentinKolb/mLog/lib/backing"
	"github.com/ValentinKolb/mLog/lib/common"
	"github.com/ValentinKolb/mLog/lib/drain"
	"github.com/ValentinKolb/mLog/lib/pipeline"
	"github.com/ValentinKolb/mLog/lib/ringbuf"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
)

var Logger = logger.GetLogger("cli")

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
	// EnvPrefix is the prefix of all environment variables (MLOG_BACKING_FILE, ...)
	EnvPrefix = "mlog"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupPipelineFlags adds the pipeline configuration flags to a command
func SetupPipelineFlags(cmd *cobra.Command) {
	key := "backing-file"
	cmd.PersistentFlags().String(key, backing.DefaultPath, WrapString("Path of the memory-mapped file holding the ring buffer"))

	key = "backing-size"
	cmd.PersistentFlags().Int64(key, ringbuf.HeaderSize+ringbuf.DefaultCapacity, WrapString(fmt.Sprintf("Size of the backing file in bytes. Must be %d plus a multiple of the slot size, otherwise the default size is used", ringbuf.HeaderSize)))

	key = "slot-size"
	cmd.PersistentFlags().Int(key, ringbuf.DefaultSlotSize, WrapString("Size of one record slot in bytes, longer messages are truncated"))

	key = "on-mismatch"
	cmd.PersistentFlags().String(key, backing.PolicyReinitialize.String(), WrapString("What to do if the backing file holds incompatible data (reinit, refuse). reinit discards the content"))

	key = "output-file"
	cmd.PersistentFlags().String(key, drain.DefaultOutputPath, WrapString("Append-only file the drained records are written to"))
}

// InitConfig initializes configuration from .env files and environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// InitLogging configures all package loggers with the configured log level
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"))
}

// GetPipelineConfig reads the pipeline configuration from viper
func GetPipelineConfig() (pipeline.Config, error) {
	policy, err := backing.ParsePolicy(viper.GetString("on-mismatch"))
	if err != nil {
		return pipeline.Config{}, err
	}

	conf := pipeline.Config{
		BackingPath: viper.GetString("backing-file"),
		BackingSize: viper.GetInt64("backing-size"),
		SlotSize:    viper.GetInt("slot-size"),
		Policy:      policy,
		OutputPath:  viper.GetString("output-file"),
	}

	if conf.SlotSize < ringbuf.MinSlotSize {
		return conf, fmt.Errorf("slot size must be at least %d bytes, got %d", ringbuf.MinSlotSize, conf.SlotSize)
	}
	return conf, nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
