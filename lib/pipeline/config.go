package pipeline

import (
	"fmt"
	"github.com/ValentinKolb/mLog/lib/backing"
	"github.com/ValentinKolb/mLog/lib/drain"
	"github.com/ValentinKolb/mLog/lib/ringbuf"
	"strings"
)

// Config holds all parameters of a pipeline
type Config struct {
	// backing file holding the ring buffer
	BackingPath string
	BackingSize int64

	// layout of the ring buffer
	SlotSize int

	// what to do with an incompatible backing file
	Policy backing.MismatchPolicy

	// append-only output file written by the drainer
	OutputPath string
}

// DefaultConfig returns the configuration used by Init
func DefaultConfig() Config {
	return Config{
		BackingPath: backing.DefaultPath,
		BackingSize: ringbuf.HeaderSize + ringbuf.DefaultCapacity,
		SlotSize:    ringbuf.DefaultSlotSize,
		Policy:      backing.PolicyReinitialize,
		OutputPath:  drain.DefaultOutputPath,
	}
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	effective := backing.EffectiveSize(c.BackingSize, c.SlotSize)

	addSection("Backing File")
	addField("Path", c.BackingPath)
	addField("Requested Size", fmt.Sprintf("%d bytes", c.BackingSize))
	addField("Effective Size", fmt.Sprintf("%d bytes", effective))
	addField("On Mismatch", c.Policy.String())

	addSection("Ring Buffer")
	addField("Slot Size", fmt.Sprintf("%d bytes", c.SlotSize))
	if c.SlotSize > 0 {
		addField("Slots", fmt.Sprintf("%d", (effective-ringbuf.HeaderSize)/int64(c.SlotSize)))
		addField("Max Message Length", fmt.Sprintf("~%d bytes", c.SlotSize-2))
	}

	addSection("Output")
	addField("Path", c.OutputPath)

	return sb.String()
}
