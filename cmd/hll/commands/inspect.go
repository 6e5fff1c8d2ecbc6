package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"hll.lopezb.com/internal/pds/hyperloglog"
)

const (
	formatText = "text"
	formatYAML = "yaml"
)

var errInvalidFormat = errors.New("invalid format")

type inspectCommand struct {
	root   *rootFlags
	detail bool
	aux    bool
	all    bool
	format string
}

func newInspectCommand(rf *rootFlags) *cobra.Command {
	c := &inspectCommand{root: rf}
	cobraCmd := &cobra.Command{
		Use:   "inspect KEY",
		Short: "Dump the internal state of a sketch",
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}
	cobraCmd.Flags().BoolVar(&c.detail, "detail", false, "include coupons or slot values")
	cobraCmd.Flags().BoolVar(&c.aux, "aux", false, "include HLL_4 exception entries")
	cobraCmd.Flags().BoolVar(&c.all, "all", false, "include zero slots in the slot detail")
	cobraCmd.Flags().StringVarP(&c.format, "format", "f", formatText, "output format: text or yaml")
	return cobraCmd
}

// yamlReport is the document inspect writes with --format yaml.
type yamlReport struct {
	Key     string              `yaml:"key"`
	Summary hyperloglog.Summary `yaml:"summary"`
	Slots   map[uint32]uint8    `yaml:"slots,omitempty"`
}

func (c *inspectCommand) run(cmd *cobra.Command, args []string) error {
	if c.format != formatText && c.format != formatYAML {
		return fmt.Errorf("%w: %q (want text or yaml)", errInvalidFormat, c.format)
	}
	e, err := c.root.load(cmd)
	if err != nil {
		return err
	}
	st, err := e.openStore()
	if err != nil {
		return err
	}
	sk, err := e.sketch(st, args[0])
	if err != nil {
		return err
	}

	if c.format == formatYAML {
		rep := yamlReport{Key: args[0], Summary: sk.Summarize()}
		if c.detail {
			rep.Slots = make(map[uint32]uint8)
			for slot, v := range sk.Slots() {
				if v != 0 || c.all {
					rep.Slots[slot] = v
				}
			}
		}
		enc := yaml.NewEncoder(e.out)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintf(e.out, "key: %s\n", args[0])
	return sk.Dump(e.out, hyperloglog.DumpOptions{
		Summary:    true,
		ListDetail: c.detail,
		SetDetail:  c.detail,
		HLLDetail:  c.detail,
		AuxDetail:  c.aux,
		AllSlots:   c.all,
	})
}
