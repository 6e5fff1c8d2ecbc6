package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"hll.lopezb.com/internal/pds/hyperloglog"
)

type convertCommand struct {
	root *rootFlags
	to   string
}

func newConvertCommand(rf *rootFlags) *cobra.Command {
	c := &convertCommand{root: rf}
	cobraCmd := &cobra.Command{
		Use:   "convert KEY...",
		Short: "Re-encode sketches with another dense encoding",
		Long: `Re-encode sketches with another dense encoding.

The estimate does not change. Sparse sketches only record the new encoding
and use it once they become dense.`,
		Args: cobra.MinimumNArgs(1),
		RunE: c.run,
	}
	cobraCmd.Flags().StringVarP(&c.to, "type", "t", "", "target encoding: HLL_4, HLL_6 or HLL_8")
	_ = cobraCmd.MarkFlagRequired("type")
	return cobraCmd
}

func (c *convertCommand) run(cmd *cobra.Command, args []string) error {
	tgt, err := hyperloglog.ParseTargetType(c.to)
	if err != nil {
		return err
	}
	e, err := c.root.load(cmd)
	if err != nil {
		return err
	}
	st, err := e.openStore()
	if err != nil {
		return err
	}

	for _, key := range args {
		var from hyperloglog.TargetType
		err := e.mutate(st, key, false, func(sk *hyperloglog.Sketch) (*hyperloglog.Sketch, error) {
			from = sk.TargetType()
			return sk.CopyAs(tgt)
		})
		if err != nil {
			return err
		}
		e.logger.Info("sketch converted", "key", key, "from", from, "to", tgt)
		fmt.Fprintf(e.out, "%s: %s -> %s\n", key, from, tgt)
	}
	return e.saveStore(st)
}
