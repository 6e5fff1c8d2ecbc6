package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"hll.lopezb.com/internal/pds/hyperloglog"
)

type estimateCommand struct {
	root      *rootFlags
	numStdDev int
	composite bool
}

func newEstimateCommand(rf *rootFlags) *cobra.Command {
	c := &estimateCommand{root: rf}
	cobraCmd := &cobra.Command{
		Use:   "estimate KEY...",
		Short: "Print cardinality estimates with confidence bounds",
		Args:  cobra.MinimumNArgs(1),
		RunE:  c.run,
	}
	cobraCmd.Flags().IntVar(&c.numStdDev, "std-dev", 0, "bound width in standard deviations, 1-3 (default: estimate.num_std_dev)")
	cobraCmd.Flags().BoolVar(&c.composite, "composite", false, "report the composite estimator instead of HIP")
	return cobraCmd
}

func (c *estimateCommand) run(cmd *cobra.Command, args []string) error {
	e, err := c.root.load(cmd)
	if err != nil {
		return err
	}
	numStdDev := e.cfg.Estimate.NumStdDev
	if cmd.Flags().Changed("std-dev") {
		numStdDev = c.numStdDev
	}
	if err := hyperloglog.CheckNumStdDev(numStdDev); err != nil {
		return err
	}

	st, err := e.openStore()
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(e.out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Key", "Mode", "Estimate", "Lower", "Upper", "RSE"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})

	for _, key := range args {
		sk, err := e.sketch(st, key)
		if err != nil {
			return err
		}
		est := sk.Estimate()
		if c.composite {
			est = sk.CompositeEstimate()
		}
		lb, err := sk.LowerBound(numStdDev)
		if err != nil {
			return err
		}
		ub, err := sk.UpperBound(numStdDev)
		if err != nil {
			return err
		}
		rse, err := sk.RelativeError(numStdDev)
		if err != nil {
			return err
		}
		tw.AppendRow(table.Row{
			key,
			sk.Mode(),
			humanize.CommafWithDigits(est, 1),
			humanize.CommafWithDigits(lb, 1),
			humanize.CommafWithDigits(ub, 1),
			fmt.Sprintf("%.3f%%", rse*100),
		})
	}
	tw.Render()
	return nil
}
