package commands

import (
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

type listCommand struct {
	root *rootFlags
}

func newListCommand(rf *rootFlags) *cobra.Command {
	c := &listCommand{root: rf}
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored sketches",
		Args:    cobra.NoArgs,
		RunE:    c.run,
	}
}

func (c *listCommand) run(cmd *cobra.Command, _ []string) error {
	e, err := c.root.load(cmd)
	if err != nil {
		return err
	}
	st, err := e.openStore()
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(e.out)
	tw.SetStyle(table.StyleLight)
	tw.Style().Format.Footer = text.FormatDefault
	tw.AppendHeader(table.Row{"Key", "lgK", "Type", "Mode", "Estimate", "Stored"})

	var stored uint64
	for _, key := range st.Keys() {
		img, _ := st.Get(key)
		stored += uint64(len(img))
		sk, err := e.sketch(st, key)
		if err != nil {
			return err
		}
		tw.AppendRow(table.Row{
			key,
			sk.LgK(),
			sk.TargetType(),
			sk.Mode(),
			humanize.CommafWithDigits(sk.Estimate(), 0),
			humanize.IBytes(uint64(len(img))),
		})
	}
	tw.AppendFooter(table.Row{humanize.Comma(int64(st.Len())) + " sketches", "", "", "", "", humanize.IBytes(stored)})
	tw.Render()
	return nil
}
