package commands

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"hll.lopezb.com/internal/pds/hyperloglog"
	"hll.lopezb.com/internal/store"
)

type checkCommand struct {
	root    *rootFlags
	verbose bool
	noColor bool
}

func newCheckCommand(rf *rootFlags) *cobra.Command {
	c := &checkCommand{root: rf}
	cobraCmd := &cobra.Command{
		Use:   "check [FILE]",
		Short: "Verify a snapshot file and decode every sketch in it",
		Long: `Verify a snapshot file and decode every sketch in it.

The file is streamed once: the header, every shard block and the CRC-64
checksum are checked without building a store, then each stored image is
decoded as a sketch. FILE defaults to store.path. The exit status is 1 if
anything is wrong.`,
		Args: cobra.MaximumNArgs(1),
		RunE: c.run,
	}
	cobraCmd.Flags().BoolVarP(&c.verbose, "verbose", "v", false, "print every key")
	cobraCmd.Flags().BoolVar(&c.noColor, "no-color", false, "disable colored output")
	return cobraCmd
}

func (c *checkCommand) run(cmd *cobra.Command, args []string) error {
	e, err := c.root.load(cmd)
	if err != nil {
		return err
	}
	path := e.cfg.Store.Path
	if len(args) == 1 {
		path = args[0]
	}
	if c.noColor {
		color.NoColor = true //nolint:reassign // library global
	}
	good := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	warn := color.New(color.FgYellow)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	fmt.Fprintf(e.out, "[offset 0] checking %s\n", path)
	start := time.Now()
	rep, verifyErr := store.Verify(f)

	failed := 0
	kinds := make(map[string]int)
	for _, ent := range rep.Entries {
		sk, err := hyperloglog.DeserializeSlice(ent.Value)
		if err != nil {
			failed++
			bad.Fprintf(e.out, "[offset %d] key %q: %v\n", ent.Offset, ent.Key, err)
			continue
		}
		kinds[fmt.Sprintf("%s/%s", sk.Mode(), sk.TargetType())]++
		if c.verbose {
			fmt.Fprintf(e.out, "[offset %d] key %q lgK=%d %s %s est=%.0f %s\n",
				ent.Offset, ent.Key, sk.LgK(), sk.TargetType(), sk.Mode(), sk.Estimate(),
				storedSize(ent))
		}
	}

	if verifyErr != nil {
		bad.Fprintf(e.out, "[offset %d] fatal: %v\n", rep.Size, verifyErr)
		e.logger.Error("snapshot damaged", "path", path, "readable_entries", len(rep.Entries), "err", verifyErr)
		return fmt.Errorf("%w: %w", errCheckFailed, verifyErr)
	}
	good.Fprintf(e.out, "[offset %d] checksum OK (%016x)\n", rep.Size, rep.Checksum)
	if rep.Trailing {
		warn.Fprintf(e.out, "[offset %d] unexpected data after checksum\n", rep.Size)
	}

	fmt.Fprintln(e.out, "\nSummary:")
	fmt.Fprintf(e.out, "  Check time:   %v\n", time.Since(start).Round(time.Microsecond))
	fmt.Fprintf(e.out, "  Snapshot:     %s, compression %s\n", humanize.IBytes(uint64(rep.Size)), rep.Compression)
	fmt.Fprintf(e.out, "  Sketches:     %s in %d shards\n", humanize.Comma(int64(len(rep.Entries))), rep.Shards)
	for _, k := range slices.Sorted(maps.Keys(kinds)) {
		fmt.Fprintf(e.out, "    %d\t%s\n", kinds[k], k)
	}

	if failed > 0 {
		bad.Fprintf(e.out, "%d of %d sketches do not decode\n", failed, len(rep.Entries))
		return fmt.Errorf("%w: %d sketches do not decode", errCheckFailed, failed)
	}
	good.Fprintln(e.out, "snapshot OK")
	return nil
}

func storedSize(ent store.Entry) string {
	if !ent.Compressed {
		return humanize.IBytes(uint64(ent.StoredLen))
	}
	return fmt.Sprintf("%s (lz4 from %s)", humanize.IBytes(uint64(ent.StoredLen)), humanize.IBytes(uint64(ent.RawLen)))
}
