package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"hll.lopezb.com/internal/pds/hyperloglog"
)

const (
	itemString = "string"
	itemInt    = "int"
	itemFloat  = "float"
)

var errInvalidItemType = errors.New("invalid item type")

// parseItem converts a command-line item into the value the sketch hashes.
// "7" as an int and "7" as a string are different items.
func parseItem(raw, as string) (any, error) {
	switch as {
	case itemString:
		return raw, nil
	case itemInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", raw, err)
		}
		return v, nil
	case itemFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", raw, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: %q (want string, int or float)", errInvalidItemType, as)
}

func checkItemType(as string) error {
	switch as {
	case itemString, itemInt, itemFloat:
		return nil
	}
	return fmt.Errorf("%w: %q (want string, int or float)", errInvalidItemType, as)
}

type addCommand struct {
	root *rootFlags
	as   string
}

func newAddCommand(rf *rootFlags) *cobra.Command {
	c := &addCommand{root: rf}
	cobraCmd := &cobra.Command{
		Use:   "add KEY ITEM...",
		Short: "Add items to a sketch, creating it if missing",
		Args:  cobra.MinimumNArgs(2),
		RunE:  c.run,
	}
	cobraCmd.Flags().StringVar(&c.as, "as", itemString, "item type: string, int or float")
	return cobraCmd
}

func (c *addCommand) run(cmd *cobra.Command, args []string) error {
	if err := checkItemType(c.as); err != nil {
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

	key, items := args[0], args[1:]
	var est float64
	err = e.mutate(st, key, true, func(sk *hyperloglog.Sketch) (*hyperloglog.Sketch, error) {
		for _, raw := range items {
			v, err := parseItem(raw, c.as)
			if err != nil {
				return nil, err
			}
			if err := sk.UpdateValue(v); err != nil {
				return nil, err
			}
		}
		est = sk.Estimate()
		return sk, nil
	})
	if err != nil {
		return err
	}
	if err := e.saveStore(st); err != nil {
		return err
	}
	e.logger.Info("items added", "key", key, "items", len(items))
	fmt.Fprintf(e.out, "%s: %.0f\n", key, est)
	return nil
}

type ingestCommand struct {
	root *rootFlags
	as   string
}

func newIngestCommand(rf *rootFlags) *cobra.Command {
	c := &ingestCommand{root: rf}
	cobraCmd := &cobra.Command{
		Use:   "ingest KEY [FILE...]",
		Short: "Add one item per line from files, or stdin when none or - is given",
		Args:  cobra.MinimumNArgs(1),
		RunE:  c.run,
	}
	cobraCmd.Flags().StringVar(&c.as, "as", itemString, "item type: string, int or float")
	return cobraCmd
}

func (c *ingestCommand) run(cmd *cobra.Command, args []string) error {
	if err := checkItemType(c.as); err != nil {
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

	key, files := args[0], args[1:]
	if len(files) == 0 {
		files = []string{"-"}
	}

	var lines int
	var est float64
	err = e.mutate(st, key, true, func(sk *hyperloglog.Sketch) (*hyperloglog.Sketch, error) {
		for _, name := range files {
			n, err := c.ingestFile(cmd, sk, name)
			lines += n
			if err != nil {
				return nil, err
			}
			e.logger.Debug("file ingested", "key", key, "file", name, "lines", n)
		}
		est = sk.Estimate()
		return sk, nil
	})
	if err != nil {
		return err
	}
	if err := e.saveStore(st); err != nil {
		return err
	}
	e.logger.Info("ingest done", "key", key, "files", len(files), "lines", lines)
	fmt.Fprintf(e.out, "%s: %.0f (%d lines)\n", key, est, lines)
	return nil
}

func (c *ingestCommand) ingestFile(cmd *cobra.Command, sk *hyperloglog.Sketch, name string) (int, error) {
	var r io.Reader
	if name == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(name)
		if err != nil {
			return 0, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n, lineNo := 0, 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		v, err := parseItem(line, c.as)
		if err != nil {
			return n, fmt.Errorf("%s:%d: %w", name, lineNo, err)
		}
		if err := sk.UpdateValue(v); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read %s: %w", name, err)
	}
	return n, nil
}
