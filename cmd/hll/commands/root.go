// Package commands implements the hll subcommands. Every command loads the
// configuration, opens the snapshot file named by store.path, and writes it
// back when it changed a sketch.
package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"hll.lopezb.com/internal/config"
	"hll.lopezb.com/internal/pds/hyperloglog"
	"hll.lopezb.com/internal/store"
)

// Version is overridden at link time with -ldflags "-X ...commands.Version=".
var Version = "dev"

// rootFlags are the persistent flags every subcommand reads.
type rootFlags struct {
	configPath string
	storePath  string
}

// NewRootCommand builds the hll command tree.
func NewRootCommand() *cobra.Command {
	rf := &rootFlags{}

	root := &cobra.Command{
		Use:   "hll",
		Short: "Approximate distinct counting with HyperLogLog sketches",
		Long: `hll keeps named HyperLogLog sketches in a single snapshot file.

Commands:
  add       Add items to a sketch
  ingest    Add one item per line from files or stdin
  estimate  Print cardinality estimates with bounds
  inspect   Dump the internal state of a sketch
  convert   Re-encode a sketch as HLL_4, HLL_6 or HLL_8
  list      List stored sketches
  check     Verify a snapshot file and every sketch in it
  serve     Serve the store over the Redis protocol`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&rf.configPath, "config", "", "config file (default: .hll.yaml in . or $HOME)")
	root.PersistentFlags().StringVar(&rf.storePath, "store", "", "snapshot file (overrides store.path)")

	root.AddCommand(
		newAddCommand(rf),
		newIngestCommand(rf),
		newEstimateCommand(rf),
		newInspectCommand(rf),
		newConvertCommand(rf),
		newListCommand(rf),
		newCheckCommand(rf),
		newServeCommand(rf),
		newVersionCommand(),
	)
	return root
}

// env is the state a command runs with once configuration has loaded.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
}

func (rf *rootFlags) load(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(rf.configPath)
	if err != nil {
		return nil, err
	}
	if rf.storePath != "" {
		cfg.Store.Path = rf.storePath
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel()}))
	logger.Debug("config loaded",
		"store", cfg.Store.Path,
		"lg_k", cfg.Sketch.LgK,
		"target_type", cfg.Sketch.TargetType,
		"compression", cfg.Store.Compression)
	return &env{cfg: cfg, logger: logger, out: cmd.OutOrStdout()}, nil
}

func (e *env) openStore() (*store.Store, error) {
	st, err := store.LoadFile(e.cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("store opened", "path", e.cfg.Store.Path, "keys", st.Len())
	return st, nil
}

func (e *env) saveStore(st *store.Store) error {
	if err := st.SaveFile(e.cfg.Store.Path, e.cfg.StoreOptions()); err != nil {
		return fmt.Errorf("save %s: %w", e.cfg.Store.Path, err)
	}
	e.logger.Debug("store saved", "path", e.cfg.Store.Path, "keys", st.Len())
	return nil
}

func (e *env) encode(sk *hyperloglog.Sketch) []byte {
	if e.cfg.Store.Compact {
		return sk.ToCompactSlice()
	}
	return sk.ToUpdatableSlice()
}

// sketch decodes the image stored under key.
func (e *env) sketch(st *store.Store, key string) (*hyperloglog.Sketch, error) {
	var sk *hyperloglog.Sketch
	err := st.View(key, func(data []byte) error {
		if data == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, key)
		}
		var err error
		sk, err = hyperloglog.DeserializeSlice(data)
		if err != nil {
			return fmt.Errorf("sketch %q: %w", key, err)
		}
		return nil
	})
	return sk, err
}

// mutate decodes the sketch under key, or creates one from the sketch
// config when create is set and the key is missing, applies fn, and stores
// the new image. Nothing is stored if fn fails.
func (e *env) mutate(st *store.Store, key string, create bool, fn func(*hyperloglog.Sketch) (*hyperloglog.Sketch, error)) error {
	var opErr error
	st.Mutate(key, func(cur []byte) ([]byte, bool) {
		var sk *hyperloglog.Sketch
		switch {
		case cur != nil:
			sk, opErr = hyperloglog.DeserializeSlice(cur)
			if opErr != nil {
				opErr = fmt.Errorf("sketch %q: %w", key, opErr)
				return nil, false
			}
		case create:
			sk, opErr = hyperloglog.NewWithType(e.cfg.Sketch.LgK, e.cfg.TargetType())
			if opErr != nil {
				return nil, false
			}
			e.logger.Info("sketch created", "key", key, "lg_k", sk.LgK(), "target_type", sk.TargetType())
		default:
			opErr = fmt.Errorf("%w: %q", store.ErrNotFound, key)
			return nil, false
		}

		next, err := fn(sk)
		if err != nil {
			opErr = err
			return nil, false
		}
		return e.encode(next), true
	})
	return opErr
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hll %s\n", Version)
		},
	}
}

// errCheckFailed is returned by check after it has printed the problems.
var errCheckFailed = errors.New("check failed")
