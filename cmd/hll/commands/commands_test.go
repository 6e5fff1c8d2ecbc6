package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"hll.lopezb.com/internal/pds/hyperloglog"
	"hll.lopezb.com/internal/store"
)

type harness struct {
	t         *testing.T
	dir       string
	config    string
	storePath string
}

// newHarness writes a config file pointing store.path into a temp dir. extra
// is appended to the YAML document.
func newHarness(t *testing.T, extra string) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		t:         t,
		dir:       dir,
		config:    filepath.Join(dir, "hll.yaml"),
		storePath: filepath.Join(dir, "sketches.hls"),
	}
	content := fmt.Sprintf("store:\n  path: %s\n%s", h.storePath, extra)
	require.NoError(t, os.WriteFile(h.config, []byte(content), 0o600))
	return h
}

func (h *harness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", h.config}, args...))
	err := root.Execute()
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run("", args...)
	require.NoError(h.t, err, "hll %s", strings.Join(args, " "))
	return out
}

func (h *harness) load(key string) (*hyperloglog.Sketch, []byte) {
	h.t.Helper()
	st, err := store.LoadFile(h.storePath)
	require.NoError(h.t, err)
	img, ok := st.Get(key)
	require.True(h.t, ok, key)
	sk, err := hyperloglog.DeserializeSlice(img)
	require.NoError(h.t, err)
	return sk, img
}

func intLines(from, to int) string {
	var b strings.Builder
	for i := from; i < to; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	return b.String()
}

func TestAddAndEstimate(t *testing.T) {
	h := newHarness(t, "")

	assert.Equal(t, "visitors: 3\n", h.mustRun("add", "visitors", "alice", "bob", "carol"))
	assert.Equal(t, "visitors: 4\n", h.mustRun("add", "visitors", "alice", "dave"))

	out := h.mustRun("estimate", "visitors")
	assert.Contains(t, out, "visitors")
	assert.Contains(t, out, "LIST")

	sk, _ := h.load("visitors")
	assert.Equal(t, hyperloglog.DefaultLgK, sk.LgK())
	assert.Equal(t, hyperloglog.HLL8, sk.TargetType())
	assert.Equal(t, 4.0, sk.Estimate())
}

func TestAddItemTypes(t *testing.T) {
	h := newHarness(t, "")

	assert.Equal(t, "n: 3\n", h.mustRun("add", "n", "1", "2", "2", "3", "--as", "int"))
	// The string "1" hashes differently from the integer 1.
	assert.Equal(t, "n: 4\n", h.mustRun("add", "n", "1"))
	assert.Equal(t, "n: 5\n", h.mustRun("add", "n", "1.5", "--as", "float"))

	_, err := h.run("", "add", "n", "x", "--as", "int")
	require.Error(t, err)

	_, err = h.run("", "add", "n", "1", "--as", "bytes")
	require.ErrorIs(t, err, errInvalidItemType)

	sk, _ := h.load("n")
	assert.Equal(t, 5.0, sk.Estimate(), "failed adds store nothing")
}

func TestIngest(t *testing.T) {
	h := newHarness(t, "sketch:\n  lg_k: 10\n  target_type: HLL_6\n")

	out, err := h.run("a\nb\n\na\r\nc\n", "ingest", "k")
	require.NoError(t, err)
	assert.Equal(t, "k: 3 (4 lines)\n", out)

	f1 := filepath.Join(h.dir, "a.txt")
	f2 := filepath.Join(h.dir, "b.txt")
	require.NoError(t, os.WriteFile(f1, []byte(intLines(0, 3000)), 0o600))
	require.NoError(t, os.WriteFile(f2, []byte(intLines(2000, 6000)), 0o600))

	h.mustRun("ingest", "ints", f1, f2, "--as", "int")
	sk, _ := h.load("ints")
	assert.Equal(t, hyperloglog.ModeHLL, sk.Mode())
	assert.Equal(t, hyperloglog.HLL6, sk.TargetType())
	assert.InEpsilon(t, 6000, sk.Estimate(), 0.1)

	_, err = h.run("", "ingest", "ints", filepath.Join(h.dir, "missing.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = h.run("1\nnope\n", "ingest", "bad", "--as", "int")
	require.ErrorContains(t, err, "-:2")
}

func TestEstimateFlags(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.run(intLines(0, 300), "ingest", "k", "--as", "int")
	require.NoError(t, err)

	for _, sd := range []string{"1", "2", "3"} {
		out := h.mustRun("estimate", "k", "--std-dev", sd)
		assert.Contains(t, out, "SET")
	}
	h.mustRun("estimate", "k", "--composite")

	_, err = h.run("", "estimate", "k", "--std-dev", "4")
	require.ErrorIs(t, err, hyperloglog.ErrInvalidNumStdDev)

	_, err = h.run("", "estimate", "k", "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestInspect(t *testing.T) {
	h := newHarness(t, "")
	h.mustRun("add", "k", "x", "y")

	out := h.mustRun("inspect", "k", "--detail")
	assert.Contains(t, out, "key: k")
	assert.Contains(t, out, "HLL sketch summary")
	assert.Contains(t, out, "LIST detail")

	out = h.mustRun("inspect", "k", "--detail", "--format", "yaml")
	var rep yamlReport
	require.NoError(t, yaml.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "k", rep.Key)
	assert.Equal(t, "LIST", rep.Summary.Mode)
	assert.Equal(t, 2, rep.Summary.Coupons)
	assert.Equal(t, 2.0, rep.Summary.Estimate)
	assert.NotEmpty(t, rep.Slots)
	assert.LessOrEqual(t, len(rep.Slots), 2)

	_, err := h.run("", "inspect", "k", "--format", "json")
	require.ErrorIs(t, err, errInvalidFormat)
}

func TestConvert(t *testing.T) {
	h := newHarness(t, "sketch:\n  lg_k: 10\n")
	_, err := h.run(intLines(0, 5000), "ingest", "k", "--as", "int")
	require.NoError(t, err)
	before, _ := h.load("k")

	out := h.mustRun("convert", "k", "--type", "hll_4")
	assert.Equal(t, "k: HLL_8 -> HLL_4\n", out)

	after, _ := h.load("k")
	assert.Equal(t, hyperloglog.HLL4, after.TargetType())
	assert.InDelta(t, before.Estimate(), after.Estimate(), 1e-9)
	assert.InDelta(t, before.CompositeEstimate(), after.CompositeEstimate(), 1e-9)

	_, err = h.run("", "convert", "missing", "--type", "HLL_6")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = h.run("", "convert", "k")
	require.Error(t, err)

	_, err = h.run("", "convert", "k", "--type", "HLL_5")
	require.ErrorIs(t, err, hyperloglog.ErrInvalidTargetType)
}

func TestCompactStore(t *testing.T) {
	// Indented so it lands under store.
	h := newHarness(t, "  compact: true\n")
	h.mustRun("add", "k", "a", "b", "c", "d", "e", "f", "g", "h", "i", "j")

	sk, img := h.load("k")
	assert.Equal(t, hyperloglog.ModeSet, sk.Mode())
	assert.Len(t, img, sk.CompactSerializationBytes())
	assert.Less(t, len(img), sk.UpdatableSerializationBytes())
}

func TestList(t *testing.T) {
	h := newHarness(t, "")
	h.mustRun("add", "b", "1")
	h.mustRun("add", "a", "1", "2")

	out := h.mustRun("list")
	assert.Contains(t, out, "2 sketches")
	assert.Less(t, strings.Index(out, " a "), strings.Index(out, " b "))
}

func TestCheck(t *testing.T) {
	for _, comp := range []string{"none", "lz4"} {
		t.Run(comp, func(t *testing.T) {
			h := newHarness(t, "  compression: "+comp+"\n")
			_, err := h.run(intLines(0, 2000), "ingest", "big", "--as", "int")
			require.NoError(t, err)
			h.mustRun("add", "small", "x")

			out := h.mustRun("check", "-v", "--no-color")
			assert.Contains(t, out, "checksum OK")
			assert.Contains(t, out, `key "big"`)
			assert.Contains(t, out, "compression "+comp)
			assert.Contains(t, out, "snapshot OK")
		})
	}
}

func TestCheckDamaged(t *testing.T) {
	h := newHarness(t, "")
	h.mustRun("add", "k", "a", "b")

	img, err := os.ReadFile(h.storePath)
	require.NoError(t, err)
	img[len(img)-10] ^= 0xFF
	damaged := filepath.Join(h.dir, "damaged.hls")
	require.NoError(t, os.WriteFile(damaged, img, 0o600))

	out, err := h.run("", "check", damaged, "--no-color")
	require.ErrorIs(t, err, errCheckFailed)
	require.ErrorIs(t, err, store.ErrChecksumMismatch)
	assert.Contains(t, out, "fatal")
}

func TestCheckUndecodableSketch(t *testing.T) {
	h := newHarness(t, "")
	st := store.New()
	st.Set("junk", []byte("not a sketch"))
	require.NoError(t, st.SaveFile(h.storePath, store.Options{}))

	out, err := h.run("", "check", "--no-color")
	require.ErrorIs(t, err, errCheckFailed)
	assert.Contains(t, out, `key "junk"`)
	assert.Contains(t, out, "checksum OK")
	assert.Contains(t, out, "1 of 1 sketches do not decode")
}

func TestStoreFlagOverridesConfig(t *testing.T) {
	h := newHarness(t, "")
	other := filepath.Join(h.dir, "other.hls")
	h.mustRun("--store", other, "add", "k", "a")

	_, err := os.Stat(other)
	require.NoError(t, err)
	_, err = os.Stat(h.storePath)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestVersion(t *testing.T) {
	h := newHarness(t, "")
	assert.Equal(t, "hll dev\n", h.mustRun("version"))
}

func TestParseItem(t *testing.T) {
	tests := []struct {
		raw, as string
		want    any
		wantErr bool
	}{
		{raw: "42", as: itemString, want: "42"},
		{raw: "42", as: itemInt, want: int64(42)},
		{raw: "-7", as: itemInt, want: int64(-7)},
		{raw: "2.5", as: itemFloat, want: 2.5},
		{raw: "1e3", as: itemFloat, want: 1000.0},
		{raw: "2.5", as: itemInt, wantErr: true},
		{raw: "x", as: itemFloat, wantErr: true},
		{raw: "x", as: "bool", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.as+"/"+tt.raw, func(t *testing.T) {
			got, err := parseItem(tt.raw, tt.as)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
