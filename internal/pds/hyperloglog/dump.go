package hyperloglog

import (
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// DumpOptions selects the sections Dump writes. Each flag is independent.
type DumpOptions struct {
	Summary    bool
	ListDetail bool
	SetDetail  bool
	HLLDetail  bool
	AuxDetail  bool

	// AllSlots includes zero slots in the HLL detail.
	AllSlots bool
}

// DefaultDumpOptions writes the summary only.
var DefaultDumpOptions = DumpOptions{Summary: true}

// Summary is the state Dump reports in its summary section.
type Summary struct {
	LgK             int     `yaml:"lg_k"`
	TargetType      string  `yaml:"target_type"`
	Mode            string  `yaml:"mode"`
	Empty           bool    `yaml:"empty"`
	OutOfOrder      bool    `yaml:"out_of_order"`
	Coupons         int     `yaml:"coupons,omitempty"`
	LgArr           int     `yaml:"lg_arr"`
	Estimate        float64 `yaml:"estimate"`
	LowerBound      float64 `yaml:"lower_bound"`
	UpperBound      float64 `yaml:"upper_bound"`
	HIPAccum        float64 `yaml:"hip_accum,omitempty"`
	KxQ0            float64 `yaml:"kxq0,omitempty"`
	KxQ1            float64 `yaml:"kxq1,omitempty"`
	NumAtCurMin     int     `yaml:"num_at_cur_min,omitempty"`
	AuxCount        int     `yaml:"aux_count,omitempty"`
	CompactBytes    int     `yaml:"compact_bytes"`
	UpdatableBytes  int     `yaml:"updatable_bytes"`
	MaxUpdatableLen int     `yaml:"max_updatable_bytes"`
}

// Summarize collects the summary fields. Bounds are at one standard deviation.
func (s *Sketch) Summarize() Summary {
	lb, _ := s.LowerBound(1)
	ub, _ := s.UpperBound(1)
	maxLen, _ := MaxUpdatableSerializationBytes(s.lgK, s.tgt)

	sum := Summary{
		LgK:             s.lgK,
		TargetType:      s.tgt.String(),
		Mode:            s.mode.String(),
		Empty:           s.IsEmpty(),
		OutOfOrder:      s.outOfOrder,
		Estimate:        s.Estimate(),
		LowerBound:      lb,
		UpperBound:      ub,
		CompactBytes:    s.CompactSerializationBytes(),
		UpdatableBytes:  s.UpdatableSerializationBytes(),
		MaxUpdatableLen: maxLen,
	}
	switch s.mode {
	case ModeList:
		sum.Coupons = s.list.count()
		sum.LgArr = s.list.lgArr()
	case ModeSet:
		sum.Coupons = s.set.count()
		sum.LgArr = s.set.lgArr()
	default:
		sum.HIPAccum = s.hll.hipAccum
		sum.KxQ0 = s.hll.kxq0
		sum.KxQ1 = s.hll.kxq1
		sum.NumAtCurMin = s.hll.numAtCurMin
		sum.AuxCount = s.hll.auxCount()
		if s.hll.aux != nil {
			sum.LgArr = s.hll.aux.lgSize
		}
	}
	return sum
}

// Dump writes a human-readable description of the sketch. Detail sections
// for representations the sketch is not in are skipped.
func (s *Sketch) Dump(w io.Writer, opts DumpOptions) error {
	var b strings.Builder

	if opts.Summary {
		writeSummary(&b, s.Summarize())
	}
	if opts.ListDetail && s.mode == ModeList {
		writeCoupons(&b, "LIST", s.list.all())
	}
	if opts.SetDetail && s.mode == ModeSet {
		writeSetCells(&b, s.set)
	}
	if opts.HLLDetail && s.mode == ModeHLL {
		writeSlots(&b, s.hll, opts.AllSlots)
	}
	if opts.AuxDetail && s.mode == ModeHLL && s.hll.aux != nil {
		writeAux(&b, s.hll.aux)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.SeparateHeader = true
	tbl.Style().Format.Footer = text.FormatDefault
	return tbl
}

// writeSection writes title on its own line above the table. go-pretty
// wraps SetTitle to the table width, which splits titles of narrow tables.
func writeSection(b *strings.Builder, title string, tbl table.Writer) {
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(tbl.Render())
	b.WriteString("\n")
}

func writeSummary(b *strings.Builder, sum Summary) {
	tbl := newTable()
	tbl.AppendRows([]table.Row{
		{"lgK", sum.LgK},
		{"target type", sum.TargetType},
		{"mode", sum.Mode},
		{"empty", sum.Empty},
		{"estimate", fmt.Sprintf("%.4f", sum.Estimate)},
		{"lower bound", fmt.Sprintf("%.4f", sum.LowerBound)},
		{"upper bound", fmt.Sprintf("%.4f", sum.UpperBound)},
		{"lgArr", sum.LgArr},
	})
	if sum.Mode == ModeHLL.String() {
		tbl.AppendRows([]table.Row{
			{"out of order", sum.OutOfOrder},
			{"hip accum", fmt.Sprintf("%.4f", sum.HIPAccum)},
			{"kxq0", fmt.Sprintf("%.6f", sum.KxQ0)},
			{"kxq1", fmt.Sprintf("%.6g", sum.KxQ1)},
			{"zero slots", sum.NumAtCurMin},
			{"aux entries", sum.AuxCount},
		})
	} else {
		tbl.AppendRow(table.Row{"coupons", sum.Coupons})
	}
	tbl.AppendRows([]table.Row{
		{"compact bytes", humanize.Comma(int64(sum.CompactBytes))},
		{"updatable bytes", humanize.Comma(int64(sum.UpdatableBytes))},
		{"max updatable", humanize.IBytes(uint64(sum.MaxUpdatableLen))},
	})
	writeSection(b, "### HLL sketch summary", tbl)
}

func writeCoupons(b *strings.Builder, title string, coupons iter.Seq[uint32]) {
	tbl := newTable()
	tbl.AppendHeader(table.Row{"#", "coupon", "addr", "value"})
	i := 0
	for c := range coupons {
		tbl.AppendRow(table.Row{i, fmt.Sprintf("%#08x", c), couponAddr(c), couponValue(c)})
		i++
	}
	writeSection(b, "### "+title+" detail", tbl)
}

func writeSetCells(b *strings.Builder, set *couponSet) {
	tbl := newTable()
	tbl.AppendHeader(table.Row{"index", "coupon", "addr", "value"})
	for i, c := range set.slots {
		if c == couponEmpty {
			continue
		}
		tbl.AppendRow(table.Row{i, fmt.Sprintf("%#08x", c), couponAddr(c), couponValue(c)})
	}
	tbl.AppendFooter(table.Row{"", "", "cells", humanize.Comma(int64(len(set.slots)))})
	writeSection(b, "### SET detail", tbl)
}

func writeSlots(b *strings.Builder, h *hllArray, all bool) {
	tbl := newTable()
	tbl.AppendHeader(table.Row{"slot", "value"})
	for slot, v := range h.slots() {
		if v == 0 && !all {
			continue
		}
		tbl.AppendRow(table.Row{slot, v})
	}
	writeSection(b, "### HLL detail", tbl)
}

func writeAux(b *strings.Builder, m *auxMap) {
	tbl := newTable()
	tbl.AppendHeader(table.Row{"slot", "value"})
	for slot, v := range m.all() {
		tbl.AppendRow(table.Row{slot, v})
	}
	tbl.AppendFooter(table.Row{"cells", humanize.Comma(int64(len(m.cells)))})
	writeSection(b, "### AUX detail", tbl)
}
