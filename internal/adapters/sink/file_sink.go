package sink

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/JeffersonLab/RFWScopeDAQ/internal/domain"
	"github.com/JeffersonLab/RFWScopeDAQ/internal/ports"
)

const fileTimestampFormat = "2006_01_02_15-04-05"

// FileSink writes one TSV file per snapshot under
// <base>/<cavity>/<cavity>WFS_<start>_<end>.tsv. Metadata rides in
// comment-prefixed header lines, the body is a tab table with a generated
// time column.
type FileSink struct {
	baseDir string
}

func NewFileSink(baseDir string) *FileSink {
	return &FileSink{baseDir: baseDir}
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Write(_ context.Context, snap *domain.Snapshot) error {
	dir := filepath.Join(s.baseDir, snap.Cavity)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(dir, fmt.Sprintf("%sWFS_%s_%s.tsv",
		snap.Cavity, fileStamp(snap.Start), fileStamp(snap.End)))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	// Sorted keys keep the files diffable across runs.
	for _, key := range sortedKeys(snap.FloatMeta) {
		fmt.Fprintf(w, "# %s\t%s\n", key, formatFloat(snap.FloatMeta[key]))
	}
	for _, key := range sortedKeys(snap.StringMeta) {
		fmt.Fprintf(w, "# %s\t%q\n", key, snap.StringMeta[key])
	}

	channels := sortedKeys(snap.Channels)
	w.WriteString("Time")
	for _, ch := range channels {
		w.WriteString("\t")
		w.WriteString(ch)
	}
	w.WriteString("\n")

	for i := 0; i < snap.Length(); i++ {
		w.WriteString(formatFloat(float64(i) * snap.SampleInterval))
		for _, ch := range channels {
			fmt.Fprintf(w, "\t%.5e", snap.Channels[ch][i])
		}
		w.WriteString("\n")
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// fileStamp renders a timestamp with microsecond precision for file names.
func fileStamp(t time.Time) string {
	return t.Format(fileTimestampFormat) + fmt.Sprintf("-%06d", t.Nanosecond()/1000)
}

// formatFloat renders a float the way the downstream analysis tooling
// expects: whole values keep one decimal place ("1.0"), everything else uses
// the shortest exact representation.
func formatFloat(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func sortedKeys[M map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ ports.Sink = (*FileSink)(nil)
