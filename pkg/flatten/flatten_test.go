package flatten

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mgflat/pkg/config"
	"mgflat/pkg/naming"
)

func newMemFs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(name), 0o755))
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
	return fs
}

func memOptions(fs afero.Fs) Options {
	return Options{
		Source:  "/src",
		Output:  "/out",
		Fs:      fs,
		Naming:  naming.Options{RootPrefix: true},
		Workers: 2,
	}
}

func runDriver(t *testing.T, opts Options) (*Driver, *Summary) {
	t.Helper()
	d := New(opts, nil)
	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	return d, summary
}

func listDir(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	infos, err := afero.ReadDir(fs, dir)
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names
}

func readString(t *testing.T, fs afero.Fs, name string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, name)
	require.NoError(t, err)
	return string(data)
}

func TestRun_FlattensDirectoryTree(t *testing.T) {
	fs := newMemFs(t, map[string]string{
		"/src/a.txt":             "A",
		"/src/status.yaml":       "status",
		"/src/ns1/pod.yaml":      "pod one",
		"/src/ns1/sub/notes.txt": "notes",
		"/src/ns2/pod.yaml":      "pod two",
	})

	d, summary := runDriver(t, memOptions(fs))

	assert.Equal(t, []string{
		naming.LedgerFileName,
		"00_a.txt",
		"00_status.yaml.txt",
		"01_pod.yaml.txt",
		"02_notes.txt",
		"03_pod.yaml.txt",
	}, listDir(t, fs, "/out"))

	assert.Equal(t, "pod one", readString(t, fs, "/out/01_pod.yaml.txt"))
	assert.Equal(t, "pod two", readString(t, fs, "/out/03_pod.yaml.txt"))
	assert.Equal(t, "# PREFIX -> SOURCE_PATH\n\n"+
		"00 -> (root directory)\n"+
		"01 -> ns1\n"+
		"02 -> ns1/sub\n"+
		"03 -> ns2\n", readString(t, fs, "/out/"+naming.LedgerFileName))

	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 4, summary.Directories)
	assert.True(t, summary.Ledger)
	assert.Equal(t, int64(len("A")+len("status")+len("pod one")+len("notes")+len("pod two")), summary.BytesWritten)
	assert.Equal(t, []string{"02_notes.txt"}, d.Outputs()["ns1/sub/notes.txt"])
}

func TestRun_PreservesModTime(t *testing.T) {
	fs := newMemFs(t, map[string]string{"/src/a.txt": "A"})
	info, err := fs.Stat("/src/a.txt")
	require.NoError(t, err)

	runDriver(t, memOptions(fs))

	out, err := fs.Stat("/out/00_a.txt")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(out.ModTime()))
}

func TestRun_FilterRunsBeforeAllocation(t *testing.T) {
	fs := newMemFs(t, map[string]string{
		"/src/keep.txt":           "keep",
		"/src/empty.txt":          "",
		"/src/.DS_Store":          "junk",
		"/src/__MACOSX/ns/a.yaml": "resource fork",
		"/src/ns/._pod.yaml":      "appledouble",
	})

	d, summary := runDriver(t, memOptions(fs))

	assert.Equal(t, []string{naming.LedgerFileName, "00_keep.txt"}, listDir(t, fs, "/out"))
	ledger := readString(t, fs, "/out/"+naming.LedgerFileName)
	assert.Equal(t, "# PREFIX -> SOURCE_PATH\n\n00 -> (root directory)\n", ledger)
	assert.NotContains(t, ledger, "__MACOSX")

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 4, summary.Skipped)
	assert.Equal(t, 1, summary.Directories)

	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.skipped.WithLabelValues("empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.skipped.WithLabelValues("os-junk-file")))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.skipped.WithLabelValues("metadata-directory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.skipped.WithLabelValues("appledouble")))
}

func TestRun_CollisionSuffixesInEncounterOrder(t *testing.T) {
	fs := newMemFs(t, map[string]string{
		"/src/A.yaml":     "upper",
		"/src/a.yaml":     "lower",
		"/src/a.yaml.txt": "already txt",
	})

	d, _ := runDriver(t, memOptions(fs))

	outputs := d.Outputs()
	assert.Equal(t, []string{"00_A.yaml.txt"}, outputs["A.yaml"])
	assert.Equal(t, []string{"00_a.yaml_001.txt"}, outputs["a.yaml"])
	assert.Equal(t, []string{"00_a.yaml_002.txt"}, outputs["a.yaml.txt"])

	assert.Equal(t, "lower", readString(t, fs, "/out/00_a.yaml_001.txt"))
	assert.Equal(t, "already txt", readString(t, fs, "/out/00_a.yaml_002.txt"))
}

func TestRun_RootPrefixDisabled(t *testing.T) {
	fs := newMemFs(t, map[string]string{"/src/a.txt": "A"})
	opts := memOptions(fs)
	opts.Naming.RootPrefix = false

	_, summary := runDriver(t, opts)

	assert.Equal(t, []string{"a.txt"}, listDir(t, fs, "/out"))
	assert.False(t, summary.Ledger)
}

func TestRun_HashScheme(t *testing.T) {
	fs := newMemFs(t, map[string]string{
		"/src/ns1/pod.yaml": "one",
		"/src/ns2/pod.yaml": "two",
	})
	opts := memOptions(fs)
	opts.Scheme = naming.SchemeHash
	opts.HashWidth = 8

	d, _ := runDriver(t, opts)

	ids, _ := naming.HashIdentifiers([]string{"ns1", "ns2"}, 8)
	id1, _ := ids.Lookup("ns1")
	id2, _ := ids.Lookup("ns2")
	assert.Equal(t, []string{id1 + "_pod.yaml.txt"}, d.Outputs()["ns1/pod.yaml"])
	assert.Equal(t, []string{id2 + "_pod.yaml.txt"}, d.Outputs()["ns2/pod.yaml"])
	assert.Contains(t, readString(t, fs, "/out/"+naming.LedgerFileName), id1+" -> ns1\n")
}

func TestRun_Deterministic(t *testing.T) {
	files := map[string]string{
		"/src/b/x.log":      "x",
		"/src/a/x.log":      "x",
		"/src/a/x.log.txt":  "dup",
		"/src/c/d/e.status": "e",
		"/src/root.list":    "r",
	}
	fs := newMemFs(t, files)

	first := memOptions(fs)
	first.Output = "/out1"
	second := memOptions(fs)
	second.Output = "/out2"
	second.Workers = 7

	d1, _ := runDriver(t, first)
	d2, _ := runDriver(t, second)

	assert.Equal(t, d1.Outputs(), d2.Outputs())
	assert.Equal(t,
		readString(t, fs, "/out1/"+naming.LedgerFileName),
		readString(t, fs, "/out2/"+naming.LedgerFileName))
}

func TestRun_FatalErrors(t *testing.T) {
	t.Run("missing source", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		_, err := New(memOptions(fs), nil).Run(context.Background())
		assert.ErrorIs(t, err, ErrSourceNotFound)
		exists, _ := afero.Exists(fs, "/out")
		assert.False(t, exists)
	})

	t.Run("plain file source", func(t *testing.T) {
		fs := newMemFs(t, map[string]string{"/notes.txt": "x"})
		opts := memOptions(fs)
		opts.Source = "/notes.txt"
		_, err := New(opts, nil).Run(context.Background())
		assert.ErrorIs(t, err, ErrNotArchive)
	})

	t.Run("output not empty", func(t *testing.T) {
		fs := newMemFs(t, map[string]string{
			"/src/a.txt":        "A",
			"/out/leftover.txt": "old",
		})
		_, err := New(memOptions(fs), nil).Run(context.Background())
		assert.ErrorIs(t, err, ErrOutputNotEmpty)
		assert.Equal(t, []string{"leftover.txt"}, listDir(t, fs, "/out"))
	})

	t.Run("output is a file", func(t *testing.T) {
		fs := newMemFs(t, map[string]string{
			"/src/a.txt": "A",
			"/out":       "file",
		})
		_, err := New(memOptions(fs), nil).Run(context.Background())
		assert.ErrorIs(t, err, ErrOutputNotEmpty)
	})

	t.Run("output not empty checked before extraction", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "broken.tar.gz")
		require.NoError(t, os.WriteFile(src, []byte("not gzip"), 0o644))
		out := filepath.Join(dir, "out")
		require.NoError(t, os.MkdirAll(out, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(out, "x"), []byte("x"), 0o644))

		_, err := New(Options{Source: src, Output: out}, nil).Run(context.Background())
		assert.ErrorIs(t, err, ErrOutputNotEmpty)
	})
}

func TestRun_EmptyOutputDirectoryIsAccepted(t *testing.T) {
	fs := newMemFs(t, map[string]string{"/src/a.txt": "A"})
	require.NoError(t, fs.MkdirAll("/out", 0o755))

	_, summary := runDriver(t, memOptions(fs))
	assert.Equal(t, 1, summary.Processed)
}

func TestRun_OutputInsideSourceIsNotScanned(t *testing.T) {
	fs := newMemFs(t, map[string]string{"/src/a.txt": "A"})
	opts := memOptions(fs)
	opts.Output = "/src/flat"

	_, summary := runDriver(t, opts)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, []string{naming.LedgerFileName, "00_a.txt"}, listDir(t, fs, "/src/flat"))
}

func TestRun_Consolidation(t *testing.T) {
	fs := newMemFs(t, map[string]string{
		"/src/ns/app.log":          "current\n",
		"/src/ns/app.previous.log": "previous\n",
		"/src/ns/other.yaml":       "other",
		"/src/solo/one.log":        "single\n",
		"/src/r1.log":              "r1",
		"/src/r2.log":              "r2",
	})
	opts := memOptions(fs)
	opts.Consolidate = true

	d, summary := runDriver(t, opts)

	assert.Equal(t, []string{
		naming.LedgerFileName,
		"01_CONSOLIDATED_LOGS.log.txt",
		"01_other.yaml.txt",
		"02_one.log.txt",
		"CONSOLIDATED_LOGS.log.txt",
	}, listDir(t, fs, "/out"))

	rule := strings.Repeat("=", 80)
	assert.Equal(t, "# Contains 2 log files:\n"+
		"#   ns/app.previous.log\n"+
		"#   ns/app.log\n"+
		"\n"+rule+"\n\n"+
		"--- ns/app.previous.log ---\n\nprevious\n"+
		"\n\n"+
		"--- ns/app.log ---\n\ncurrent\n",
		readString(t, fs, "/out/01_CONSOLIDATED_LOGS.log.txt"))

	assert.Equal(t, "# Contains 2 log files:\n"+
		"#   r1.log\n"+
		"#   r2.log\n"+
		"\n"+rule+"\n\n"+
		"--- r1.log ---\n\nr1"+
		"\n\n"+
		"--- r2.log ---\n\nr2",
		readString(t, fs, "/out/CONSOLIDATED_LOGS.log.txt"))

	assert.Equal(t, "single\n", readString(t, fs, "/out/02_one.log.txt"))
	assert.Equal(t, "# PREFIX -> SOURCE_PATH\n\n00 -> (root directory)\n01 -> ns\n02 -> solo\n",
		readString(t, fs, "/out/"+naming.LedgerFileName))

	assert.Equal(t, 6, summary.Processed)
	assert.Equal(t, 4, summary.Consolidated)
	assert.Equal(t, []string{"01_CONSOLIDATED_LOGS.log.txt"}, d.Outputs()["ns/app.log"])
	assert.Equal(t, 4.0, testutil.ToFloat64(d.metrics.consolidated))
}

func numberedLines(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "line-%03d\n", i)
	}
	return b.String()
}

func TestRun_SplitLineAligned(t *testing.T) {
	content := numberedLines(100) // 9 bytes per line
	fs := newMemFs(t, map[string]string{"/src/big.log": content})
	opts := memOptions(fs)
	opts.SplitSize = 100

	d, summary := runDriver(t, opts)

	parts := d.Outputs()["big.log"]
	require.Len(t, parts, 10)
	assert.Equal(t, "00_big_part001.log.txt", parts[0])
	assert.Equal(t, "00_big_part010.log.txt", parts[9])

	var joined strings.Builder
	for i, part := range parts {
		data := readString(t, fs, "/out/"+part)
		if i < len(parts)-1 {
			assert.LessOrEqual(t, len(data), 100)
		}
		assert.True(t, strings.HasSuffix(data, "\n"), "part %s must end on a line boundary", part)
		joined.WriteString(data)
	}
	assert.Equal(t, content, joined.String())

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 10, summary.Parts)
	assert.Equal(t, int64(len(content)), summary.BytesWritten)
}

func TestRun_SplitFallsBackForBinary(t *testing.T) {
	blob := strings.Repeat("\x00\x01\x02", 100)
	fs := newMemFs(t, map[string]string{"/src/blob.bin": blob})
	opts := memOptions(fs)
	opts.SplitSize = 100

	_, summary := runDriver(t, opts)

	assert.Equal(t, blob, readString(t, fs, "/out/00_blob.bin"))
	assert.Equal(t, 0, summary.Parts)
	assert.Equal(t, 1, summary.Processed)
}

func TestRun_SplitBytes(t *testing.T) {
	blob := strings.Repeat("x", 250)
	fs := newMemFs(t, map[string]string{"/src/blob.bin": blob})
	opts := memOptions(fs)
	opts.SplitSize = 100
	opts.SplitMode = config.SplitBytes

	d, _ := runDriver(t, opts)

	parts := d.Outputs()["blob.bin"]
	assert.Equal(t, []string{"00_blob_part001.bin", "00_blob_part002.bin", "00_blob_part003.bin"}, parts)
	assert.Len(t, readString(t, fs, "/out/00_blob_part003.bin"), 50)
}

func TestRun_ConsolidatedDocumentIsSplit(t *testing.T) {
	fs := newMemFs(t, map[string]string{
		"/src/ns/a.log": numberedLines(20),
		"/src/ns/b.log": numberedLines(20),
	})
	opts := memOptions(fs)
	opts.Consolidate = true
	opts.SplitSize = 128

	d, summary := runDriver(t, opts)

	parts := d.Outputs()["ns/a.log"]
	require.Greater(t, len(parts), 1)
	assert.Equal(t, "01_CONSOLIDATED_LOGS_part001.log.txt", parts[0])
	assert.Equal(t, parts, d.Outputs()["ns/b.log"])

	var joined strings.Builder
	for _, part := range parts {
		joined.WriteString(readString(t, fs, "/out/"+part))
	}
	assert.True(t, strings.HasPrefix(joined.String(), "# Contains 2 log files:\n#   ns/a.log\n#   ns/b.log\n"))
	assert.Equal(t, len(parts), summary.Parts)

	for _, name := range listDir(t, fs, "/out") {
		assert.False(t, strings.HasSuffix(name, ".tmp"), "temporary file %s left behind", name)
	}
}

func TestRun_SourceTree(t *testing.T) {
	fs := newMemFs(t, map[string]string{
		"/src/a.txt":     "A",
		"/src/ns/b.yaml": "B",
	})
	opts := memOptions(fs)
	opts.Tree = true

	runDriver(t, opts)

	assert.Equal(t, "src/\n"+
		"├── ns/\n"+
		"│   └── b.yaml -> 01_b.yaml.txt\n"+
		"└── a.txt -> 00_a.txt\n",
		readString(t, fs, "/out/"+TreeFileName))
}

func TestRun_Archive(t *testing.T) {
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, body := range map[string]string{"root.txt": "root", "ns/pod.log": "pod\n"} {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	_, err := gw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	dir := t.TempDir()
	src := filepath.Join(dir, "must-gather.tar.gz")
	require.NoError(t, os.WriteFile(src, gzBuf.Bytes(), 0o644))
	out := filepath.Join(dir, "flat")
	metricsFile := filepath.Join(dir, "mgflat.prom")

	runID := "archive-test-run"
	_, summary := runDriver(t, Options{
		Source:      src,
		Output:      out,
		Naming:      naming.Options{RootPrefix: true},
		RunID:       runID,
		MetricsFile: metricsFile,
	})

	assert.Equal(t, 2, summary.Processed)
	data, err := os.ReadFile(filepath.Join(out, "01_pod.log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "pod\n", string(data))
	assert.FileExists(t, filepath.Join(out, "00_root.txt"))

	leftovers, err := filepath.Glob(filepath.Join(os.TempDir(), "mgflat-"+runID+"-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "mgflat_files_processed_total 2")
}

func TestRun_CorruptArchiveLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bad.tar.gz")
	require.NoError(t, os.WriteFile(src, []byte("this is not a gzip stream"), 0o644))
	out := filepath.Join(dir, "flat")

	runID := "corrupt-archive-run"
	_, err := New(Options{Source: src, Output: out, RunID: runID}, nil).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, kgzip.ErrHeader)
	assert.Contains(t, err.Error(), "failed to extract archive")

	leftovers, err := filepath.Glob(filepath.Join(os.TempDir(), "mgflat-"+runID+"-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
	assert.NoDirExists(t, out)
}

// renameFailFs fails every rename into a consolidated log name.
type renameFailFs struct {
	afero.Fs
}

func (fs renameFailFs) Rename(oldname, newname string) error {
	if strings.Contains(filepath.Base(newname), naming.ConsolidatedStem) {
		return errors.New("rename refused")
	}
	return fs.Fs.Rename(oldname, newname)
}

func TestRun_ConsolidationFailureKeepsNamesStable(t *testing.T) {
	files := map[string]string{
		"/src/ns/app.log":                   "current\n",
		"/src/ns/app.previous.log":          "previous\n",
		"/src/ns/CONSOLIDATED_LOGS.log.txt": "lookalike",
		"/src/ns/other.yaml":                "other",
	}
	healthy := memOptions(newMemFs(t, files))
	healthy.Consolidate = true
	healthyDriver, healthySummary := runDriver(t, healthy)

	fs := renameFailFs{Fs: newMemFs(t, files)}
	failing := memOptions(fs)
	failing.Consolidate = true
	d, summary := runDriver(t, failing)

	assert.Equal(t, []string{
		naming.LedgerFileName,
		"01_CONSOLIDATED_LOGS.log_001.txt",
		"01_other.yaml.txt",
	}, listDir(t, fs, "/out"))
	assert.Equal(t, "lookalike", readString(t, fs, "/out/01_CONSOLIDATED_LOGS.log_001.txt"))

	assert.Equal(t, healthySummary.Processed-2, summary.Processed)
	assert.Equal(t, 2, summary.Skipped)
	assert.Zero(t, summary.Consolidated)
	assert.Equal(t, 2.0, testutil.ToFloat64(d.metrics.skipped.WithLabelValues("error")))
	for _, rel := range []string{"ns/CONSOLIDATED_LOGS.log.txt", "ns/other.yaml"} {
		assert.Equal(t, healthyDriver.Outputs()[rel], d.Outputs()[rel], rel)
	}
	assert.Equal(t, []string{"01_CONSOLIDATED_LOGS.log_001.txt"}, d.Outputs()["ns/CONSOLIDATED_LOGS.log.txt"])
}

func TestRun_SkipsSymlinks(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "real.txt"), []byte("real"), 0o644))
	if err := os.Symlink(filepath.Join(src, "real.txt"), filepath.Join(src, "link.txt")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	d, summary := runDriver(t, Options{Source: src, Output: filepath.Join(dir, "out"), Naming: naming.Options{RootPrefix: true}})

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.skipped.WithLabelValues("symlink")))
}

func TestRun_Cancelled(t *testing.T) {
	fs := newMemFs(t, map[string]string{"/src/a.txt": "A"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(memOptions(fs), nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
