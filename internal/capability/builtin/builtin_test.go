package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aestiv/flowd/internal/capability"
)

// recorder captures emitter output for assertions.
type recorder struct {
	mu       sync.Mutex
	logs     []string
	percents []int
}

func (r *recorder) Progress(percent int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percents = append(r.percents, percent)
}

func (r *recorder) Log(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, message)
}

func (r *recorder) Logf(format string, args ...interface{}) {
	r.Log(fmt.Sprintf(format, args...))
}

func (r *recorder) lastPercent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.percents) == 0 {
		return -1
	}
	return r.percents[len(r.percents)-1]
}

func TestRegister_AllBuiltinsResolvable(t *testing.T) {
	r := capability.NewRegistry()
	Register(r)

	require.Equal(t, []string{"batch-rename", "delay", "file-scan", "flatten-dirs"}, r.Names())
	for _, name := range r.Names() {
		instance, err := r.Resolve(name)
		require.NoError(t, err)
		require.NotNil(t, instance)
	}
}

func TestDelay_CompletesAndTicksProgress(t *testing.T) {
	rec := &recorder{}
	res, err := (&Delay{}).Execute(context.Background(), capability.Config{"duration": float64(60)}, rec)

	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 100, rec.lastPercent())
	require.GreaterOrEqual(t, res.Stats["elapsed_ms"], int64(50))
	require.Equal(t, int64(60), res.Stats["requested_ms"])
}

func TestDelay_MissingDuration(t *testing.T) {
	res, err := (&Delay{}).Execute(context.Background(), capability.Config{}, &recorder{})

	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Message, "duration")
}

func TestDelay_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	res, err := (&Delay{}).Execute(ctx, capability.Config{"seconds": float64(10)}, &recorder{})

	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Message, "cancelled")
}

func TestFileScan_MatchesPatterns(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("aaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.log"), []byte("bbb"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "c.txt"), []byte("ccc"), 0o644))

	report := filepath.Join(t.TempDir(), "report.txt")
	cfg := capability.Config{
		"path":     root,
		"patterns": []interface{}{"*.txt"},
		"report":   report,
	}

	res, err := (&FileScan{}).Execute(context.Background(), cfg, &recorder{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int64(2), res.Stats["matched"])
	require.Equal(t, int64(3), res.Stats["scanned"])
	require.Equal(t, report, res.ArtifactLocator)

	content, err := os.ReadFile(report)
	require.NoError(t, err)
	require.Contains(t, string(content), "a.txt")
	require.Contains(t, string(content), "c.txt")
	require.NotContains(t, string(content), "b.log")
}

func TestFileScan_NonRecursive(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("t"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "deep.txt"), []byte("d"), 0o644))

	cfg := capability.Config{
		"path":      root,
		"recursive": false,
		"report":    filepath.Join(t.TempDir(), "report.txt"),
	}

	res, err := (&FileScan{}).Execute(context.Background(), cfg, &recorder{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int64(1), res.Stats["matched"])
}

func TestFileScan_SizeBounds(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "small.bin"), make([]byte, 10), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "large.bin"), make([]byte, 1000), 0o644))

	cfg := capability.Config{
		"path":     root,
		"min_size": float64(100),
		"report":   filepath.Join(t.TempDir(), "report.txt"),
	}

	res, err := (&FileScan{}).Execute(context.Background(), cfg, &recorder{})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Stats["matched"])
}

func TestFileScan_MissingPath(t *testing.T) {
	res, err := (&FileScan{}).Execute(context.Background(), capability.Config{}, &recorder{})
	require.NoError(t, err)
	require.False(t, res.Success)

	res, err = (&FileScan{}).Execute(context.Background(), capability.Config{"path": "/does/not/exist"}, &recorder{})
	require.NoError(t, err)
	require.False(t, res.Success)
}

func TestFlattenDirs_CollapsesChain(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "wrap", "inner")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "payload.txt"), []byte("p"), 0o644))

	res, err := (&FlattenDirs{}).Execute(context.Background(), capability.Config{"path": root}, &recorder{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.GreaterOrEqual(t, res.Stats["flattened"], int64(1))

	// The payload ends up directly under root after both wrappers dissolve.
	_, err = os.Stat(filepath.Join(root, "payload.txt"))
	require.NoError(t, err)
}

func TestFlattenDirs_DryRunLeavesTreeIntact(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "wrap", "inner")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "payload.txt"), []byte("p"), 0o644))

	res, err := (&FlattenDirs{}).Execute(context.Background(), capability.Config{"path": root, "dry_run": true}, &recorder{})
	require.NoError(t, err)
	require.True(t, res.Success)

	_, err = os.Stat(filepath.Join(nested, "payload.txt"))
	require.NoError(t, err)
}

func TestFlattenDirs_IgnoresPopulatedDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "full", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "full", "keep.txt"), []byte("k"), 0o644))

	res, err := (&FlattenDirs{}).Execute(context.Background(), capability.Config{"path": root}, &recorder{})
	require.NoError(t, err)
	require.True(t, res.Success)

	// "full" holds a file next to "sub", so nothing moves.
	_, err = os.Stat(filepath.Join(root, "full", "sub"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "full", "keep.txt"))
	require.NoError(t, err)
}

func TestBatchRename_PrefixAndReplace(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "draft_one.txt"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "draft_two.txt"), []byte("2"), 0o644))

	cfg := capability.Config{
		"path":    root,
		"prefix":  "final-",
		"find":    "draft_",
		"replace": "",
	}

	res, err := (&BatchRename{}).Execute(context.Background(), cfg, &recorder{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int64(2), res.Stats["renamed"])

	_, err = os.Stat(filepath.Join(root, "final-one.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "final-two.txt"))
	require.NoError(t, err)
}

func TestBatchRename_ConflictSkipped(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "x-a.txt"), []byte("taken"), 0o644))

	cfg := capability.Config{"path": root, "prefix": "x-"}

	res, err := (&BatchRename{}).Execute(context.Background(), cfg, &recorder{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int64(1), res.Stats["conflicts"])

	content, err := os.ReadFile(filepath.Join(root, "x-a.txt"))
	require.NoError(t, err)
	require.Equal(t, "taken", string(content))
}

func TestBatchRename_DryRun(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.txt"), []byte("k"), 0o644))

	cfg := capability.Config{"path": root, "suffix": "-v2", "dry_run": true}

	res, err := (&BatchRename{}).Execute(context.Background(), cfg, &recorder{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int64(1), res.Stats["renamed"])

	_, err = os.Stat(filepath.Join(root, "keep.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "keep-v2.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestBatchRename_RequiresRule(t *testing.T) {
	res, err := (&BatchRename{}).Execute(context.Background(), capability.Config{"path": t.TempDir()}, &recorder{})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Message, "rule")
}
