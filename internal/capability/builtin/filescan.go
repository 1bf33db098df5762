package builtin

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aestiv/flowd/internal/capability"
)

// FileScan walks a directory tree, matches file names against glob patterns
// and writes the matched paths to a report file, which becomes the artifact
// locator for downstream nodes.
//
// Config keys: "path" (root, required), "patterns" (globs matched against
// base names, default all files), "recursive" (default true), "min_size" /
// "max_size" (bytes, 0 = unbounded), "report" (output file, default a temp
// file).
type FileScan struct{}

func (f *FileScan) Execute(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error) {
	root := cfg.String("path", "")
	if root == "" {
		return capability.Failf("path is required"), nil
	}

	info, err := os.Stat(root)
	if err != nil {
		return capability.Failf("path not accessible: %v", err), nil
	}
	if !info.IsDir() {
		return capability.Failf("path is not a directory: %s", root), nil
	}

	patterns := cfg.StringSlice("patterns")
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	recursive := cfg.Bool("recursive", true)
	minSize := cfg.Int64("min_size", 0)
	maxSize := cfg.Int64("max_size", 0)

	emit.Progress(0, fmt.Sprintf("scanning %s", root))

	var matched []string
	var scanned, dirs, walkErrors int64

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			walkErrors++
			emit.Logf("skipping %s: %v", path, err)
			return nil
		}

		if d.IsDir() {
			dirs++
			if !recursive && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		scanned++
		if scanned%1000 == 0 {
			emit.Logf("scanned %d files, %d matched so far", scanned, len(matched))
		}

		if !matchesAny(d.Name(), patterns) {
			return nil
		}

		if minSize > 0 || maxSize > 0 {
			fi, err := d.Info()
			if err != nil {
				walkErrors++
				return nil
			}
			if minSize > 0 && fi.Size() < minSize {
				return nil
			}
			if maxSize > 0 && fi.Size() > maxSize {
				return nil
			}
		}

		matched = append(matched, path)
		return nil
	})
	if walkErr != nil {
		return capability.Failf("scan interrupted: %v", walkErr), nil
	}

	report := cfg.String("report", "")
	if report == "" {
		report = filepath.Join(os.TempDir(), fmt.Sprintf("flowd-scan-%d.txt", time.Now().UnixNano()))
	}
	if err := os.WriteFile(report, []byte(strings.Join(matched, "\n")), 0o644); err != nil {
		return capability.Failf("writing report: %v", err), nil
	}

	emit.Progress(100, fmt.Sprintf("%d files matched", len(matched)))

	return &capability.Result{
		Success:         true,
		Message:         fmt.Sprintf("matched %d of %d files under %s", len(matched), scanned, root),
		ArtifactLocator: report,
		Stats: map[string]int64{
			"matched": int64(len(matched)),
			"scanned": scanned,
			"dirs":    dirs,
			"errors":  walkErrors,
		},
	}, nil
}

func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
