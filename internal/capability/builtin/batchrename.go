package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aestiv/flowd/internal/capability"
)

// BatchRename renames the files directly under a directory by prefix, suffix
// and find/replace rules. The suffix is inserted before the extension. At
// least one rule must be configured.
//
// Config keys: "path" (required), "prefix", "suffix", "find", "replace",
// "dry_run" (default false).
type BatchRename struct{}

func (b *BatchRename) Execute(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error) {
	root := cfg.String("path", "")
	if root == "" {
		return capability.Failf("path is required"), nil
	}

	prefix := cfg.String("prefix", "")
	suffix := cfg.String("suffix", "")
	find := cfg.String("find", "")
	replace := cfg.String("replace", "")
	dryRun := cfg.Bool("dry_run", false)

	if prefix == "" && suffix == "" && find == "" {
		return capability.Failf("no rename rule configured (prefix, suffix or find)"), nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return capability.Failf("path not accessible: %v", err), nil
	}

	var renamed, skipped, conflicts int64
	files := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			files++
		}
	}

	processed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return capability.Failf("rename cancelled"), nil
		}
		if entry.IsDir() {
			continue
		}
		processed++

		name := entry.Name()
		target := renameOne(name, prefix, suffix, find, replace)
		if target == name {
			skipped++
			continue
		}

		from := filepath.Join(root, name)
		to := filepath.Join(root, target)
		if _, err := os.Lstat(to); err == nil {
			conflicts++
			emit.Logf("conflict: %s already exists, keeping %s", target, name)
			continue
		}

		if dryRun {
			emit.Logf("[dry run] %s -> %s", name, target)
			renamed++
		} else if err := os.Rename(from, to); err != nil {
			skipped++
			emit.Logf("cannot rename %s: %v", name, err)
		} else {
			renamed++
			emit.Logf("%s -> %s", name, target)
		}

		if files > 0 {
			emit.Progress(processed*100/files, fmt.Sprintf("%d renamed", renamed))
		}
	}

	return &capability.Result{
		Success:         true,
		Message:         fmt.Sprintf("renamed %d of %d files under %s", renamed, files, root),
		ArtifactLocator: root,
		Stats: map[string]int64{
			"renamed":   renamed,
			"skipped":   skipped,
			"conflicts": conflicts,
		},
	}, nil
}

// renameOne applies find/replace on the stem, then prefix and suffix. The
// extension is preserved.
func renameOne(name, prefix, suffix, find, replace string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	if find != "" {
		stem = strings.ReplaceAll(stem, find, replace)
	}

	return prefix + stem + suffix + ext
}
