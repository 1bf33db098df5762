package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/aestiv/flowd/internal/capability"
)

// FlattenDirs dissolves single-child directory chains: a directory whose only
// entry is another directory has that child's contents pulled up and the
// empty child removed. Useful after extracting archives that wrap everything
// in a redundant top-level folder.
//
// Config keys: "path" (root, required), "dry_run" (report only, default
// false).
type FlattenDirs struct{}

func (f *FlattenDirs) Execute(ctx context.Context, cfg capability.Config, emit capability.Emitter) (*capability.Result, error) {
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
	dryRun := cfg.Bool("dry_run", false)

	dirs, err := collectDirs(root)
	if err != nil {
		return capability.Failf("listing directories: %v", err), nil
	}
	// Deepest first, so collapsing a child never invalidates a pending parent.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })

	var flattened, moved int64
	for i, dir := range dirs {
		if ctx.Err() != nil {
			return capability.Failf("flatten cancelled"), nil
		}

		for {
			child, ok, err := soleChildDir(dir)
			if err != nil || !ok {
				break
			}

			if dryRun {
				emit.Logf("[dry run] would dissolve %s", child)
				flattened++
				break
			}

			n, err := pullUp(dir, child)
			if err != nil {
				emit.Logf("cannot dissolve %s: %v", child, err)
				break
			}
			flattened++
			moved += int64(n)
			emit.Logf("dissolved %s (%d entries)", child, n)
		}

		if len(dirs) > 0 {
			emit.Progress((i+1)*100/len(dirs), fmt.Sprintf("%d dissolved", flattened))
		}
	}

	return &capability.Result{
		Success:         true,
		Message:         fmt.Sprintf("dissolved %d directories under %s", flattened, root),
		ArtifactLocator: root,
		Stats: map[string]int64{
			"flattened": flattened,
			"moved":     moved,
		},
	}, nil
}

func collectDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, err
}

// soleChildDir reports whether dir contains exactly one entry and that entry
// is a directory.
func soleChildDir(dir string) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return "", false, nil
	}
	return filepath.Join(dir, entries[0].Name()), true, nil
}

// pullUp moves every entry of child into parent and removes the then-empty
// child. The child is renamed aside first so an entry sharing the child's
// own name cannot collide on the way up.
func pullUp(parent, child string) (int, error) {
	aside := filepath.Join(parent, ".flatten-"+filepath.Base(child))
	if err := os.Rename(child, aside); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(aside)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		from := filepath.Join(aside, entry.Name())
		to := filepath.Join(parent, entry.Name())
		if err := os.Rename(from, to); err != nil {
			return 0, err
		}
	}

	if err := os.Remove(aside); err != nil {
		return len(entries), err
	}
	return len(entries), nil
}
