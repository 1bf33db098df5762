package builtin

import "github.com/aestiv/flowd/internal/capability"

// Register adds every built-in capability to the registry.
func Register(r *capability.Registry) {
	r.Register(capability.Descriptor{
		Name:        "delay",
		DisplayName: "Delay",
		Description: "Pauses the flow for a configured duration, ticking progress while it waits",
		Category:    "system",
	}, func() (capability.Capability, error) {
		return &Delay{}, nil
	})

	r.Register(capability.Descriptor{
		Name:        "file-scan",
		DisplayName: "File Scan",
		Description: "Walks a directory tree matching glob patterns and writes a report of the matches",
		Category:    "file",
	}, func() (capability.Capability, error) {
		return &FileScan{}, nil
	})

	r.Register(capability.Descriptor{
		Name:        "flatten-dirs",
		DisplayName: "Flatten Directories",
		Description: "Dissolves single-child directory chains so nested folders collapse upward",
		Category:    "file",
	}, func() (capability.Capability, error) {
		return &FlattenDirs{}, nil
	})

	r.Register(capability.Descriptor{
		Name:        "batch-rename",
		DisplayName: "Batch Rename",
		Description: "Renames files under a directory by prefix, suffix or find/replace rules",
		Category:    "file",
	}, func() (capability.Capability, error) {
		return &BatchRename{}, nil
	})
}
