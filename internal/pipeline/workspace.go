package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is the scratch directory owned by one pipeline run.
type Workspace struct {
	// Root is removed as a whole on Release.
	Root string
	// InputDir holds the downloaded source.
	InputDir string
	// OutputDir holds encoder output before upload.
	OutputDir string
}

// acquireWorkspace creates {scratchDir}/{videoID}-{runID} with input and
// output subdirectories. The run id keeps concurrent runs of the same video
// apart; creation fails if the directory already exists.
func acquireWorkspace(scratchDir, videoID, runID string) (*Workspace, error) {
	if err := os.MkdirAll(scratchDir, 0o750); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	root := filepath.Join(scratchDir, videoID+"-"+runID)
	if err := os.Mkdir(root, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	ws := &Workspace{
		Root:      root,
		InputDir:  filepath.Join(root, "input"),
		OutputDir: filepath.Join(root, "output"),
	}
	for _, dir := range []string{ws.InputDir, ws.OutputDir} {
		if err := os.Mkdir(dir, 0o750); err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	}
	return ws, nil
}

// Release removes the workspace tree.
func (w *Workspace) Release() error {
	if err := os.RemoveAll(w.Root); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}
