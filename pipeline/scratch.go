package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

const scratchPrefix = "req-"

// scratch is one request's private directory under the pipeline temp root.
type scratch struct {
	dir string
}

func newScratch(root, id string) (*scratch, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp root: %w", err)
	}
	dir, err := os.MkdirTemp(root, scratchPrefix+id+"-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	return &scratch{dir: dir}, nil
}

func (s *scratch) path(name string) string {
	return filepath.Join(s.dir, name)
}

// remove deletes the directory and everything in it.
func (s *scratch) remove() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("%w: %v", ErrCleanup, err)
	}
	return nil
}
