package session

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"pairbot/pkg/fault"
)

// OpenScratch opens (and creates) the scratch store for one pairing attempt.
func OpenScratch(root string, id string) (*Store, error) {
	if err := ValidateName(id); err != nil {
		return nil, fault.Validationf("scratch id %q is invalid", id)
	}

	return Open(filepath.Join(root, id))
}

// ExistingScratch opens the scratch store for id without creating it.
func ExistingScratch(root string, id string) (*Store, error) {
	if err := ValidateName(id); err != nil {
		return nil, fault.Validationf("scratch id %q is invalid", id)
	}

	dir := filepath.Join(root, id)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fault.Validationf("no session found for id %q", id)
		}
		return nil, fault.NormalizeIOError(err, "stat scratch directory")
	}
	if !info.IsDir() {
		return nil, fault.Validationf("scratch path for id %q is not a directory", id)
	}

	return &Store{dir: filepath.Clean(dir)}, nil
}
