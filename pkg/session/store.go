// Package session persists credential bundles: one directory per bundle, one
// file per artifact.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"pairbot/pkg/fault"
)

const (
	dirMode  = 0o700
	fileMode = 0o600

	tmpPrefix     = ".pairbot-tmp-"
	stagingSuffix = ".staging-"
	retiredSuffix = ".retired-"
)

// ErrRemoved is returned by every operation on a store whose directory was
// deleted through Remove.
var ErrRemoved = fault.New(fault.IO, "session store was removed")

// Bundle maps artifact names to their opaque contents.
type Bundle map[string][]byte

// Names returns artifact names in lexical order.
func (b Bundle) Names() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Store is a directory-backed credential bundle. Multi-artifact mutations
// and reads hold the bundle lock, so in-process readers never observe a
// partially written bundle.
type Store struct {
	dir string

	mu      sync.RWMutex
	removed bool
}

// Open returns a store rooted at dir, creating the directory when missing.
func Open(dir string) (*Store, error) {
	clean := filepath.Clean(strings.TrimSpace(dir))
	if clean == "." || clean == "" {
		return nil, fault.Validationf("session directory is required")
	}

	if err := os.MkdirAll(clean, dirMode); err != nil {
		return nil, fault.NormalizeIOError(err, "create session directory")
	}

	return &Store{dir: clean}, nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// HasBundle reports whether at least one artifact exists.
func (s *Store) HasBundle() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.removed {
		return false
	}

	names, err := s.artifactNames()
	return err == nil && len(names) > 0
}

// Load reads every artifact. An empty bundle with a nil error means absent.
func (s *Store) Load() (Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.removed {
		return nil, ErrRemoved
	}

	return s.load()
}

// Update writes the given artifacts, replacing each file atomically. Other
// artifacts are left untouched.
func (s *Store) Update(artifacts Bundle) error {
	if len(artifacts) == 0 {
		return nil
	}
	for name := range artifacts {
		if err := ValidateName(name); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return ErrRemoved
	}
	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return fault.NormalizeIOError(err, "create session directory")
	}

	for _, name := range artifacts.Names() {
		if err := atomicWrite(filepath.Join(s.dir, name), artifacts[name]); err != nil {
			return fault.NormalizeIOError(err, "write artifact "+name)
		}
	}

	return nil
}

// Promote copies every artifact of src into s. The merged bundle is built in
// a staging directory and swapped in by rename, so other processes see the
// old bundle, no bundle, or the new bundle, never a mix.
func (s *Store) Promote(src *Store) (Bundle, error) {
	if src == nil {
		return nil, fault.Validationf("source store is required")
	}
	if src == s {
		return nil, fault.Validationf("cannot promote a store into itself")
	}

	incoming, err := src.Load()
	if err != nil {
		return nil, err
	}
	if len(incoming) == 0 {
		return nil, fault.Validationf("source bundle is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return nil, ErrRemoved
	}

	merged, err := s.load()
	if err != nil {
		return nil, err
	}
	for name, content := range incoming {
		merged[name] = content
	}

	if err := s.swap(merged); err != nil {
		return nil, err
	}

	return incoming, nil
}

// Clear deletes the bundle and recreates the directory empty.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return ErrRemoved
	}

	if err := os.RemoveAll(s.dir); err != nil {
		return fault.NormalizeIOError(err, "remove session directory")
	}
	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return fault.NormalizeIOError(err, "create session directory")
	}

	return nil
}

// Remove deletes the directory for good; the store rejects further use.
// Removing twice is not an error.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removed = true
	if err := os.RemoveAll(s.dir); err != nil {
		return fault.NormalizeIOError(err, "remove session directory")
	}

	return nil
}

// Removed reports whether Remove has been called.
func (s *Store) Removed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.removed
}

// ValidateName rejects artifact names that are not a single path element.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fault.Validationf("artifact name is required")
	case name == "." || name == "..":
		return fault.Validationf("artifact name %q is invalid", name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fault.Validationf("artifact name %q must not contain path separators", name)
	case strings.HasPrefix(name, tmpPrefix):
		return fault.Validationf("artifact name %q uses a reserved prefix", name)
	}

	return nil
}

func (s *Store) load() (Bundle, error) {
	names, err := s.artifactNames()
	if err != nil {
		return nil, err
	}

	bundle := make(Bundle, len(names))
	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fault.NormalizeIOError(err, "read artifact "+name)
		}
		bundle[name] = content
	}

	return bundle, nil
}

func (s *Store) artifactNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fault.NormalizeIOError(err, "list session directory")
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), tmpPrefix) {
			continue
		}
		names = append(names, entry.Name())
	}

	return names, nil
}

// swap writes bundle into a sibling staging directory and renames it over
// the live directory.
func (s *Store) swap(bundle Bundle) error {
	parent := filepath.Dir(s.dir)
	base := filepath.Base(s.dir)

	if err := os.MkdirAll(parent, dirMode); err != nil {
		return fault.NormalizeIOError(err, "create session parent directory")
	}

	staging, err := os.MkdirTemp(parent, base+stagingSuffix)
	if err != nil {
		return fault.NormalizeIOError(err, "create staging directory")
	}
	defer os.RemoveAll(staging)

	for _, name := range bundle.Names() {
		if err := writeFile(filepath.Join(staging, name), bundle[name]); err != nil {
			return fault.NormalizeIOError(err, "stage artifact "+name)
		}
	}
	if err := syncDir(staging); err != nil {
		return fault.NormalizeIOError(err, "sync staging directory")
	}

	retired := ""
	if _, err := os.Stat(s.dir); err == nil {
		suffix := strings.TrimPrefix(filepath.Base(staging), base+stagingSuffix)
		retired = filepath.Join(parent, fmt.Sprintf("%s%s%s", base, retiredSuffix, suffix))
		if err := os.Rename(s.dir, retired); err != nil {
			return fault.NormalizeIOError(err, "retire session directory")
		}
	}

	if err := os.Rename(staging, s.dir); err != nil {
		if retired != "" {
			_ = os.Rename(retired, s.dir)
		}
		return fault.NormalizeIOError(err, "activate session directory")
	}

	if retired != "" {
		_ = os.RemoveAll(retired)
	}

	return nil
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		_ = tmp.Close()
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(fileMode); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	cleanup = false
	return nil
}

func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
