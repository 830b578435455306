package cutter

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"audio-cutter/internal/audio"
)

// AssetStore is the filesystem abstraction the controller and handlers use.
// Input assets live under <input>/<radio>/<file>; cuts are written under
// <output>/<radio>/<file>.
type AssetStore interface {
	// ResolveAssetPath returns the path of an existing input asset.
	ResolveAssetPath(radio, filename string) (string, error)

	// ListAssets returns the playable file names of a station, sorted.
	ListAssets(radio string) ([]string, error)

	// EnsureOutputDirectory creates the station's output directory if needed
	// and returns its path.
	EnsureOutputDirectory(radio string) (string, error)
}

// FSAssetStore is an AssetStore over two local directory trees.
type FSAssetStore struct {
	inputRoot  string
	outputRoot string
	supports   func(name string) bool
}

// NewFSAssetStore returns a store rooted at inputRoot and outputRoot. supports
// filters listings to files the codecs can handle; nil accepts every regular file.
func NewFSAssetStore(inputRoot, outputRoot string, supports func(name string) bool) *FSAssetStore {
	if supports == nil {
		supports = func(string) bool { return true }
	}
	return &FSAssetStore{inputRoot: inputRoot, outputRoot: outputRoot, supports: supports}
}

// ResolveAssetPath implements AssetStore.ResolveAssetPath.
func (s *FSAssetStore) ResolveAssetPath(radio, filename string) (string, error) {
	return s.resolveFile(s.inputRoot, radio, filename)
}

// ResolveCutPath returns the path of an existing finished cut.
func (s *FSAssetStore) ResolveCutPath(radio, filename string) (string, error) {
	return s.resolveFile(s.outputRoot, radio, filename)
}

// ListAssets implements AssetStore.ListAssets.
func (s *FSAssetStore) ListAssets(radio string) ([]string, error) {
	return s.listFiles(s.inputRoot, radio)
}

// ListCuts returns the finished cuts of a station, sorted. A station with no
// output directory yet has no cuts.
func (s *FSAssetStore) ListCuts(radio string) ([]string, error) {
	names, err := s.listFiles(s.outputRoot, radio)
	if errors.Is(err, audio.ErrNotFound) {
		return []string{}, nil
	}
	return names, err
}

// ListRadios returns the station directories under the input root, sorted.
func (s *FSAssetStore) ListRadios() ([]string, error) {
	entries, err := os.ReadDir(s.inputRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	radios := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			radios = append(radios, e.Name())
		}
	}
	return radios, nil
}

// EnsureOutputDirectory implements AssetStore.EnsureOutputDirectory.
func (s *FSAssetStore) EnsureOutputDirectory(radio string) (string, error) {
	dir, err := confine(s.outputRoot, radio)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create output directory: %w", audio.ErrIO, err)
	}
	return dir, nil
}

func (s *FSAssetStore) resolveFile(root, radio, filename string) (string, error) {
	path, err := confine(root, radio, filename)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s/%s", audio.ErrNotFound, radio, filename)
		}
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s/%s is not a regular file", audio.ErrNotFound, radio, filename)
	}
	return path, nil
}

func (s *FSAssetStore) listFiles(root, radio string) ([]string, error) {
	dir, err := confine(root, radio)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: radio %s", audio.ErrNotFound, radio)
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		// Hidden names include renameio's pending files.
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") || !s.supports(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// confine joins single path elements under root and verifies that the result,
// after resolving symlinks, stays inside root.
func confine(root string, elems ...string) (string, error) {
	for _, e := range elems {
		if err := validElement(e); err != nil {
			return "", err
		}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root path: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		realRoot = absRoot
	}

	full := filepath.Join(append([]string{realRoot}, elems...)...)
	real, err := filepath.EvalSymlinks(full)
	if err != nil {
		// Not there yet; the lexical join is already confined.
		return full, nil
	}
	rel, err := filepath.Rel(realRoot, real)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes the asset root", ErrValidation, filepath.Join(elems...))
	}
	return real, nil
}

func validElement(e string) error {
	switch {
	case e == "", e == ".", e == "..":
		return fmt.Errorf("%w: invalid path element %q", ErrValidation, e)
	case strings.ContainsAny(e, `/\`+"\x00"):
		return fmt.Errorf("%w: path element %q contains a separator", ErrValidation, e)
	}
	return nil
}
