// Package phrasestore persists the enrolled wake-phrase set as a UTF-8 JSON
// array of distinct, normalised phrases in lexicographic order.
//
// The file is always rewritten wholesale: [Store.Save] writes a temporary
// file next to the target, syncs it and renames it into place, so readers
// never observe a partially written set.
package phrasestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/earshot/internal/phrase"
	"github.com/MrWong99/earshot/pkg/types"
)

// Store reads and writes one phrase file. It is safe for concurrent use;
// concurrent saves are serialised.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a store for the file at path. The file is not touched.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the file path.
func (s *Store) Path() string { return s.path }

// Load reads the phrase set. A missing file is a configuration problem in
// matching mode (enrollment has to run first): the error wraps both
// [types.ErrConfiguration] and [fs.ErrNotExist]. Malformed content also
// wraps [types.ErrConfiguration]. Entries are normalised and de-duplicated
// on load.
func (s *Store) Load() (phrase.Set, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return phrase.Set{}, fmt.Errorf("phrasestore: %s not found, run enrollment first: %w: %w",
				s.path, types.ErrConfiguration, err)
		}
		return phrase.Set{}, fmt.Errorf("phrasestore: read %s: %w", s.path, err)
	}

	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		return phrase.Set{}, fmt.Errorf("phrasestore: parse %s: %w: %w", s.path, types.ErrConfiguration, err)
	}
	return phrase.NewSet(entries...), nil
}

// LoadOrEmpty is like [Store.Load] but treats a missing file as an empty
// set. Enrollment uses it to merge into whatever exists.
func (s *Store) LoadOrEmpty() (phrase.Set, error) {
	set, err := s.Load()
	if errors.Is(err, fs.ErrNotExist) {
		return phrase.NewSet(), nil
	}
	return set, err
}

// Save overwrites the file with set, sorted.
func (s *Store) Save(set phrase.Set) error {
	data, err := Encode(set)
	if err != nil {
		return fmt.Errorf("phrasestore: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("phrasestore: save %s: %w", s.path, err)
	}
	return nil
}

// Encode renders set in the on-disk format: an indented JSON array in
// lexicographic order followed by a newline. An empty set encodes as [].
func Encode(set phrase.Set) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(set.Sorted()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFileAtomic writes data to a temporary file in the target directory,
// syncs it and renames it over path.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()

	fail := func(err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if _, err := f.Write(data); err != nil {
		return fail(err)
	}
	if err := f.Chmod(mode); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
