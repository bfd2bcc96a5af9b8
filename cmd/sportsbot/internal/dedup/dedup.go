// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package dedup remembers which feed entries have already been forwarded.
//
// A [Set] holds entry identifiers in insertion order; a [Store] keeps one Set
// in a plain text file:
//
//	# sportsbot seen v1
//	https://www.sports.ru/football/1.html
//	https://www.sports.ru/hockey/2.html
//
// The file is replaced atomically on every save. A missing file loads as an
// empty set; a damaged one is recovered from the newest intact backup, or
// loads as an empty set if there is none.
package dedup

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"go.astrophena.name/sportsbot/internal/atomicio"
	"go.astrophena.name/sportsbot/internal/set"
)

const header = "# sportsbot seen v1"

// ErrInvalidID is returned by [Store.Save] for identifiers that can't be
// written to the file.
var ErrInvalidID = errors.New("dedup: identifier contains a line break or NUL byte")

// Set is a set of entry identifiers that remembers insertion order. When a
// limit is set, [Set.Trim] forgets the oldest identifiers past it.
//
// Set is safe for concurrent use.
type Set struct {
	mu    sync.RWMutex
	ids   []string
	index set.Set[string]
	limit int
}

// NewSet returns a set holding ids. A limit of zero or less means the set
// grows without bound.
func NewSet(limit int, ids ...string) *Set {
	s := &Set{index: set.New[string](len(ids)), limit: limit}
	for _, id := range ids {
		s.add(id)
	}
	s.trim(nil)
	return s
}

// Add adds id and reports whether it was not present before.
func (s *Set) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(id)
}

func (s *Set) add(id string) bool {
	if !s.index.Add(id) {
		return false
	}
	s.ids = append(s.ids, id)
	return true
}

// Trim forgets the oldest identifiers until the set fits its limit, skipping
// those in keep. The set stays over the limit if keep alone exceeds it.
func (s *Set) Trim(keep ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trim(set.NewFromSlice(keep...))
}

func (s *Set) trim(keep set.Set[string]) {
	excess := len(s.ids) - s.limit
	if s.limit <= 0 || excess <= 0 {
		return
	}
	ids := make([]string, 0, len(s.ids)-excess)
	for _, id := range s.ids {
		if excess > 0 && !keep.Has(id) {
			s.index.Del(id)
			excess--
			continue
		}
		ids = append(ids, id)
	}
	s.ids = ids
}

// Has reports whether id is in the set.
func (s *Set) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Has(id)
}

// Len returns the number of identifiers in the set.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// IDs returns a copy of the identifiers in insertion order.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.ids...)
}

// Store keeps a [Set] in a file.
type Store struct {
	path  string
	limit int
	slog  *slog.Logger
}

// NewStore returns a store for the file at path. Loaded sets get the given
// limit, see [NewSet].
func NewStore(path string, limit int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, limit: limit, slog: logger}
}

// Path returns the path of the file.
func (st *Store) Path() string { return st.path }

// Load reads the set from the file. It never fails: problems are logged and
// the result degrades to an empty set, which makes every entry look new.
func (st *Store) Load() *Set {
	ids, err := readFile(st.path)
	if err == nil {
		return NewSet(st.limit, ids...)
	}
	if errors.Is(err, fs.ErrNotExist) {
		st.slog.Debug("no seen file, starting empty", "path", st.path)
		return NewSet(st.limit)
	}
	st.slog.Warn("seen file is damaged", "path", st.path, "error", err)

	backups, berr := atomicio.Backups(st.path)
	if berr != nil {
		st.slog.Warn("listing backups", "path", st.path, "error", berr)
	}
	for _, backup := range backups {
		ids, err := readFile(backup)
		if err != nil {
			st.slog.Warn("backup is damaged", "path", backup, "error", err)
			continue
		}
		st.slog.Info("recovered seen set from backup", "path", backup, "ids", len(ids))
		return NewSet(st.limit, ids...)
	}

	st.slog.Warn("no usable backup, starting empty", "path", st.path)
	return NewSet(st.limit)
}

// Save atomically replaces the file with the contents of s.
func (st *Store) Save(s *Set) error {
	b, err := Marshal(s.IDs())
	if err != nil {
		return err
	}
	if err := atomicio.WriteFile(st.path, b, 0o600); err != nil {
		return fmt.Errorf("saving seen set: %w", err)
	}
	return nil
}

func readFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(b)
}

// Marshal encodes ids in the file format.
func Marshal(ids []string) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteByte('\n')
	for _, id := range ids {
		if !validID(id) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
		sb.WriteString(id)
		sb.WriteByte('\n')
	}
	return []byte(sb.String()), nil
}

// Unmarshal decodes the file format. Blank lines are skipped.
func Unmarshal(b []byte) ([]string, error) {
	text := string(b)
	if strings.IndexByte(text, 0) >= 0 {
		return nil, errors.New("dedup: NUL byte in file")
	}
	first, rest, _ := strings.Cut(text, "\n")
	if first != header {
		return nil, fmt.Errorf("dedup: bad header %q", first)
	}

	var ids []string
	for line := range strings.SplitSeq(rest, "\n") {
		if line == "" {
			continue
		}
		if strings.ContainsRune(line, '\r') {
			return nil, fmt.Errorf("dedup: carriage return in identifier %q", line)
		}
		ids = append(ids, line)
	}
	return ids, nil
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "\n\r\x00")
}
