// Package affiliation classifies drone uids as authorized, unauthorized,
// or unknown from an operator-maintained YAML file. The file is re-read
// when its modification time changes; lookups hit an immutable snapshot
// swapped atomically, so readers never block and never observe a partial
// reload.
package affiliation

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jlrjr/DragonSync/errors"
)

// Default is returned for uids absent from the file, for lookup failures,
// and when no file is configured
const Default = "unknown"

// classes the file may assign. Anything else in the file is ignored with
// a warning.
var validClasses = map[string]bool{
	"authorized":   true,
	"unauthorized": true,
	"unknown":      true,
}

// fileSchema is the YAML shape: a list of uids per class
type fileSchema struct {
	Authorized   []string `yaml:"authorized"`
	Unauthorized []string `yaml:"unauthorized"`
	Unknown      []string `yaml:"unknown"`
}

type snapshot struct {
	byUID map[string]string
	mtime time.Time
}

// Store is a read-through affiliation lookup over a YAML file
type Store struct {
	path   string
	logger *slog.Logger

	current atomic.Pointer[snapshot]
	// Serializes reloads so concurrent lookups trigger at most one read
	reloadMu sync.Mutex
}

// NewStore creates a store over path. An empty path yields a store that
// always answers Default. The initial load failure is returned so a
// misconfigured path surfaces at startup; later reload failures only log
// and keep the previous snapshot.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default().With("component", "affiliation")
	}
	s := &Store{path: path, logger: logger}
	s.current.Store(&snapshot{byUID: map[string]string{}})

	if path == "" {
		return s, nil
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Lookup returns the classification for a uid, Default when unlisted.
// Checks the file's modification time and reloads when it changed.
func (s *Store) Lookup(uid string) string {
	if s.path == "" {
		return Default
	}
	s.maybeReload()

	snap := s.current.Load()
	if class, ok := snap.byUID[uid]; ok {
		return class
	}
	return Default
}

// Len returns the number of classified uids in the current snapshot
func (s *Store) Len() int {
	return len(s.current.Load().byUID)
}

func (s *Store) maybeReload() {
	info, err := os.Stat(s.path)
	if err != nil {
		// Keep serving the last good snapshot
		return
	}
	if info.ModTime().Equal(s.current.Load().mtime) {
		return
	}
	if err := s.reload(); err != nil {
		s.logger.Warn("affiliation reload failed, keeping previous snapshot",
			"path", s.path, "error", err)
	}
}

func (s *Store) reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		return errors.Wrap(err, "Store", "reload", "stat "+s.path)
	}
	// Another goroutine may have finished this reload while we waited
	if info.ModTime().Equal(s.current.Load().mtime) {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return errors.Wrap(err, "Store", "reload", "read "+s.path)
	}

	var file fileSchema
	if err := yaml.Unmarshal(data, &file); err != nil {
		return errors.WrapInvalid(err, "Store", "reload", "parse "+s.path)
	}

	byUID := make(map[string]string)
	for class, uids := range map[string][]string{
		"authorized":   file.Authorized,
		"unauthorized": file.Unauthorized,
		"unknown":      file.Unknown,
	} {
		if !validClasses[class] {
			continue
		}
		for _, uid := range uids {
			if uid != "" {
				byUID[uid] = class
			}
		}
	}

	s.current.Store(&snapshot{byUID: byUID, mtime: info.ModTime()})
	s.logger.Info("affiliation file loaded", "path", s.path, "entries", len(byUID))
	return nil
}
