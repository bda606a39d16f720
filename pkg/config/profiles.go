// Model profile store - hot-reloadable endpoint configuration

package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sync"
)

// ModelProfile describes one remote completion endpoint.
// The model name doubles as the selection key.
type ModelProfile struct {
	Model  string `json:"model"`
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

// IsZero reports whether the profile is empty (no endpoint resolvable).
func (p ModelProfile) IsZero() bool {
	return p.Model == "" && p.URL == "" && p.APIKey == ""
}

// ProfileFile is the on-disk configuration document. The frontend
// round-trips this shape verbatim, so field names are part of the wire
// contract.
type ProfileFile struct {
	Datasets      []ModelProfile `json:"datasets"`
	SelectedModel string         `json:"selected_model"`
}

// resolve returns the profile matching the selected model, or an empty
// profile when the key does not resolve.
func (f ProfileFile) resolve() ModelProfile {
	for _, d := range f.Datasets {
		if d.Model == f.SelectedModel {
			return d
		}
	}
	return ModelProfile{}
}

// Listener is invoked with the effective active profile after every
// successful configuration change.
type Listener func(ModelProfile)

// ErrProfileNotFound is returned by SelectActive for an unknown key.
var ErrProfileNotFound = fmt.Errorf("profile not found")

// PersistError wraps a failure to write the configuration file. The
// in-memory configuration stays at its last-good state when one occurs.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist config: %v", e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Store holds the model profiles and the selected key, persisted to a
// JSON file. Reads never block on an in-flight update; updates serialize
// their persist/reload/notify sequence on a separate mutex.
type Store struct {
	path string

	mu     sync.RWMutex
	file   ProfileFile
	active ModelProfile

	updateMu sync.Mutex

	listenerMu sync.Mutex
	listeners  []Listener
	registered map[uintptr]bool
}

// NewStore loads the configuration from path. A missing file falls back
// to an empty configuration (seeding from templatePath first when that
// exists); a malformed file is logged and treated as empty. Neither is
// fatal.
func NewStore(path, templatePath string) *Store {
	s := &Store{
		path:       path,
		registered: make(map[uintptr]bool),
	}

	if _, err := os.Stat(path); os.IsNotExist(err) && templatePath != "" {
		if err := copyFile(templatePath, path); err == nil {
			log.Printf("[Config] Created %s from template, fill in your endpoint settings", filepath.Base(path))
		}
	}

	s.file = readProfileFile(path)
	s.active = s.file.resolve()
	return s
}

// readProfileFile reads and parses the config document, tolerating
// missing, empty, and malformed files.
func readProfileFile(path string) ProfileFile {
	var f ProfileFile
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[Config] Read %s failed: %v, using empty config", path, err)
		}
		return f
	}
	if len(data) == 0 {
		log.Printf("[Config] %s is empty, using empty config", path)
		return f
	}
	if err := json.Unmarshal(data, &f); err != nil {
		log.Printf("[Config] Parse %s failed: %v, using empty config", path, err)
		return ProfileFile{}
	}
	// Default to the first dataset when nothing is selected yet
	if f.SelectedModel == "" && len(f.Datasets) > 0 {
		f.SelectedModel = f.Datasets[0].Model
	}
	return f
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// Path returns the config file location.
func (s *Store) Path() string { return s.path }

// Snapshot returns a copy of the current configuration document.
func (s *Store) Snapshot() ProfileFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.file
	out.Datasets = append([]ModelProfile(nil), s.file.Datasets...)
	return out
}

// Active returns the currently effective profile. Empty when the
// selected key does not resolve to a dataset.
func (s *Store) Active() ModelProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// RegisterListener registers a callback for configuration changes.
// Registration is idempotent: the same function registered twice is
// invoked once per change.
func (s *Store) RegisterListener(l Listener) {
	if l == nil {
		return
	}
	key := reflect.ValueOf(l).Pointer()
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.registered[key] {
		return
	}
	s.registered[key] = true
	s.listeners = append(s.listeners, l)
	log.Printf("[Config] Listener registered (%d total)", len(s.listeners))
}

// Update replaces the datasets and selected key, persists, reloads from
// disk, and notifies listeners. On a persist failure the in-memory state
// is left untouched.
func (s *Store) Update(datasets []ModelProfile, selectedModel string) (ProfileFile, error) {
	if err := validateDatasets(datasets); err != nil {
		return s.Snapshot(), err
	}
	candidate := ProfileFile{
		Datasets:      append([]ModelProfile(nil), datasets...),
		SelectedModel: selectedModel,
	}
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	return s.commit(candidate)
}

// SelectActive changes only which existing profile is active, reusing
// the same persist/reload/notify sequence as Update. The snapshot it
// modifies is taken under the update mutex, so a concurrent Update can
// never be overwritten with a stale copy.
func (s *Store) SelectActive(key string) (ProfileFile, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	snap := s.Snapshot()
	found := false
	for _, d := range snap.Datasets {
		if d.Model == key {
			found = true
			break
		}
	}
	if !found {
		return snap, fmt.Errorf("%w: %q", ErrProfileNotFound, key)
	}
	snap.SelectedModel = key
	return s.commit(snap)
}

func validateDatasets(datasets []ModelProfile) error {
	seen := make(map[string]bool, len(datasets))
	for i, d := range datasets {
		if d.Model == "" {
			return fmt.Errorf("dataset %d: model is required", i)
		}
		if seen[d.Model] {
			return fmt.Errorf("dataset %d: duplicate model key %q", i, d.Model)
		}
		seen[d.Model] = true
	}
	return nil
}

// commit persists candidate atomically, re-reads it from disk so memory
// and disk never diverge, then invokes listeners in registration order.
// The caller holds updateMu.
func (s *Store) commit(candidate ProfileFile) (ProfileFile, error) {
	if err := writeProfileFile(s.path, candidate); err != nil {
		return s.Snapshot(), &PersistError{Err: err}
	}

	reloaded := readProfileFile(s.path)
	active := reloaded.resolve()

	s.mu.Lock()
	s.file = reloaded
	s.active = active
	s.mu.Unlock()

	// Listeners run outside the write lock but still inside updateMu,
	// so they observe changes in commit order.
	s.listenerMu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenerMu.Unlock()
	for _, l := range listeners {
		l(active)
	}

	log.Printf("[Config] Updated: selected=%q datasets=%d", reloaded.SelectedModel, len(reloaded.Datasets))
	return s.Snapshot(), nil
}

// writeProfileFile writes the document via a temp file and rename so a
// failed write leaves the prior on-disk state intact.
func writeProfileFile(path string, f ProfileFile) error {
	data, err := json.MarshalIndent(f, "", "    ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
