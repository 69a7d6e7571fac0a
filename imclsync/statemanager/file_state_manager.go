package statemanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/steelcutops/imclsync/imclsync/clock"
)

// FileStateManager keeps one JSON file per resource in a directory. Each
// Save overwrites the previous record and bumps its version.
type FileStateManager struct {
	mu    sync.Mutex
	dir   string
	clock clock.Clock
}

func NewFileStateManager(dir string, c clock.Clock) (*FileStateManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	if c == nil {
		c = clock.RealClock{}
	}
	return &FileStateManager{dir: dir, clock: c}, nil
}

func (f *FileStateManager) Save(ctx context.Context, state State) (string, error) {
	if state.ResourceID == "" {
		return "", errors.New("state has no resource ID")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	previous, err := f.read(state.ResourceID)
	switch {
	case err == nil:
		state.Version = previous.Version + 1
	case errors.Is(err, ErrNotFound):
		state.Version = 1
	default:
		return "", err
	}

	if state.ID == "" {
		state.ID = uuid.NewString()
	}
	if state.Timestamp.IsZero() {
		state.Timestamp = f.clock.Now().UTC()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", err
	}

	// write then rename so a crash never leaves a truncated record
	tmp, err := os.CreateTemp(f.dir, ".state-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), f.path(state.ResourceID)); err != nil {
		return "", err
	}

	return state.ID, nil
}

func (f *FileStateManager) Get(ctx context.Context, resourceID string) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(resourceID)
}

func (f *FileStateManager) List(ctx context.Context) ([]State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	files, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}

	var states []State
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		state, err := f.readFile(filepath.Join(f.dir, file.Name()))
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}

	sort.Slice(states, func(i, j int) bool { return states[i].ResourceID < states[j].ResourceID })
	return states, nil
}

func (f *FileStateManager) Delete(ctx context.Context, resourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(resourceID))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, resourceID)
	}
	return err
}

func (f *FileStateManager) Exists(ctx context.Context, resourceID string) (bool, error) {
	_, err := os.Stat(f.path(resourceID))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *FileStateManager) read(resourceID string) (State, error) {
	state, err := f.readFile(f.path(resourceID))
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, fmt.Errorf("%w: %s", ErrNotFound, resourceID)
	}
	return state, err
}

func (f *FileStateManager) readFile(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return state, nil
}

// path maps a resource ID such as "was01.example.com/com.ibm.java.jdk.v8" to
// a single file name. The escaping is reversible, so distinct IDs never share
// a file.
func (f *FileStateManager) path(resourceID string) string {
	return filepath.Join(f.dir, url.PathEscape(resourceID)+".json")
}
