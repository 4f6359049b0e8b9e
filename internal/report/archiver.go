package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrExists indicates a report key has already been archived. Puts are
// create-only; reports are never overwritten.
var ErrExists = errors.New("report already archived")

// Archiver persists trial reports under caller-chosen keys.
type Archiver interface {
	Put(ctx context.Context, key string, rep TrialReport) error
	Get(ctx context.Context, key string) (TrialReport, error)
	Keys(ctx context.Context) ([]string, error)
}

// Memory is an in-memory archiver for tests.
type Memory struct {
	mu      sync.Mutex
	reports map[string][]byte
}

// NewMemory returns an empty in-memory archiver.
func NewMemory() *Memory {
	return &Memory{reports: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, key string, rep TrialReport) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[key]; ok {
		return fmt.Errorf("%s: %w", key, ErrExists)
	}
	m.reports[key] = data
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (TrialReport, error) {
	m.mu.Lock()
	data, ok := m.reports[key]
	m.mu.Unlock()
	if !ok {
		return TrialReport{}, fmt.Errorf("report %s not found", key)
	}
	var rep TrialReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return TrialReport{}, fmt.Errorf("decode report: %w", err)
	}
	return rep, nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.reports))
	for k := range m.reports {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// FS archives reports as JSON files under a root directory.
type FS struct {
	root string
}

// NewFS returns a filesystem archiver rooted at dir, creating it if needed.
func NewFS(dir string) (*FS, error) {
	if dir == "" {
		dir = "./trial-reports"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	return &FS{root: dir}, nil
}

// sanitizeKey forbids traversal out of the archive root.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty report key")
	}
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid report key %q", key)
	}
	return filepath.ToSlash(filepath.Clean(key)), nil
}

func (f *FS) path(key string) (string, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(k, ".json") {
		k += ".json"
	}
	return filepath.Join(f.root, k), nil
}

func (f *FS) Put(_ context.Context, key string, rep TrialReport) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	// O_EXCL enforces create-only.
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", key, ErrExists)
		}
		return fmt.Errorf("create report file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	return nil
}

func (f *FS) Get(_ context.Context, key string) (TrialReport, error) {
	path, err := f.path(key)
	if err != nil {
		return TrialReport{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return TrialReport{}, fmt.Errorf("read report: %w", err)
	}
	var rep TrialReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return TrialReport{}, fmt.Errorf("decode report: %w", err)
	}
	return rep, nil
}

func (f *FS) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}
