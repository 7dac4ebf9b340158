package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/platinummonkey/kbai/pkg/api"
)

// FilesystemStorage stores each project as a directory of JSON files:
//
//	<root>/projects/<id>/project.json
//	<root>/projects/<id>/faqs.json
//	<root>/projects/<id>/kb.json
//	<root>/projects/<id>/attachments/<att-id>.json + .bin
//	<root>/projects/<id>/index/v<version>/<kind>.json
//	<root>/projects/<id>/index/current.json
//
// All writes go through a temp file followed by rename.
type FilesystemStorage struct {
	root string
	mu   sync.RWMutex
}

var safeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// NewFilesystemStorage creates a filesystem backend rooted at root.
func NewFilesystemStorage(root string) (*FilesystemStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("filesystem root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, "projects"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FilesystemStorage{root: root}, nil
}

func (s *FilesystemStorage) projectDir(projectID string) (string, error) {
	if !safeIDPattern.MatchString(projectID) {
		return "", fmt.Errorf("%w: invalid project id %q", api.ErrBadRequest, projectID)
	}
	return filepath.Join(s.root, "projects", projectID), nil
}

// writeFileAtomic writes data to a temp file in the target directory
// and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return writeFileAtomic(path, data)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return api.ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// ListProjects returns all projects sorted by ID.
func (s *FilesystemStorage) ListProjects(ctx context.Context) ([]*api.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.root, "projects"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	projects := make([]*api.Project, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var p api.Project
		if err := readJSON(filepath.Join(s.root, "projects", e.Name(), "project.json"), &p); err != nil {
			continue
		}
		projects = append(projects, &p)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
	return projects, nil
}

// GetProject returns a project by ID.
func (s *FilesystemStorage) GetProject(ctx context.Context, id string) (*api.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir, err := s.projectDir(id)
	if err != nil {
		return nil, err
	}
	var p api.Project
	if err := readJSON(filepath.Join(dir, "project.json"), &p); err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", id, err)
	}
	return &p, nil
}

// PutProject creates or replaces a project.
func (s *FilesystemStorage) PutProject(ctx context.Context, project *api.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.projectDir(project.ID)
	if err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(dir, "project.json"), project); err != nil {
		return fmt.Errorf("failed to put project %s: %w", project.ID, err)
	}
	return nil
}

// ListFAQs returns all FAQ records of a project.
func (s *FilesystemStorage) ListFAQs(ctx context.Context, projectID string) ([]*api.FAQ, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readFAQs(projectID)
}

func (s *FilesystemStorage) readFAQs(projectID string) ([]*api.FAQ, error) {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return nil, err
	}
	var faqs []*api.FAQ
	if err := readJSON(filepath.Join(dir, "faqs.json"), &faqs); err != nil {
		if err == api.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return faqs, nil
}

// PutFAQs upserts FAQ records by ID.
func (s *FilesystemStorage) PutFAQs(ctx context.Context, projectID string, faqs []*api.FAQ) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readFAQs(projectID)
	if err != nil {
		return fmt.Errorf("failed to load faqs for %s: %w", projectID, err)
	}
	merged := mergeByID(existing, faqs, func(f *api.FAQ) string { return f.ID })

	dir, _ := s.projectDir(projectID)
	if err := writeJSONAtomic(filepath.Join(dir, "faqs.json"), merged); err != nil {
		return fmt.Errorf("failed to put faqs for %s: %w", projectID, err)
	}
	return nil
}

// DeleteFAQ removes one FAQ record.
func (s *FilesystemStorage) DeleteFAQ(ctx context.Context, projectID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	faqs, err := s.readFAQs(projectID)
	if err != nil {
		return err
	}
	kept, removed := removeByID(faqs, id, func(f *api.FAQ) string { return f.ID })
	if !removed {
		return fmt.Errorf("faq %s: %w", id, api.ErrNotFound)
	}
	dir, _ := s.projectDir(projectID)
	if err := writeJSONAtomic(filepath.Join(dir, "faqs.json"), kept); err != nil {
		return fmt.Errorf("failed to delete faq %s: %w", id, err)
	}
	return nil
}

// ListKB returns all KB entries of a project.
func (s *FilesystemStorage) ListKB(ctx context.Context, projectID string) ([]*api.KBEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readKB(projectID)
}

func (s *FilesystemStorage) readKB(projectID string) ([]*api.KBEntry, error) {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return nil, err
	}
	var entries []*api.KBEntry
	if err := readJSON(filepath.Join(dir, "kb.json"), &entries); err != nil {
		if err == api.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return entries, nil
}

// PutKB upserts KB entries by ID.
func (s *FilesystemStorage) PutKB(ctx context.Context, projectID string, entries []*api.KBEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readKB(projectID)
	if err != nil {
		return fmt.Errorf("failed to load kb for %s: %w", projectID, err)
	}
	merged := mergeByID(existing, entries, func(e *api.KBEntry) string { return e.ID })

	dir, _ := s.projectDir(projectID)
	if err := writeJSONAtomic(filepath.Join(dir, "kb.json"), merged); err != nil {
		return fmt.Errorf("failed to put kb for %s: %w", projectID, err)
	}
	return nil
}

// DeleteKB removes one KB entry.
func (s *FilesystemStorage) DeleteKB(ctx context.Context, projectID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readKB(projectID)
	if err != nil {
		return err
	}
	kept, removed := removeByID(entries, id, func(e *api.KBEntry) string { return e.ID })
	if !removed {
		return fmt.Errorf("kb entry %s: %w", id, api.ErrNotFound)
	}
	dir, _ := s.projectDir(projectID)
	if err := writeJSONAtomic(filepath.Join(dir, "kb.json"), kept); err != nil {
		return fmt.Errorf("failed to delete kb entry %s: %w", id, err)
	}
	return nil
}

// PutAttachment stores an attachment blob and its metadata.
func (s *FilesystemStorage) PutAttachment(ctx context.Context, projectID string, att *api.Attachment, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.projectDir(projectID)
	if err != nil {
		return err
	}
	if !safeIDPattern.MatchString(att.ID) {
		return fmt.Errorf("%w: invalid attachment id %q", api.ErrBadRequest, att.ID)
	}
	attDir := filepath.Join(dir, "attachments")
	if err := writeFileAtomic(filepath.Join(attDir, att.ID+".bin"), data); err != nil {
		return fmt.Errorf("failed to store attachment %s: %w", att.ID, err)
	}
	if err := writeJSONAtomic(filepath.Join(attDir, att.ID+".json"), att); err != nil {
		return fmt.Errorf("failed to store attachment metadata %s: %w", att.ID, err)
	}
	return nil
}

// GetAttachment returns an attachment's metadata and blob.
func (s *FilesystemStorage) GetAttachment(ctx context.Context, projectID, id string) (*api.Attachment, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir, err := s.projectDir(projectID)
	if err != nil {
		return nil, nil, err
	}
	if !safeIDPattern.MatchString(id) {
		return nil, nil, fmt.Errorf("%w: invalid attachment id %q", api.ErrBadRequest, id)
	}
	var att api.Attachment
	if err := readJSON(filepath.Join(dir, "attachments", id+".json"), &att); err != nil {
		return nil, nil, fmt.Errorf("failed to get attachment %s: %w", id, err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "attachments", id+".bin"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read attachment blob %s: %w", id, err)
	}
	return &att, data, nil
}

// DeleteAttachment removes an attachment blob and metadata.
func (s *FilesystemStorage) DeleteAttachment(ctx context.Context, projectID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.projectDir(projectID)
	if err != nil {
		return err
	}
	if !safeIDPattern.MatchString(id) {
		return fmt.Errorf("%w: invalid attachment id %q", api.ErrBadRequest, id)
	}
	metaPath := filepath.Join(dir, "attachments", id+".json")
	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		return fmt.Errorf("attachment %s: %w", id, api.ErrNotFound)
	}
	if err := os.Remove(metaPath); err != nil {
		return fmt.Errorf("failed to delete attachment metadata %s: %w", id, err)
	}
	if err := os.Remove(filepath.Join(dir, "attachments", id+".bin")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete attachment blob %s: %w", id, err)
	}
	return nil
}

// PutIndexArtifact stores one artifact under its version directory.
func (s *FilesystemStorage) PutIndexArtifact(ctx context.Context, projectID string, version uint64, kind api.ArtifactKind, data []byte) error {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "index", fmt.Sprintf("v%d", version), string(kind)+".json")
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to store %s artifact v%d: %w", kind, version, err)
	}
	return nil
}

// GetIndexArtifact loads one artifact.
func (s *FilesystemStorage) GetIndexArtifact(ctx context.Context, projectID string, version uint64, kind api.ArtifactKind) ([]byte, error) {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "index", fmt.Sprintf("v%d", version), string(kind)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s artifact v%d: %w", kind, version, api.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s artifact v%d: %w", kind, version, err)
	}
	return data, nil
}

// ListIndexVersions returns the stored versions sorted ascending.
func (s *FilesystemStorage) ListIndexVersions(ctx context.Context, projectID string) ([]uint64, error) {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(dir, "index"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list index versions: %w", err)
	}
	var versions []uint64
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "v") {
			continue
		}
		v, err := strconv.ParseUint(e.Name()[1:], 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// DeleteIndexVersion removes a whole version directory.
func (s *FilesystemStorage) DeleteIndexVersion(ctx context.Context, projectID string, version uint64) error {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "index", fmt.Sprintf("v%d", version))
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete index version %d: %w", version, err)
	}
	return nil
}

type indexPointer struct {
	Version uint64 `json:"version"`
}

// GetIndexPointer returns the published index version.
func (s *FilesystemStorage) GetIndexPointer(ctx context.Context, projectID string) (uint64, error) {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return 0, err
	}
	var ptr indexPointer
	if err := readJSON(filepath.Join(dir, "index", "current.json"), &ptr); err != nil {
		if err == api.ErrNotFound {
			return 0, fmt.Errorf("index pointer for %s: %w", projectID, api.ErrNotFound)
		}
		return 0, err
	}
	return ptr.Version, nil
}

// SetIndexPointer atomically publishes a version.
func (s *FilesystemStorage) SetIndexPointer(ctx context.Context, projectID string, version uint64) error {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(dir, "index", "current.json"), indexPointer{Version: version}); err != nil {
		return fmt.Errorf("failed to publish index version %d: %w", version, err)
	}
	return nil
}

// HealthCheck verifies the root directory is writable.
func (s *FilesystemStorage) HealthCheck(ctx context.Context) error {
	probe := filepath.Join(s.root, ".healthcheck")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("storage root not writable: %w", err)
	}
	os.Remove(probe)
	return nil
}

// Close is a no-op for the filesystem backend.
func (s *FilesystemStorage) Close() error { return nil }

// mergeByID replaces or appends updates into existing, preserving the
// order of existing records and appending new ones in update order.
func mergeByID[T any](existing, updates []T, id func(T) string) []T {
	index := make(map[string]int, len(existing))
	out := make([]T, len(existing))
	copy(out, existing)
	for i, item := range out {
		index[id(item)] = i
	}
	for _, u := range updates {
		if i, ok := index[id(u)]; ok {
			out[i] = u
		} else {
			index[id(u)] = len(out)
			out = append(out, u)
		}
	}
	return out
}

func removeByID[T any](items []T, target string, id func(T) string) ([]T, bool) {
	out := make([]T, 0, len(items))
	removed := false
	for _, item := range items {
		if id(item) == target {
			removed = true
			continue
		}
		out = append(out, item)
	}
	return out, removed
}
