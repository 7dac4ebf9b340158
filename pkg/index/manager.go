package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/kbai/pkg/api"
	"github.com/platinummonkey/kbai/pkg/observability"
	"github.com/platinummonkey/kbai/pkg/storage"
)

// ErrNoIndex is returned when a project has no published index version.
var ErrNoIndex = errors.New("no index published")

// DefaultKeepVersions is how many published versions are retained for
// in-flight readers before reclamation.
const DefaultKeepVersions = 3

// DefaultBuildTimeout bounds one index build.
const DefaultBuildTimeout = 10 * time.Minute

// BuildState reports the build progress of one project's index.
// TargetVersion advances on every content change; CurrentVersion
// advances when a build publishes. Current never exceeds target.
type BuildState struct {
	ProjectID      string    `json:"project_id"`
	CurrentVersion uint64    `json:"current_version"`
	TargetVersion  uint64    `json:"target_version"`
	Building       bool      `json:"building"`
	LastBuiltAt    time.Time `json:"last_built_at,omitzero"`
	LastError      string    `json:"last_error,omitempty"`
	RecordCount    int       `json:"record_count"`
}

// UpToDate reports whether the published index covers all known
// content changes.
func (s BuildState) UpToDate() bool {
	return !s.Building && s.CurrentVersion == s.TargetVersion
}

type buildWaiter struct {
	version uint64
	ch      chan error
}

type versionData struct {
	refs   atomic.Int32
	meta   *BuildMeta
	dense  *DenseArtifact
	sparse *SparseArtifact
	basic  *BasicArtifact
}

type projectState struct {
	mu          sync.Mutex
	state       BuildState
	fingerprint string
	dirty       bool
	building    bool
	waiters     []buildWaiter
	versions    map[uint64]*versionData
}

// Snapshot is a pinned view of one published index version. Callers
// must Release it when done so old versions can be reclaimed.
type Snapshot struct {
	Version uint64
	Meta    *BuildMeta
	Dense   *DenseArtifact
	Sparse  *SparseArtifact
	Basic   *BasicArtifact
	data    *versionData
}

// Release unpins the snapshot. Safe to call more than once.
func (s *Snapshot) Release() {
	if s.data != nil {
		s.data.refs.Add(-1)
		s.data = nil
	}
}

// Manager coordinates index builds: at most one build per project runs
// at a time, content changes made during a build coalesce into one
// follow-up build, and publishes are atomic.
type Manager struct {
	storage      storage.Storage
	builder      *Builder
	logger       *observability.Logger
	tracer       oteltrace.Tracer
	buildTimeout time.Duration
	keepVersions int

	mu       sync.Mutex
	projects map[string]*projectState
	loads    singleflight.Group
}

// NewManager creates a Manager.
func NewManager(store storage.Storage, builder *Builder, logger *observability.Logger) *Manager {
	return &Manager{
		storage:      store,
		builder:      builder,
		logger:       logger,
		tracer:       otel.Tracer("kbai/index"),
		buildTimeout: DefaultBuildTimeout,
		keepVersions: DefaultKeepVersions,
		projects:     make(map[string]*projectState),
	}
}

// ensureState returns the project's build state, loading the published
// pointer from storage on first access.
func (m *Manager) ensureState(ctx context.Context, projectID string) *projectState {
	m.mu.Lock()
	ps, ok := m.projects[projectID]
	if !ok {
		ps = &projectState{
			state:    BuildState{ProjectID: projectID},
			versions: make(map[uint64]*versionData),
		}
		m.projects[projectID] = ps

		if version, err := m.storage.GetIndexPointer(ctx, projectID); err == nil {
			ps.state.CurrentVersion = version
			ps.state.TargetVersion = version
			if meta, err := m.loadMeta(ctx, projectID, version); err == nil {
				ps.fingerprint = meta.Fingerprint
				ps.state.RecordCount = meta.RecordCount
				ps.state.LastBuiltAt = meta.BuiltAt
			}
		}
	}
	m.mu.Unlock()
	return ps
}

func (m *Manager) loadMeta(ctx context.Context, projectID string, version uint64) (*BuildMeta, error) {
	data, err := m.storage.GetIndexArtifact(ctx, projectID, version, api.ArtifactMeta)
	if err != nil {
		return nil, err
	}
	var meta BuildMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse build metadata v%d: %w", version, err)
	}
	return &meta, nil
}

// MarkDirty records a content change and schedules a build. Returns the
// new target version.
func (m *Manager) MarkDirty(ctx context.Context, projectID string) uint64 {
	ps := m.ensureState(ctx, projectID)

	ps.mu.Lock()
	ps.state.TargetVersion++
	target := ps.state.TargetVersion
	ps.dirty = true
	start := !ps.building
	if start {
		ps.building = true
		ps.state.Building = true
	}
	ps.mu.Unlock()

	if start {
		go m.buildLoop(projectID, ps)
	}
	return target
}

// Rebuild schedules a build and blocks until a version covering this
// request has published (or the build fails or ctx is done).
func (m *Manager) Rebuild(ctx context.Context, projectID string) error {
	ps := m.ensureState(ctx, projectID)

	ps.mu.Lock()
	ps.state.TargetVersion++
	target := ps.state.TargetVersion
	ps.dirty = true
	w := buildWaiter{version: target, ch: make(chan error, 1)}
	ps.waiters = append(ps.waiters, w)
	start := !ps.building
	if start {
		ps.building = true
		ps.state.Building = true
	}
	ps.mu.Unlock()

	if start {
		go m.buildLoop(projectID, ps)
	}

	select {
	case err := <-w.ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the project's build state.
func (m *Manager) Status(ctx context.Context, projectID string) BuildState {
	ps := m.ensureState(ctx, projectID)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.state
}

// buildLoop drains the dirty flag, building at most one version at a
// time. It exits once no further changes are pending.
func (m *Manager) buildLoop(projectID string, ps *projectState) {
	defer observability.RecoverPanic(m.logger, "index build loop "+projectID)
	for {
		ps.mu.Lock()
		if !ps.dirty {
			ps.building = false
			ps.state.Building = false
			ps.mu.Unlock()
			return
		}
		ps.dirty = false
		version := ps.state.TargetVersion
		ps.mu.Unlock()

		err := m.buildOnce(projectID, ps, version)

		ps.mu.Lock()
		if err != nil {
			ps.state.LastError = err.Error()
		} else {
			ps.state.LastError = ""
		}
		// A pass that started at target version covers every change
		// requested at or before it, including fingerprint-skip passes.
		var notify []buildWaiter
		var keep []buildWaiter
		for _, w := range ps.waiters {
			if err != nil || w.version <= version {
				notify = append(notify, w)
			} else {
				keep = append(keep, w)
			}
		}
		ps.waiters = keep
		ps.mu.Unlock()

		for _, w := range notify {
			w.ch <- err
		}
		if err != nil {
			m.logger.WithError(err).WithFields(map[string]interface{}{
				"project_id": projectID,
				"version":    version,
			}).Error("index build failed")
		}
	}
}

// buildOnce builds and publishes one version. When the content
// fingerprint matches the published version, the build is skipped and
// only the metadata timestamp refreshes.
func (m *Manager) buildOnce(projectID string, ps *projectState, version uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.buildTimeout)
	defer cancel()

	ctx, span := m.tracer.Start(ctx, "index.build", oteltrace.WithAttributes(
		attribute.String("project.id", projectID),
		attribute.Int64("index.version", int64(version)),
	))
	defer span.End()

	records, err := m.builder.Records(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to collect records: %w", err)
	}

	fingerprint := Fingerprint(records)
	ps.mu.Lock()
	current := ps.state.CurrentVersion
	unchanged := current > 0 && fingerprint == ps.fingerprint
	ps.mu.Unlock()

	if unchanged {
		if err := m.refreshMeta(ctx, projectID, current); err != nil {
			m.logger.WithError(err).WithField("project_id", projectID).
				Warn("failed to refresh build metadata")
		}
		ps.mu.Lock()
		if !ps.dirty {
			ps.state.TargetVersion = ps.state.CurrentVersion
		}
		ps.state.LastBuiltAt = time.Now().UTC()
		ps.mu.Unlock()
		span.SetAttributes(attribute.Bool("index.skipped", true))
		return nil
	}

	meta, err := m.builder.Build(ctx, projectID, version, records)
	if err != nil {
		return err
	}
	if err := m.storage.SetIndexPointer(ctx, projectID, version); err != nil {
		return fmt.Errorf("failed to publish version %d: %w", version, err)
	}

	ps.mu.Lock()
	ps.state.CurrentVersion = version
	ps.state.LastBuiltAt = meta.BuiltAt
	ps.state.RecordCount = meta.RecordCount
	ps.fingerprint = meta.Fingerprint
	ps.mu.Unlock()

	m.logger.WithFields(map[string]interface{}{
		"project_id": projectID,
		"version":    version,
		"records":    meta.RecordCount,
		"has_dense":  meta.HasDense,
	}).Info("index version published")

	m.reclaimProject(ctx, projectID, ps)
	return nil
}

func (m *Manager) refreshMeta(ctx context.Context, projectID string, version uint64) error {
	meta, err := m.loadMeta(ctx, projectID, version)
	if err != nil {
		return err
	}
	meta.BuiltAt = time.Now().UTC()
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal build metadata: %w", err)
	}
	return m.storage.PutIndexArtifact(ctx, projectID, version, api.ArtifactMeta, data)
}

// Snapshot pins the currently published version for reading.
func (m *Manager) Snapshot(ctx context.Context, projectID string) (*Snapshot, error) {
	ps := m.ensureState(ctx, projectID)

	ps.mu.Lock()
	version := ps.state.CurrentVersion
	ps.mu.Unlock()
	if version == 0 {
		return nil, ErrNoIndex
	}

	vd, err := m.loadVersion(ctx, projectID, ps, version)
	if err != nil {
		return nil, err
	}
	vd.refs.Add(1)
	return &Snapshot{
		Version: version,
		Meta:    vd.meta,
		Dense:   vd.dense,
		Sparse:  vd.sparse,
		Basic:   vd.basic,
		data:    vd,
	}, nil
}

// loadVersion returns the in-memory artifacts for a version, loading
// them from storage once even under concurrent readers.
func (m *Manager) loadVersion(ctx context.Context, projectID string, ps *projectState, version uint64) (*versionData, error) {
	ps.mu.Lock()
	if vd, ok := ps.versions[version]; ok {
		ps.mu.Unlock()
		return vd, nil
	}
	ps.mu.Unlock()

	key := fmt.Sprintf("%s/v%d", projectID, version)
	v, err, _ := m.loads.Do(key, func() (interface{}, error) {
		vd, err := m.readVersion(ctx, projectID, version)
		if err != nil {
			return nil, err
		}
		ps.mu.Lock()
		ps.versions[version] = vd
		ps.mu.Unlock()
		return vd, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*versionData), nil
}

func (m *Manager) readVersion(ctx context.Context, projectID string, version uint64) (*versionData, error) {
	meta, err := m.loadMeta(ctx, projectID, version)
	if err != nil {
		return nil, fmt.Errorf("failed to load index v%d: %w", version, err)
	}
	vd := &versionData{meta: meta}

	basicData, err := m.storage.GetIndexArtifact(ctx, projectID, version, api.ArtifactBasic)
	if err != nil {
		return nil, fmt.Errorf("failed to load basic artifact v%d: %w", version, err)
	}
	vd.basic = &BasicArtifact{}
	if err := json.Unmarshal(basicData, vd.basic); err != nil {
		return nil, fmt.Errorf("failed to parse basic artifact v%d: %w", version, err)
	}

	if meta.HasSparse {
		data, err := m.storage.GetIndexArtifact(ctx, projectID, version, api.ArtifactSparse)
		if err != nil {
			return nil, fmt.Errorf("failed to load sparse artifact v%d: %w", version, err)
		}
		vd.sparse = &SparseArtifact{}
		if err := json.Unmarshal(data, vd.sparse); err != nil {
			return nil, fmt.Errorf("failed to parse sparse artifact v%d: %w", version, err)
		}
	}

	if meta.HasDense {
		data, err := m.storage.GetIndexArtifact(ctx, projectID, version, api.ArtifactDense)
		if err != nil {
			return nil, fmt.Errorf("failed to load dense artifact v%d: %w", version, err)
		}
		vd.dense = &DenseArtifact{}
		if err := json.Unmarshal(data, vd.dense); err != nil {
			return nil, fmt.Errorf("failed to parse dense artifact v%d: %w", version, err)
		}
	}
	return vd, nil
}

// reclaimProject removes stored versions beyond the retention window.
// The published version, versions newer than it, and versions still
// pinned by readers are never removed.
func (m *Manager) reclaimProject(ctx context.Context, projectID string, ps *projectState) {
	versions, err := m.storage.ListIndexVersions(ctx, projectID)
	if err != nil {
		m.logger.WithError(err).WithField("project_id", projectID).
			Warn("failed to list index versions for reclamation")
		return
	}

	ps.mu.Lock()
	current := ps.state.CurrentVersion
	pinned := make(map[uint64]bool)
	for v, vd := range ps.versions {
		if vd.refs.Load() > 0 {
			pinned[v] = true
		}
	}
	ps.mu.Unlock()

	if len(versions) <= m.keepVersions {
		return
	}
	for _, v := range versions[:len(versions)-m.keepVersions] {
		if v >= current || pinned[v] {
			continue
		}
		if err := m.storage.DeleteIndexVersion(ctx, projectID, v); err != nil {
			m.logger.WithError(err).WithFields(map[string]interface{}{
				"project_id": projectID,
				"version":    v,
			}).Warn("failed to reclaim index version")
			continue
		}
		ps.mu.Lock()
		delete(ps.versions, v)
		ps.mu.Unlock()
	}
}

// ReclaimAll sweeps the retention window of every known project. Wired
// to the periodic maintenance schedule.
func (m *Manager) ReclaimAll(ctx context.Context) {
	m.mu.Lock()
	states := make(map[string]*projectState, len(m.projects))
	for id, ps := range m.projects {
		states[id] = ps
	}
	m.mu.Unlock()

	for id, ps := range states {
		m.reclaimProject(ctx, id, ps)
	}
}
