// Package storage provides persistence backends for projects, knowledge
// base content, attachments and index artifacts.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/kbai/pkg/api"
)

// Storage persists all per-project state. Content writes are atomic at
// the file level: readers never observe a partially written collection
// or artifact.
type Storage interface {
	// Projects
	ListProjects(ctx context.Context) ([]*api.Project, error)
	GetProject(ctx context.Context, id string) (*api.Project, error)
	PutProject(ctx context.Context, project *api.Project) error

	// FAQs. Put upserts by ID.
	ListFAQs(ctx context.Context, projectID string) ([]*api.FAQ, error)
	PutFAQs(ctx context.Context, projectID string, faqs []*api.FAQ) error
	DeleteFAQ(ctx context.Context, projectID, id string) error

	// KB entries. Put upserts by ID.
	ListKB(ctx context.Context, projectID string) ([]*api.KBEntry, error)
	PutKB(ctx context.Context, projectID string, entries []*api.KBEntry) error
	DeleteKB(ctx context.Context, projectID, id string) error

	// Attachments (uploaded document originals).
	PutAttachment(ctx context.Context, projectID string, att *api.Attachment, data []byte) error
	GetAttachment(ctx context.Context, projectID, id string) (*api.Attachment, []byte, error)
	DeleteAttachment(ctx context.Context, projectID, id string) error

	// Index artifacts, addressed by (project, version, kind).
	PutIndexArtifact(ctx context.Context, projectID string, version uint64, kind api.ArtifactKind, data []byte) error
	GetIndexArtifact(ctx context.Context, projectID string, version uint64, kind api.ArtifactKind) ([]byte, error)
	ListIndexVersions(ctx context.Context, projectID string) ([]uint64, error)
	DeleteIndexVersion(ctx context.Context, projectID string, version uint64) error

	// Index pointer: the currently published version. Set is atomic.
	GetIndexPointer(ctx context.Context, projectID string) (uint64, error)
	SetIndexPointer(ctx context.Context, projectID string, version uint64) error

	// HealthCheck verifies the backend is reachable and writable.
	HealthCheck(ctx context.Context) error

	Close() error
}

// Config holds storage backend configuration.
type Config struct {
	// Type selects the backend: "filesystem" or "s3".
	Type string

	// Filesystem config
	FilesystemRoot string

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3Prefix       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	S3Timeout      time.Duration
}

// DefaultConfig returns a filesystem configuration rooted at ./data.
func DefaultConfig() Config {
	return Config{
		Type:           "filesystem",
		FilesystemRoot: "./data",
		S3Region:       "us-east-1",
		S3Timeout:      30 * time.Second,
	}
}

// NewStorage creates a storage backend from config.
func NewStorage(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "filesystem":
		return NewFilesystemStorage(cfg.FilesystemRoot)
	case "s3":
		return NewS3Storage(cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
