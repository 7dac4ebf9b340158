package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/platinummonkey/kbai/pkg/api"
)

// S3Storage stores project state as objects in a bucket, mirroring the
// filesystem layout under an optional key prefix. S3 object writes are
// atomic, which preserves the no-partial-read guarantee.
type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
	mu     sync.RWMutex
}

// NewS3Storage creates an S3 backend from config.
func NewS3Storage(cfg Config) (*S3Storage, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})

	return &S3Storage{
		client: client,
		bucket: cfg.S3Bucket,
		prefix: strings.Trim(cfg.S3Prefix, "/"),
	}, nil
}

func (s *S3Storage) key(parts ...string) string {
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return path.Join(parts...)
}

func (s *S3Storage) projectKey(projectID string, parts ...string) (string, error) {
	if !safeIDPattern.MatchString(projectID) {
		return "", fmt.Errorf("%w: invalid project id %q", api.ErrBadRequest, projectID)
	}
	return s.key(append([]string{"projects", projectID}, parts...)...), nil
}

func (s *S3Storage) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, api.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (s *S3Storage) putObject(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (s *S3Storage) deleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (s *S3Storage) getJSON(ctx context.Context, key string, v interface{}) error {
	data, err := s.getObject(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse object %s: %w", key, err)
	}
	return nil
}

func (s *S3Storage) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal object %s: %w", key, err)
	}
	return s.putObject(ctx, key, data)
}

// ListProjects returns all projects sorted by ID.
func (s *S3Storage) ListProjects(ctx context.Context) ([]*api.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := s.key("projects") + "/"
	var projects []*api.Project
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			id := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			var p api.Project
			if err := s.getJSON(ctx, prefix+id+"/project.json", &p); err != nil {
				continue
			}
			projects = append(projects, &p)
		}
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
	return projects, nil
}

// GetProject returns a project by ID.
func (s *S3Storage) GetProject(ctx context.Context, id string) (*api.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, err := s.projectKey(id, "project.json")
	if err != nil {
		return nil, err
	}
	var p api.Project
	if err := s.getJSON(ctx, key, &p); err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", id, err)
	}
	return &p, nil
}

// PutProject creates or replaces a project.
func (s *S3Storage) PutProject(ctx context.Context, project *api.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.projectKey(project.ID, "project.json")
	if err != nil {
		return err
	}
	return s.putJSON(ctx, key, project)
}

func (s *S3Storage) readFAQs(ctx context.Context, projectID string) ([]*api.FAQ, string, error) {
	key, err := s.projectKey(projectID, "faqs.json")
	if err != nil {
		return nil, "", err
	}
	var faqs []*api.FAQ
	if err := s.getJSON(ctx, key, &faqs); err != nil && !errors.Is(err, api.ErrNotFound) {
		return nil, "", err
	}
	return faqs, key, nil
}

// ListFAQs returns all FAQ records of a project.
func (s *S3Storage) ListFAQs(ctx context.Context, projectID string) ([]*api.FAQ, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	faqs, _, err := s.readFAQs(ctx, projectID)
	return faqs, err
}

// PutFAQs upserts FAQ records by ID.
func (s *S3Storage) PutFAQs(ctx context.Context, projectID string, faqs []*api.FAQ) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, key, err := s.readFAQs(ctx, projectID)
	if err != nil {
		return err
	}
	merged := mergeByID(existing, faqs, func(f *api.FAQ) string { return f.ID })
	return s.putJSON(ctx, key, merged)
}

// DeleteFAQ removes one FAQ record.
func (s *S3Storage) DeleteFAQ(ctx context.Context, projectID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	faqs, key, err := s.readFAQs(ctx, projectID)
	if err != nil {
		return err
	}
	kept, removed := removeByID(faqs, id, func(f *api.FAQ) string { return f.ID })
	if !removed {
		return fmt.Errorf("faq %s: %w", id, api.ErrNotFound)
	}
	return s.putJSON(ctx, key, kept)
}

func (s *S3Storage) readKB(ctx context.Context, projectID string) ([]*api.KBEntry, string, error) {
	key, err := s.projectKey(projectID, "kb.json")
	if err != nil {
		return nil, "", err
	}
	var entries []*api.KBEntry
	if err := s.getJSON(ctx, key, &entries); err != nil && !errors.Is(err, api.ErrNotFound) {
		return nil, "", err
	}
	return entries, key, nil
}

// ListKB returns all KB entries of a project.
func (s *S3Storage) ListKB(ctx context.Context, projectID string) ([]*api.KBEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, _, err := s.readKB(ctx, projectID)
	return entries, err
}

// PutKB upserts KB entries by ID.
func (s *S3Storage) PutKB(ctx context.Context, projectID string, entries []*api.KBEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, key, err := s.readKB(ctx, projectID)
	if err != nil {
		return err
	}
	merged := mergeByID(existing, entries, func(e *api.KBEntry) string { return e.ID })
	return s.putJSON(ctx, key, merged)
}

// DeleteKB removes one KB entry.
func (s *S3Storage) DeleteKB(ctx context.Context, projectID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, key, err := s.readKB(ctx, projectID)
	if err != nil {
		return err
	}
	kept, removed := removeByID(entries, id, func(e *api.KBEntry) string { return e.ID })
	if !removed {
		return fmt.Errorf("kb entry %s: %w", id, api.ErrNotFound)
	}
	return s.putJSON(ctx, key, kept)
}

// PutAttachment stores an attachment blob and its metadata.
func (s *S3Storage) PutAttachment(ctx context.Context, projectID string, att *api.Attachment, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blobKey, err := s.projectKey(projectID, "attachments", att.ID+".bin")
	if err != nil {
		return err
	}
	if err := s.putObject(ctx, blobKey, data); err != nil {
		return err
	}
	metaKey, _ := s.projectKey(projectID, "attachments", att.ID+".json")
	return s.putJSON(ctx, metaKey, att)
}

// GetAttachment returns an attachment's metadata and blob.
func (s *S3Storage) GetAttachment(ctx context.Context, projectID, id string) (*api.Attachment, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metaKey, err := s.projectKey(projectID, "attachments", id+".json")
	if err != nil {
		return nil, nil, err
	}
	var att api.Attachment
	if err := s.getJSON(ctx, metaKey, &att); err != nil {
		return nil, nil, fmt.Errorf("failed to get attachment %s: %w", id, err)
	}
	blobKey, _ := s.projectKey(projectID, "attachments", id+".bin")
	data, err := s.getObject(ctx, blobKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read attachment blob %s: %w", id, err)
	}
	return &att, data, nil
}

// DeleteAttachment removes an attachment blob and metadata.
func (s *S3Storage) DeleteAttachment(ctx context.Context, projectID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metaKey, err := s.projectKey(projectID, "attachments", id+".json")
	if err != nil {
		return err
	}
	if _, err := s.getObject(ctx, metaKey); err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return fmt.Errorf("attachment %s: %w", id, api.ErrNotFound)
		}
		return err
	}
	if err := s.deleteObject(ctx, metaKey); err != nil {
		return err
	}
	blobKey, _ := s.projectKey(projectID, "attachments", id+".bin")
	return s.deleteObject(ctx, blobKey)
}

// PutIndexArtifact stores one artifact under its version prefix.
func (s *S3Storage) PutIndexArtifact(ctx context.Context, projectID string, version uint64, kind api.ArtifactKind, data []byte) error {
	key, err := s.projectKey(projectID, "index", fmt.Sprintf("v%d", version), string(kind)+".json")
	if err != nil {
		return err
	}
	return s.putObject(ctx, key, data)
}

// GetIndexArtifact loads one artifact.
func (s *S3Storage) GetIndexArtifact(ctx context.Context, projectID string, version uint64, kind api.ArtifactKind) ([]byte, error) {
	key, err := s.projectKey(projectID, "index", fmt.Sprintf("v%d", version), string(kind)+".json")
	if err != nil {
		return nil, err
	}
	data, err := s.getObject(ctx, key)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return nil, fmt.Errorf("%s artifact v%d: %w", kind, version, api.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

// ListIndexVersions returns the stored versions sorted ascending.
func (s *S3Storage) ListIndexVersions(ctx context.Context, projectID string) ([]uint64, error) {
	base, err := s.projectKey(projectID, "index")
	if err != nil {
		return nil, err
	}
	prefix := base + "/"
	seen := make(map[uint64]bool)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list index versions: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if !strings.HasPrefix(name, "v") {
				continue
			}
			if v, err := strconv.ParseUint(name[1:], 10, 64); err == nil {
				seen[v] = true
			}
		}
	}
	versions := make([]uint64, 0, len(seen))
	for v := range seen {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// DeleteIndexVersion removes all artifacts of one version.
func (s *S3Storage) DeleteIndexVersion(ctx context.Context, projectID string, version uint64) error {
	base, err := s.projectKey(projectID, "index", fmt.Sprintf("v%d", version))
	if err != nil {
		return err
	}
	for _, kind := range []api.ArtifactKind{api.ArtifactDense, api.ArtifactSparse, api.ArtifactBasic, api.ArtifactMeta} {
		if err := s.deleteObject(ctx, base+"/"+string(kind)+".json"); err != nil {
			return err
		}
	}
	return nil
}

// GetIndexPointer returns the published index version.
func (s *S3Storage) GetIndexPointer(ctx context.Context, projectID string) (uint64, error) {
	key, err := s.projectKey(projectID, "index", "current.json")
	if err != nil {
		return 0, err
	}
	var ptr indexPointer
	if err := s.getJSON(ctx, key, &ptr); err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return 0, fmt.Errorf("index pointer for %s: %w", projectID, api.ErrNotFound)
		}
		return 0, err
	}
	return ptr.Version, nil
}

// SetIndexPointer atomically publishes a version.
func (s *S3Storage) SetIndexPointer(ctx context.Context, projectID string, version uint64) error {
	key, err := s.projectKey(projectID, "index", "current.json")
	if err != nil {
		return err
	}
	return s.putJSON(ctx, key, indexPointer{Version: version})
}

// HealthCheck verifies the bucket is reachable.
func (s *S3Storage) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("s3 bucket %s not reachable: %w", s.bucket, err)
	}
	return nil
}

// Close is a no-op for the S3 backend.
func (s *S3Storage) Close() error { return nil }
