package artifact

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowgraph/graphengine/internal/infrastructure/logger"
	"github.com/flowgraph/graphengine/pkg/models"
)

// UploadTicket is what PrepareUpload hands back to a caller before it has
// written any bytes.
type UploadTicket struct {
	ArtifactID string
	Version    int
	StorageKey string
	UploadPath string
}

// FinalizeResult is what Finalize reports once a pending row transitions to
// active.
type FinalizeResult struct {
	Status     Status
	ArtifactID string
	Version    int
}

// Store is the versioned artifact API: PrepareUpload/Finalize/GetByName/
// GetByID/List/Delete/DeleteNamespaceFlow, backed by a BlobStore for bytes
// and a MetadataRepository for the version ledger.
type Store struct {
	blobs BlobStore
	repo  MetadataRepository
	log   *logger.Logger

	// rowLocks serializes Finalize/Delete per artifact_id, matching
	// the spec's "atomic transitions per (artifact_id)" requirement; a
	// single process-wide mutex would also satisfy it but would needlessly
	// block concurrent uploads of unrelated artifacts.
	mu       sync.Mutex
	rowLocks map[string]*sync.Mutex

	// nameLocks serializes PrepareUpload's next-version read-then-insert
	// per (name, namespaceID) — there is no artifact_id to key rowLocks on
	// until the row itself has been inserted, so two concurrent uploads of
	// the same name would otherwise both observe the same MaxVersion.
	nameLocks map[string]*sync.Mutex
}

// NewStore builds a Store over the given blob and metadata backends.
func NewStore(blobs BlobStore, repo MetadataRepository, log *logger.Logger) *Store {
	return &Store{
		blobs:     blobs,
		repo:      repo,
		log:       log,
		rowLocks:  make(map[string]*sync.Mutex),
		nameLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.rowLocks[id] = l
	}
	return l
}

func (s *Store) nameLockFor(name, namespaceID string) *sync.Mutex {
	key := namespaceID + "\x1f" + name
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.nameLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.nameLocks[key] = l
	}
	return l
}

// PrepareUpload reserves the next version for (name, namespace) and creates
// a pending row. namespaceID is used exactly as given: an empty string is
// stored as an empty namespace (and gives a storage key starting with "/");
// this package does not look up the namespace of sourceRegistrationID.
func (s *Store) PrepareUpload(ctx context.Context, name, sourceRegistrationID string, format Format, namespaceID string, meta Metadata) (*UploadTicket, error) {
	lock := s.nameLockFor(name, namespaceID)
	lock.Lock()
	defer lock.Unlock()

	maxVersion, err := s.repo.MaxVersion(ctx, name, namespaceID)
	if err != nil {
		return nil, fmt.Errorf("artifact: determine next version for %s: %w", name, err)
	}
	version := maxVersion + 1

	id := uuid.New().String()
	storageKey := fmt.Sprintf("%s/%s/v%d", namespaceID, name, version)

	row := &Artifact{
		ID:                   id,
		Name:                 name,
		Version:              version,
		NamespaceID:          namespaceID,
		SourceRegistrationID: sourceRegistrationID,
		Format:               format,
		Metadata:             meta,
		Status:               StatusPending,
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
	}
	if err := s.repo.Insert(ctx, row); err != nil {
		return nil, fmt.Errorf("artifact: insert pending row for %s: %w", name, err)
	}

	if s.log != nil {
		s.log.Info("artifact upload prepared", "artifact_id", id, "name", name, "version", version)
	}

	return &UploadTicket{ArtifactID: id, Version: version, StorageKey: storageKey, UploadPath: storageKey}, nil
}

// Upload writes content to the blob store under the ticket's storage key.
// It does not transition the row; callers must still call Finalize.
func (s *Store) Upload(ctx context.Context, ticket *UploadTicket, content io.Reader) (sizeBytes int64, sha256Hex string, err error) {
	return s.blobs.Put(ctx, ticket.StorageKey, content)
}

// Finalize transitions a pending row to active. It fails if the artifact is
// already active or does not exist.
func (s *Store) Finalize(ctx context.Context, artifactID, storageKey, sha256Hex string, sizeBytes int64) (*FinalizeResult, error) {
	lock := s.lockFor(artifactID)
	lock.Lock()
	defer lock.Unlock()

	row, err := s.repo.GetByID(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if row.Status == StatusActive {
		return nil, fmt.Errorf("artifact: %s is already active: %w", artifactID, models.ErrArtifactConflict)
	}

	if err := s.repo.UpdateStatus(ctx, artifactID, StatusActive, storageKey, sha256Hex, sizeBytes); err != nil {
		return nil, fmt.Errorf("artifact: finalize %s: %w", artifactID, err)
	}

	if s.log != nil {
		s.log.Info("artifact finalized", "artifact_id", artifactID, "version", row.Version)
	}

	return &FinalizeResult{Status: StatusActive, ArtifactID: artifactID, Version: row.Version}, nil
}

// GetByName returns the latest active version of name, or a specific
// version when version > 0.
func (s *Store) GetByName(ctx context.Context, name string, version int, namespaceID string) (*Artifact, error) {
	return s.repo.GetByName(ctx, name, version, namespaceID)
}

// GetByID returns a single artifact row regardless of status.
func (s *Store) GetByID(ctx context.Context, artifactID string) (*Artifact, error) {
	return s.repo.GetByID(ctx, artifactID)
}

// OpenBlob streams an active artifact's content.
func (s *Store) OpenBlob(ctx context.Context, artifactID string) (io.ReadCloser, error) {
	row, err := s.repo.GetByID(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if row.Status != StatusActive {
		return nil, fmt.Errorf("artifact: %s is not active: %w", artifactID, models.ErrArtifactNotFound)
	}
	return s.blobs.Get(ctx, row.StorageKey)
}

// List returns active artifacts matching q.
func (s *Store) List(ctx context.Context, q ListQuery) ([]*Artifact, error) {
	return s.repo.List(ctx, q)
}

// Delete soft-deletes a single version by ID.
func (s *Store) Delete(ctx context.Context, artifactID string) error {
	lock := s.lockFor(artifactID)
	lock.Lock()
	defer lock.Unlock()
	return s.repo.SoftDeleteByID(ctx, artifactID)
}

// DeleteByName soft-deletes every version of name in namespaceID.
func (s *Store) DeleteByName(ctx context.Context, name, namespaceID string) error {
	return s.repo.SoftDeleteByName(ctx, name, namespaceID)
}

// DeleteNamespaceFlow refuses to proceed while any active artifact still
// references registrationID; callers must delete those artifacts first.
func (s *Store) DeleteNamespaceFlow(ctx context.Context, registrationID string) error {
	active, err := s.repo.HasActiveForRegistration(ctx, registrationID)
	if err != nil {
		return err
	}
	if active {
		return fmt.Errorf("artifact: registration %s still has active artifacts: %w", registrationID, models.ErrArtifactConflict)
	}
	return nil
}
