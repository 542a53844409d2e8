package artifact

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/flowgraph/graphengine/pkg/models"
)

// ListQuery filters List results. All fields are optional; a zero value
// means "no filter on this field."
type ListQuery struct {
	NamespaceID        string
	Tags               []string
	NameContains       string
	PythonTypeContains string
	Limit              int
	Offset             int
}

// MetadataRepository persists Artifact rows. Store drives PrepareUpload and
// Finalize as two atomic transitions against the same row; implementations
// must serialize writes per artifact ID themselves or rely on Store's
// keyed locking (MemoryMetadataRepository relies on the latter).
type MetadataRepository interface {
	Insert(ctx context.Context, a *Artifact) error
	UpdateStatus(ctx context.Context, id string, status Status, storageKey, sha256Hex string, sizeBytes int64) error
	GetByID(ctx context.Context, id string) (*Artifact, error)
	GetByName(ctx context.Context, name string, version int, namespaceID string) (*Artifact, error)
	MaxVersion(ctx context.Context, name, namespaceID string) (int, error)
	List(ctx context.Context, q ListQuery) ([]*Artifact, error)
	SoftDeleteByID(ctx context.Context, id string) error
	SoftDeleteByName(ctx context.Context, name, namespaceID string) error
	HasActiveForRegistration(ctx context.Context, registrationID string) (bool, error)
}

var _ MetadataRepository = (*MemoryMetadataRepository)(nil)

// MemoryMetadataRepository is the in-process reference MetadataRepository,
// grounded on the same mutex-guarded-map shape the filestorage manager uses
// to track its registered storages.
type MemoryMetadataRepository struct {
	mu   sync.RWMutex
	rows map[string]*Artifact
}

// NewMemoryMetadataRepository returns an empty MemoryMetadataRepository.
func NewMemoryMetadataRepository() *MemoryMetadataRepository {
	return &MemoryMetadataRepository{rows: make(map[string]*Artifact)}
}

func (r *MemoryMetadataRepository) Insert(ctx context.Context, a *Artifact) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.rows[a.ID] = &cp
	return nil
}

func (r *MemoryMetadataRepository) UpdateStatus(ctx context.Context, id string, status Status, storageKey, sha256Hex string, sizeBytes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return models.ErrArtifactNotFound
	}
	row.Status = status
	if storageKey != "" {
		row.StorageKey = storageKey
	}
	if sha256Hex != "" {
		row.SHA256 = sha256Hex
	}
	if sizeBytes > 0 {
		row.SizeBytes = sizeBytes
	}
	return nil
}

func (r *MemoryMetadataRepository) GetByID(ctx context.Context, id string) (*Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, models.ErrArtifactNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *MemoryMetadataRepository) GetByName(ctx context.Context, name string, version int, namespaceID string) (*Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Artifact
	for _, row := range r.rows {
		if row.Name != name || row.Status != StatusActive || row.NamespaceID != namespaceID {
			continue
		}
		if version > 0 {
			if row.Version == version {
				cp := *row
				return &cp, nil
			}
			continue
		}
		if best == nil || row.Version > best.Version {
			best = row
		}
	}
	if best == nil {
		return nil, models.ErrArtifactNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *MemoryMetadataRepository) MaxVersion(ctx context.Context, name, namespaceID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	max := 0
	for _, row := range r.rows {
		if row.Name == name && row.NamespaceID == namespaceID && row.Version > max {
			max = row.Version
		}
	}
	return max, nil
}

func (r *MemoryMetadataRepository) List(ctx context.Context, q ListQuery) ([]*Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Artifact
	for _, row := range r.rows {
		if row.Status != StatusActive {
			continue
		}
		if q.NamespaceID != "" && row.NamespaceID != q.NamespaceID {
			continue
		}
		if q.NameContains != "" && !strings.Contains(row.Name, q.NameContains) {
			continue
		}
		if q.PythonTypeContains != "" && !strings.Contains(row.PythonType, q.PythonTypeContains) {
			continue
		}
		if len(q.Tags) > 0 && !hasAllTags(row.Tags, q.Tags) {
			continue
		}
		cp := *row
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name != matched[j].Name {
			return matched[i].Name < matched[j].Name
		}
		return matched[i].Version > matched[j].Version
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (r *MemoryMetadataRepository) SoftDeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return models.ErrArtifactNotFound
	}
	row.Status = StatusDeleted
	return nil
}

func (r *MemoryMetadataRepository) SoftDeleteByName(ctx context.Context, name, namespaceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	for _, row := range r.rows {
		if row.Name == name && row.NamespaceID == namespaceID {
			row.Status = StatusDeleted
			found = true
		}
	}
	if !found {
		return models.ErrArtifactNotFound
	}
	return nil
}

func (r *MemoryMetadataRepository) HasActiveForRegistration(ctx context.Context, registrationID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, row := range r.rows {
		if row.SourceRegistrationID == registrationID && row.Status == StatusActive {
			return true, nil
		}
	}
	return false, nil
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}
