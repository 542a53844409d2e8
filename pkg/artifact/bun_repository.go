package artifact

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/flowgraph/graphengine/pkg/models"
)

// artifactModel is the bun-mapped Postgres row behind an Artifact, shaped
// the way the teacher's storage models map domain types: a bun.BaseModel
// with a table/alias tag, typed columns, and jsonb/array columns for the
// free-form fields.
type artifactModel struct {
	bun.BaseModel `bun:"table:artifacts,alias:art"`

	ID                   uuid.UUID      `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	Name                 string         `bun:"name,notnull"`
	Version              int            `bun:"version,notnull"`
	NamespaceID          string         `bun:"namespace_id,notnull,default:''"`
	SourceRegistrationID string         `bun:"source_registration_id,notnull,default:''"`
	SourceNodeID         string         `bun:"source_node_id,notnull,default:''"`
	Format               string         `bun:"format,notnull"`
	StorageKey           string         `bun:"storage_key,notnull,default:''"`
	SHA256               string         `bun:"sha256,notnull,default:''"`
	SizeBytes            int64          `bun:"size_bytes,notnull,default:0"`
	PythonType           string         `bun:"python_type,notnull,default:''"`
	Description          string         `bun:"description,notnull,default:''"`
	Tags                 stringArray    `bun:"tags,type:text[],default:'{}'"`
	Metadata             jsonbMap       `bun:"metadata,type:jsonb,default:'{}'"`
	Status               string         `bun:"status,notnull,default:'pending'"`
	CreatedAt            time.Time      `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt            time.Time      `bun:"updated_at,notnull,default:current_timestamp"`
}

func (artifactModel) TableName() string { return "artifacts" }

func fromModel(m *artifactModel) *Artifact {
	return &Artifact{
		ID:                   m.ID.String(),
		Name:                 m.Name,
		Version:              m.Version,
		NamespaceID:          m.NamespaceID,
		SourceRegistrationID: m.SourceRegistrationID,
		SourceNodeID:         m.SourceNodeID,
		Format:               Format(m.Format),
		StorageKey:           m.StorageKey,
		SHA256:               m.SHA256,
		SizeBytes:            m.SizeBytes,
		PythonType:           m.PythonType,
		Description:          m.Description,
		Tags:                 []string(m.Tags),
		Metadata:             Metadata(m.Metadata),
		Status:               Status(m.Status),
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

var _ MetadataRepository = (*BunMetadataRepository)(nil)

// BunMetadataRepository is the Postgres-backed MetadataRepository, used in
// place of MemoryMetadataRepository once a real database is configured.
type BunMetadataRepository struct {
	db *bun.DB
}

// NewBunMetadataRepository wraps an existing bun.DB connection.
func NewBunMetadataRepository(db *bun.DB) *BunMetadataRepository {
	return &BunMetadataRepository{db: db}
}

func (r *BunMetadataRepository) Insert(ctx context.Context, a *Artifact) error {
	id := uuid.New()
	if a.ID != "" {
		parsed, err := uuid.Parse(a.ID)
		if err != nil {
			return fmt.Errorf("artifact: invalid id %q: %w", a.ID, err)
		}
		id = parsed
	}

	m := &artifactModel{
		ID:                   id,
		Name:                 a.Name,
		Version:              a.Version,
		NamespaceID:          a.NamespaceID,
		SourceRegistrationID: a.SourceRegistrationID,
		SourceNodeID:         a.SourceNodeID,
		Format:               string(a.Format),
		PythonType:           a.PythonType,
		Description:          a.Description,
		Tags:                 stringArray(a.Tags),
		Metadata:             jsonbMap(a.Metadata),
		Status:               string(a.Status),
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
	}

	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("artifact: insert %s: %w", a.Name, err)
	}
	a.ID = id.String()
	return nil
}

func (r *BunMetadataRepository) UpdateStatus(ctx context.Context, id string, status Status, storageKey, sha256Hex string, sizeBytes int64) error {
	artifactID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("artifact: invalid id %q: %w", id, err)
	}

	q := r.db.NewUpdate().
		Model((*artifactModel)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", artifactID)
	if storageKey != "" {
		q = q.Set("storage_key = ?", storageKey)
	}
	if sha256Hex != "" {
		q = q.Set("sha256 = ?", sha256Hex)
	}
	if sizeBytes > 0 {
		q = q.Set("size_bytes = ?", sizeBytes)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("artifact: update status for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrArtifactNotFound
	}
	return nil
}

func (r *BunMetadataRepository) GetByID(ctx context.Context, id string) (*Artifact, error) {
	artifactID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("artifact: invalid id %q: %w", id, err)
	}

	m := new(artifactModel)
	err = r.db.NewSelect().Model(m).Where("art.id = ?", artifactID).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrArtifactNotFound
		}
		return nil, err
	}
	return fromModel(m), nil
}

func (r *BunMetadataRepository) GetByName(ctx context.Context, name string, version int, namespaceID string) (*Artifact, error) {
	m := new(artifactModel)
	q := r.db.NewSelect().
		Model(m).
		Where("art.name = ? AND art.namespace_id = ? AND art.status = ?", name, namespaceID, string(StatusActive))

	if version > 0 {
		q = q.Where("art.version = ?", version)
	} else {
		q = q.Order("art.version DESC").Limit(1)
	}

	if err := q.Scan(ctx); err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrArtifactNotFound
		}
		return nil, err
	}
	return fromModel(m), nil
}

func (r *BunMetadataRepository) MaxVersion(ctx context.Context, name, namespaceID string) (int, error) {
	var max int
	err := r.db.NewSelect().
		Model((*artifactModel)(nil)).
		ColumnExpr("COALESCE(MAX(version), 0)").
		Where("name = ? AND namespace_id = ?", name, namespaceID).
		Scan(ctx, &max)
	if err != nil {
		return 0, err
	}
	return max, nil
}

func (r *BunMetadataRepository) List(ctx context.Context, q ListQuery) ([]*Artifact, error) {
	var rows []*artifactModel
	query := r.db.NewSelect().
		Model(&rows).
		Where("art.status = ?", string(StatusActive)).
		Order("art.name ASC", "art.version DESC")

	if q.NamespaceID != "" {
		query = query.Where("art.namespace_id = ?", q.NamespaceID)
	}
	if q.NameContains != "" {
		query = query.Where("art.name LIKE ?", "%"+q.NameContains+"%")
	}
	if q.PythonTypeContains != "" {
		query = query.Where("art.python_type LIKE ?", "%"+q.PythonTypeContains+"%")
	}
	for _, tag := range q.Tags {
		query = query.Where("art.tags @> ?", stringArray{tag})
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}

	if err := query.Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]*Artifact, 0, len(rows))
	for _, m := range rows {
		out = append(out, fromModel(m))
	}
	return out, nil
}

func (r *BunMetadataRepository) SoftDeleteByID(ctx context.Context, id string) error {
	artifactID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("artifact: invalid id %q: %w", id, err)
	}
	res, err := r.db.NewUpdate().
		Model((*artifactModel)(nil)).
		Set("status = ?", string(StatusDeleted)).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", artifactID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrArtifactNotFound
	}
	return nil
}

func (r *BunMetadataRepository) SoftDeleteByName(ctx context.Context, name, namespaceID string) error {
	res, err := r.db.NewUpdate().
		Model((*artifactModel)(nil)).
		Set("status = ?", string(StatusDeleted)).
		Set("updated_at = ?", time.Now()).
		Where("name = ? AND namespace_id = ?", name, namespaceID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrArtifactNotFound
	}
	return nil
}

func (r *BunMetadataRepository) HasActiveForRegistration(ctx context.Context, registrationID string) (bool, error) {
	count, err := r.db.NewSelect().
		Model((*artifactModel)(nil)).
		Where("source_registration_id = ? AND status = ?", registrationID, string(StatusActive)).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
