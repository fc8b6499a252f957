package documents

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository interface {
	CreateNode(ctx context.Context, node *Node) error
	GetNode(ctx context.Context, id uuid.UUID) (*Node, error)
	UpdateNode(ctx context.Context, node *Node) error
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]Node, error)
	GetChildByName(ctx context.Context, parentID uuid.UUID, name string) (*Node, error)
	// DeleteNode removes a childless node together with its versions,
	// properties, markers and associations.
	DeleteNode(ctx context.Context, id uuid.UUID) error

	CreateVersion(ctx context.Context, version *NodeVersion) error
	ListVersions(ctx context.Context, nodeID uuid.UUID) ([]NodeVersion, error)

	GetProperty(ctx context.Context, nodeID uuid.UUID, key string) (*NodeProperty, error)
	SetProperty(ctx context.Context, prop *NodeProperty) error
	ListProperties(ctx context.Context, nodeID uuid.UUID) ([]NodeProperty, error)

	HasMarker(ctx context.Context, nodeID uuid.UUID, marker string) (bool, error)
	AddMarker(ctx context.Context, m *NodeMarker) error
	ListMarkers(ctx context.Context, nodeID uuid.UUID) ([]NodeMarker, error)

	CreateAssociation(ctx context.Context, assoc *NodeAssociation) error
	ListAssociations(ctx context.Context, nodeID uuid.UUID) ([]NodeAssociation, error)

	GetPerson(ctx context.Context, userName string) (*Person, error)
	UpsertPerson(ctx context.Context, p *Person) error
}

// Schema creates the tables used by the postgres repository.
const Schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id UUID PRIMARY KEY,
	parent_id UUID REFERENCES nodes(id),
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	media_type TEXT NOT NULL DEFAULT '',
	file_size BIGINT NOT NULL DEFAULT 0,
	s3_key TEXT NOT NULL DEFAULT '',
	s3_bucket TEXT NOT NULL DEFAULT '',
	current_version INT NOT NULL DEFAULT 0,
	owner TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (parent_id, name)
);
CREATE TABLE IF NOT EXISTS node_versions (
	id UUID PRIMARY KEY,
	node_id UUID NOT NULL REFERENCES nodes(id),
	version_number INT NOT NULL,
	s3_key TEXT NOT NULL,
	media_type TEXT NOT NULL DEFAULT '',
	file_size BIGINT NOT NULL DEFAULT 0,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (node_id, version_number)
);
CREATE TABLE IF NOT EXISTS node_properties (
	node_id UUID NOT NULL REFERENCES nodes(id),
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (node_id, key)
);
CREATE TABLE IF NOT EXISTS node_markers (
	node_id UUID NOT NULL REFERENCES nodes(id),
	marker TEXT NOT NULL,
	added_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (node_id, marker)
);
CREATE TABLE IF NOT EXISTS node_associations (
	id UUID PRIMARY KEY,
	source_id UUID NOT NULL REFERENCES nodes(id),
	target_id UUID NOT NULL REFERENCES nodes(id),
	relation TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS people (
	user_name TEXT PRIMARY KEY,
	home_folder_id UUID REFERENCES nodes(id),
	created_at TIMESTAMPTZ NOT NULL
);`

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}

func (r *postgresRepository) CreateNode(ctx context.Context, node *Node) error {
	query := `
		INSERT INTO nodes (
			id, parent_id, name, kind, media_type, file_size, s3_key, s3_bucket,
			current_version, owner, created_at, updated_at
		) VALUES (
			:id, :parent_id, :name, :kind, :media_type, :file_size, :s3_key, :s3_bucket,
			:current_version, :owner, :created_at, :updated_at
		)`
	_, err := r.db.NamedExecContext(ctx, query, node)
	return err
}

func (r *postgresRepository) GetNode(ctx context.Context, id uuid.UUID) (*Node, error) {
	var node Node
	err := r.db.GetContext(ctx, &node, "SELECT * FROM nodes WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (r *postgresRepository) UpdateNode(ctx context.Context, node *Node) error {
	query := `
		UPDATE nodes SET
			name = :name, media_type = :media_type, file_size = :file_size,
			s3_key = :s3_key, s3_bucket = :s3_bucket, current_version = :current_version,
			updated_at = :updated_at
		WHERE id = :id`
	_, err := r.db.NamedExecContext(ctx, query, node)
	return err
}

func (r *postgresRepository) ListChildren(ctx context.Context, parentID uuid.UUID) ([]Node, error) {
	var nodes []Node
	err := r.db.SelectContext(ctx, &nodes, "SELECT * FROM nodes WHERE parent_id = $1 ORDER BY created_at, name", parentID)
	return nodes, err
}

func (r *postgresRepository) GetChildByName(ctx context.Context, parentID uuid.UUID, name string) (*Node, error) {
	var node Node
	err := r.db.GetContext(ctx, &node, "SELECT * FROM nodes WHERE parent_id = $1 AND name = $2", parentID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (r *postgresRepository) DeleteNode(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statements := []string{
		"DELETE FROM node_associations WHERE source_id = $1 OR target_id = $1",
		"DELETE FROM node_markers WHERE node_id = $1",
		"DELETE FROM node_properties WHERE node_id = $1",
		"DELETE FROM node_versions WHERE node_id = $1",
		"DELETE FROM nodes WHERE id = $1",
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *postgresRepository) CreateVersion(ctx context.Context, version *NodeVersion) error {
	query := `
		INSERT INTO node_versions (
			id, node_id, version_number, s3_key, media_type, file_size, created_by, created_at
		) VALUES (
			:id, :node_id, :version_number, :s3_key, :media_type, :file_size, :created_by, :created_at
		)`
	_, err := r.db.NamedExecContext(ctx, query, version)
	return err
}

func (r *postgresRepository) ListVersions(ctx context.Context, nodeID uuid.UUID) ([]NodeVersion, error) {
	var versions []NodeVersion
	err := r.db.SelectContext(ctx, &versions, "SELECT * FROM node_versions WHERE node_id = $1 ORDER BY version_number DESC", nodeID)
	return versions, err
}

func (r *postgresRepository) GetProperty(ctx context.Context, nodeID uuid.UUID, key string) (*NodeProperty, error) {
	var prop NodeProperty
	err := r.db.GetContext(ctx, &prop, "SELECT * FROM node_properties WHERE node_id = $1 AND key = $2", nodeID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prop, nil
}

func (r *postgresRepository) SetProperty(ctx context.Context, prop *NodeProperty) error {
	query := `
		INSERT INTO node_properties (node_id, key, value)
		VALUES (:node_id, :key, :value)
		ON CONFLICT (node_id, key) DO UPDATE SET value = EXCLUDED.value`
	_, err := r.db.NamedExecContext(ctx, query, prop)
	return err
}

func (r *postgresRepository) ListProperties(ctx context.Context, nodeID uuid.UUID) ([]NodeProperty, error) {
	var props []NodeProperty
	err := r.db.SelectContext(ctx, &props, "SELECT * FROM node_properties WHERE node_id = $1 ORDER BY key", nodeID)
	return props, err
}

func (r *postgresRepository) HasMarker(ctx context.Context, nodeID uuid.UUID, marker string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		"SELECT EXISTS (SELECT 1 FROM node_markers WHERE node_id = $1 AND marker = $2)", nodeID, marker)
	return exists, err
}

func (r *postgresRepository) AddMarker(ctx context.Context, m *NodeMarker) error {
	query := `
		INSERT INTO node_markers (node_id, marker, added_at)
		VALUES (:node_id, :marker, :added_at)
		ON CONFLICT (node_id, marker) DO NOTHING`
	_, err := r.db.NamedExecContext(ctx, query, m)
	return err
}

func (r *postgresRepository) ListMarkers(ctx context.Context, nodeID uuid.UUID) ([]NodeMarker, error) {
	var markers []NodeMarker
	err := r.db.SelectContext(ctx, &markers, "SELECT * FROM node_markers WHERE node_id = $1 ORDER BY added_at", nodeID)
	return markers, err
}

func (r *postgresRepository) CreateAssociation(ctx context.Context, assoc *NodeAssociation) error {
	query := `
		INSERT INTO node_associations (id, source_id, target_id, relation, created_at)
		VALUES (:id, :source_id, :target_id, :relation, :created_at)`
	_, err := r.db.NamedExecContext(ctx, query, assoc)
	return err
}

func (r *postgresRepository) ListAssociations(ctx context.Context, nodeID uuid.UUID) ([]NodeAssociation, error) {
	var assocs []NodeAssociation
	err := r.db.SelectContext(ctx, &assocs,
		"SELECT * FROM node_associations WHERE source_id = $1 ORDER BY created_at", nodeID)
	return assocs, err
}

func (r *postgresRepository) GetPerson(ctx context.Context, userName string) (*Person, error) {
	var p Person
	err := r.db.GetContext(ctx, &p, "SELECT * FROM people WHERE user_name = $1", userName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postgresRepository) UpsertPerson(ctx context.Context, p *Person) error {
	query := `
		INSERT INTO people (user_name, home_folder_id, created_at)
		VALUES (:user_name, :home_folder_id, :created_at)
		ON CONFLICT (user_name) DO UPDATE SET home_folder_id = EXCLUDED.home_folder_id`
	_, err := r.db.NamedExecContext(ctx, query, p)
	return err
}
