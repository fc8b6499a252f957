package documents

import (
	"time"

	"github.com/google/uuid"
)

type NodeKind string

const (
	KindFolder  NodeKind = "folder"
	KindContent NodeKind = "content"
)

type Node struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	ParentID       *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	Name           string     `json:"name" db:"name"`
	Kind           NodeKind   `json:"kind" db:"kind"`
	MediaType      string     `json:"media_type" db:"media_type"`
	FileSize       int64      `json:"file_size" db:"file_size"`
	S3Key          string     `json:"s3_key" db:"s3_key"`
	S3Bucket       string     `json:"s3_bucket" db:"s3_bucket"`
	CurrentVersion int        `json:"current_version" db:"current_version"`
	Owner          string     `json:"owner" db:"owner"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

type NodeVersion struct {
	ID            uuid.UUID `json:"id" db:"id"`
	NodeID        uuid.UUID `json:"node_id" db:"node_id"`
	VersionNumber int       `json:"version_number" db:"version_number"`
	S3Key         string    `json:"s3_key" db:"s3_key"`
	MediaType     string    `json:"media_type" db:"media_type"`
	FileSize      int64     `json:"file_size" db:"file_size"`
	CreatedBy     string    `json:"created_by" db:"created_by"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

type NodeProperty struct {
	NodeID uuid.UUID `json:"node_id" db:"node_id"`
	Key    string    `json:"key" db:"key"`
	Value  string    `json:"value" db:"value"`
}

type NodeMarker struct {
	NodeID  uuid.UUID `json:"node_id" db:"node_id"`
	Marker  string    `json:"marker" db:"marker"`
	AddedAt time.Time `json:"added_at" db:"added_at"`
}

// NodeAssociation is a directed, typed link between two nodes.
type NodeAssociation struct {
	ID        uuid.UUID `json:"id" db:"id"`
	SourceID  uuid.UUID `json:"source_id" db:"source_id"`
	TargetID  uuid.UUID `json:"target_id" db:"target_id"`
	Relation  string    `json:"relation" db:"relation"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Person struct {
	UserName     string     `json:"user_name" db:"user_name"`
	HomeFolderID *uuid.UUID `json:"home_folder_id,omitempty" db:"home_folder_id"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// NodeMetadata is the metadata view returned by the HTTP API.
type NodeMetadata struct {
	Node       *Node             `json:"node"`
	Properties map[string]string `json:"properties"`
	Markers    []string          `json:"markers"`
}
