package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FileKind string

const (
	FileSceneVideo    FileKind = "scene_video"
	FileCombinedVideo FileKind = "combined_video"
	FileThumbnail     FileKind = "thumbnail"
	FileSceneCode     FileKind = "scene_code"
	FileAsset         FileKind = "asset"
)

// FileMetadata records one artifact produced by a job. Invariant: at least
// one of Bucket+ObjectKey or LocalPath is set.
type FileMetadata struct {
	FileID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"file_id"`
	OwnerUserID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	JobID          *uuid.UUID     `gorm:"type:uuid;column:job_id;index" json:"job_id,omitempty"`
	Kind           FileKind       `gorm:"column:kind;not null;index" json:"kind"`
	Bucket         *string        `gorm:"column:bucket" json:"bucket,omitempty"`
	ObjectKey      *string        `gorm:"column:object_key" json:"object_key,omitempty"`
	LocalPath      *string        `gorm:"column:local_path" json:"local_path,omitempty"`
	SizeBytes      int64          `gorm:"column:size_bytes;not null" json:"size_bytes"`
	ContentType    string         `gorm:"column:content_type;not null" json:"content_type"`
	ChecksumSHA256 string         `gorm:"column:checksum_sha256;not null" json:"checksum_sha256"`
	VersionID      *string        `gorm:"column:version_id" json:"version_id,omitempty"`
	LogicalName    string         `gorm:"column:logical_name;not null;index" json:"logical_name"`
	// DurationSeconds is set for scene_video/combined_video kinds so
	// GET /videos/jobs/{job_id}/video-url can report duration without
	// re-probing a file that may already be local-backend-deleted after
	// upload.
	DurationSeconds *float64       `gorm:"column:duration_seconds" json:"duration_seconds,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (FileMetadata) TableName() string { return "file_metadata" }
