package db

import (
	"encoding/json"
	"time"
)

// ArticleFingerprint maps rassegna.article_fingerprints, one row per
// registered article. FingerprintID is sha256(canonical_url|normalized_title).
type ArticleFingerprint struct {
	FingerprintID   string    `gorm:"column:fingerprint_id;type:text;primaryKey"`
	CanonicalURL    string    `gorm:"column:canonical_url;type:text;not null"`
	NormalizedTitle string    `gorm:"column:normalized_title;type:text;not null"`
	TitleHash       string    `gorm:"column:title_hash;type:text;not null"`
	BodyHash        *string   `gorm:"column:body_hash;type:text"`
	PublishedID     *int64    `gorm:"column:published_id;type:bigint"`
	CreatedAt       time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (ArticleFingerprint) TableName() string { return "rassegna.article_fingerprints" }

// SeenURL maps rassegna.seen_urls, the pre-canonicalization URL ledger.
type SeenURL struct {
	URLHash     string    `gorm:"column:url_hash;type:text;primaryKey"`
	URL         string    `gorm:"column:url;type:text;not null;unique"`
	FirstSeenAt time.Time `gorm:"column:first_seen_at;type:timestamptz;not null"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;type:timestamptz;not null"`
	Processed   bool      `gorm:"column:processed;type:boolean;not null;default:false"`
}

func (SeenURL) TableName() string { return "rassegna.seen_urls" }

// PipelineRun maps rassegna.pipeline_runs, one report row per completed run.
type PipelineRun struct {
	RunID           string     `gorm:"column:run_id;type:text;primaryKey"`
	TotalCandidates int        `gorm:"column:total_candidates;type:integer;not null;default:0"`
	Processed       int        `gorm:"column:processed;type:integer;not null;default:0"`
	Created         int        `gorm:"column:created;type:integer;not null;default:0"`
	Skipped         int        `gorm:"column:skipped;type:integer;not null;default:0"`
	Failed          int        `gorm:"column:failed;type:integer;not null;default:0"`
	StartedAt       time.Time  `gorm:"column:started_at;type:timestamptz;not null"`
	CompletedAt     *time.Time `gorm:"column:completed_at;type:timestamptz"`
}

func (PipelineRun) TableName() string { return "rassegna.pipeline_runs" }

// StateSnapshot maps rassegna.state_snapshots: single-row JSONB documents
// overwritten in place, keyed by name ("pipeline" and "monitor").
type StateSnapshot struct {
	Name      string          `gorm:"column:name;type:text;primaryKey"`
	Snapshot  json.RawMessage `gorm:"column:snapshot;type:jsonb;not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (StateSnapshot) TableName() string { return "rassegna.state_snapshots" }

// RewriteSnapshot maps rassegna.rewrite_snapshots, the side-record persisted
// for every rewritten article before the quality-gate branch.
type RewriteSnapshot struct {
	SnapshotID  int64           `gorm:"column:snapshot_id;primaryKey;autoIncrement"`
	URL         string          `gorm:"column:url;type:text;not null"`
	SourceName  string          `gorm:"column:source_name;type:text;not null;default:''"`
	Original    json.RawMessage `gorm:"column:original;type:jsonb;not null"`
	Rewritten   json.RawMessage `gorm:"column:rewritten;type:jsonb;not null"`
	Verdict     json.RawMessage `gorm:"column:verdict;type:jsonb"`
	ProcessedAt time.Time       `gorm:"column:processed_at;type:timestamptz;not null"`
}

func (RewriteSnapshot) TableName() string { return "rassegna.rewrite_snapshots" }

func autoMigrateModels() []any {
	return []any{
		&ArticleFingerprint{},
		&SeenURL{},
		&PipelineRun{},
		&StateSnapshot{},
		&RewriteSnapshot{},
	}
}
