package db

import (
	"encoding/json"
	"time"
)

// Record maps media.records, the canonical record table. Query code scans
// rows by hand; these structs exist for schema migration.
type Record struct {
	RecordID           int64           `gorm:"column:record_id;primaryKey;autoIncrement"`
	RecordUUID         string          `gorm:"column:record_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	IdentityKey        string          `gorm:"column:identity_key;type:text;not null;unique"`
	ContentKey         string          `gorm:"column:content_key;type:text;not null"`
	Platform           string          `gorm:"column:platform;type:media.platform;not null"`
	SourceType         string          `gorm:"column:source_type;type:media.source_type;not null"`
	Publisher          string          `gorm:"column:publisher;type:text;not null;default:''"`
	URL                string          `gorm:"column:url;type:text;not null"`
	CanonicalURL       string          `gorm:"column:canonical_url;type:text;not null"`
	Title              string          `gorm:"column:title;type:text;not null;default:''"`
	Summary            string          `gorm:"column:summary;type:text;not null;default:''"`
	FullText           string          `gorm:"column:full_text;type:text;not null;default:''"`
	PublishedAt        *time.Time      `gorm:"column:published_at;type:timestamptz"`
	IngestedAt         time.Time       `gorm:"column:ingested_at;type:timestamptz;not null"`
	RawPayload         json.RawMessage `gorm:"column:raw_payload;type:jsonb;not null"`
	DuplicateOf        *string         `gorm:"column:duplicate_of;type:text"`
	EnrichmentState    string          `gorm:"column:enrichment_state;type:media.enrichment_state;not null;default:pending"`
	EnrichmentAttempts int             `gorm:"column:enrichment_attempts;type:integer;not null;default:0"`
	EnrichedAt         *time.Time      `gorm:"column:enriched_at;type:timestamptz"`
	Topics             json.RawMessage `gorm:"column:topics;type:jsonb;not null;default:'[]'"`
	Actors             json.RawMessage `gorm:"column:actors;type:jsonb;not null;default:'[]'"`
	Locations          json.RawMessage `gorm:"column:locations;type:jsonb;not null;default:'[]'"`
	Language           string          `gorm:"column:language;type:text;not null;default:''"`
	Sentiment          string          `gorm:"column:sentiment;type:text;not null;default:''"`
	IsEditorial        *bool           `gorm:"column:is_editorial;type:boolean"`
	CreatedAt          time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Record) TableName() string { return "media.records" }

// IngestRun maps media.ingest_runs.
type IngestRun struct {
	RunID                 int64      `gorm:"column:run_id;primaryKey;autoIncrement"`
	RunUUID               string     `gorm:"column:run_uuid;type:uuid;not null;unique"`
	Scope                 string     `gorm:"column:scope;type:text;not null;default:''"`
	StartedAt             time.Time  `gorm:"column:started_at;type:timestamptz;not null"`
	FinishedAt            *time.Time `gorm:"column:finished_at;type:timestamptz"`
	Status                string     `gorm:"column:status;type:media.ingest_run_status;not null;default:running"`
	Fetched               int        `gorm:"column:fetched;type:integer;not null;default:0"`
	Normalized            int        `gorm:"column:normalized;type:integer;not null;default:0"`
	Inserted              int        `gorm:"column:inserted;type:integer;not null;default:0"`
	Updated               int        `gorm:"column:updated;type:integer;not null;default:0"`
	Duplicates            int        `gorm:"column:duplicates;type:integer;not null;default:0"`
	NormalizationFailures int        `gorm:"column:normalization_failures;type:integer;not null;default:0"`
	SourceFailures        int        `gorm:"column:source_failures;type:integer;not null;default:0"`
	ErrorMessage          *string    `gorm:"column:error_message;type:text"`
	CreatedAt             time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (IngestRun) TableName() string { return "media.ingest_runs" }

func autoMigrateModels() []any {
	return []any{
		&Record{},
		&IngestRun{},
	}
}
