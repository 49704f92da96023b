// Package domain defines the persistent entities of the knowledge base and
// the error kinds that cross component boundaries.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// DocType is the coarse file-format classification of a document.
type DocType string

const (
	DocTypeWord        DocType = "word"
	DocTypeSpreadsheet DocType = "spreadsheet"
	DocTypeSlides      DocType = "slides"
	DocTypePDF         DocType = "pdf"
	DocTypeHWP         DocType = "hwp"
	DocTypeHWPX        DocType = "hwpx"
	DocTypeText        DocType = "text"
	DocTypeCSV         DocType = "csv"
	DocTypeImage       DocType = "image"
	DocTypeOther       DocType = "other"
)

// DocCategory is the functional classification of a document.
type DocCategory string

const (
	CategoryMeeting DocCategory = "meeting_document"
	CategoryWork    DocCategory = "work_document"
	CategoryOther   DocCategory = "other_document"
)

// MeetingSubtype refines meeting documents. Ordered by reliability:
// a result sheet records what was actually decided, minutes record what was
// said, an agenda sheet only records what was planned.
type MeetingSubtype string

const (
	SubtypeAgenda  MeetingSubtype = "agenda"
	SubtypeMinutes MeetingSubtype = "minutes"
	SubtypeResult  MeetingSubtype = "result"
)

// Confidence returns the tie-break ordering of a subtype (higher wins).
func (s MeetingSubtype) Confidence() int {
	switch s {
	case SubtypeResult:
		return 3
	case SubtypeMinutes:
		return 2
	case SubtypeAgenda:
		return 1
	default:
		return 0
	}
}

// DocStatus is the pipeline lifecycle state of a document.
type DocStatus string

const (
	StatusPending    DocStatus = "pending"
	StatusProcessing DocStatus = "processing"
	StatusCompleted  DocStatus = "completed"
	StatusFailed     DocStatus = "failed"
)

// Pipeline step numbers. A document's CurrentStep records the last
// successfully completed stage.
const (
	StepNone       = 0
	StepIngest     = 1
	StepClassify   = 2
	StepParse      = 3
	StepPreprocess = 4
	StepChunk      = 5
	StepEnrich     = 6
	StepEmbed      = 7
)

// Access levels. Smaller is more restricted; a caller with user level L may
// read chunks whose access level is >= L.
const (
	AccessRestricted = 1
	AccessInternal   = 2
	AccessMembers    = 3
	AccessPublic     = 4
)

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventPlanned    EventStatus = "planned"
	EventInProgress EventStatus = "in_progress"
	EventCompleted  EventStatus = "completed"
	EventCancelled  EventStatus = "cancelled"
)

// Event is a logical happening (a festival, a council meeting series) to
// which chunks are mapped N:M. Events are created on first reference by
// enrichment and never deleted.
type Event struct {
	ID         uuid.UUID
	Title      string
	Year       *int
	EventDate  *time.Time
	StartDate  *time.Time
	EndDate    *time.Time
	Category   string
	Department string
	Status     EventStatus

	// Aggregates maintained by enrichment.
	ChunkTimeline  []byte // JSON: per-meeting chunk ordering
	Decisions      []byte // JSON: decision summaries
	ActionItems    []byte // JSON
	ParentChunkIDs []uuid.UUID
	ChildChunkIDs  []uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Document is a single file known to the system.
type Document struct {
	ID      uuid.UUID
	EventID *uuid.UUID // informational; chunk-level mapping is authoritative
	DriveID *string    // unique when present

	Name             string // real file name from the drive
	StandardizedName string // produced by classification
	Path             string
	MIMEType         string
	OriginalURL      *string // blob-store URL of the original bytes

	DocType        DocType
	Category       DocCategory
	MeetingSubtype *MeetingSubtype
	AccessLevel    int
	Department     string
	Year           *int
	TimeDecayDate  *time.Time

	Status      DocStatus
	CurrentStep int

	RawContent          string
	ParsedContent       string
	PreprocessedContent string

	Metadata     []byte // free-form JSON
	ErrorMessage *string
	ProcessedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChunkType is the content kind of a chunk.
type ChunkType string

const (
	ChunkText         ChunkType = "text"
	ChunkTable        ChunkType = "table"
	ChunkImageCaption ChunkType = "image_caption"
)

// Chunk is a unit of retrieval. Parents carry a full agenda-item section;
// children are the embeddable windows cut from it. Invariant: IsParent holds
// exactly when ParentChunkID is nil, and children copy the full parent text
// into ParentContent at insert time.
type Chunk struct {
	ID            uuid.UUID
	DocumentID    uuid.UUID
	ParentChunkID *uuid.UUID

	RelatedEventID     *uuid.UUID
	InferredEventTitle string

	IsParent      bool
	ChunkIndex    int
	ChunkType     ChunkType
	Content       string
	ParentContent string
	SectionHeader string

	Embedding   []float32 // empty until the embed stage runs; children only
	AccessLevel int
	Metadata    []byte
	TokenCount  int
	StartChar   int
	EndChar     int

	CreatedAt time.Time
}

// Reference is a link-only record for sources that must never be parsed or
// embedded (online forms, PII-bearing sheets).
type Reference struct {
	ID          uuid.UUID
	EventID     *uuid.UUID
	Description string
	URL         string
	FileType    string
	FileName    string
	AccessLevel int
	CreatedAt   time.Time
}

// ChatLog is one persisted conversational turn, append-only for analytics.
type ChatLog struct {
	ID             uuid.UUID
	SessionID      string
	UserLevel      int
	Query          string
	RewrittenQuery string
	Response       string
	Chunks         []byte // JSON snapshot of retrieved chunks
	Sources        []byte // JSON source citations
	TurnIndex      int

	RetrievalMillis  int64
	GenerationMillis int64
	TotalMillis      int64

	CreatedAt time.Time
}
