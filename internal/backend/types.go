package backend

import (
	"errors"
	"io"
)

// ErrUnknownAction is returned by Generate for an action outside the studio set.
var ErrUnknownAction = errors.New("unknown studio action")

// UploadFile is a file handle the facade can stream to the backend.
type UploadFile interface {
	Name() string
	MediaType() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// UploadResult mirrors the JSON returned by POST /api/v1/upload.
type UploadResult struct {
	Message       string `json:"message"`
	Filename      string `json:"filename"`
	DocID         string `json:"doc_id"`
	ChunksCreated int    `json:"chunks_created"`
}

// Document is one entry of GET /api/v1/documents.
type Document struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	UploadDate string `json:"upload_date"`
	Chunks     int    `json:"chunks"`
	Size       *int64 `json:"size,omitempty"`
}

type documentList struct {
	Documents []Document `json:"documents"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// QueryRequest is the JSON body for POST /api/v1/query.
type QueryRequest struct {
	Query string `json:"query"`
	DocID string `json:"doc_id,omitempty"`
	TopK  int    `json:"top_k,omitempty"`
}

// Source is a citation attached to a query answer.
type Source struct {
	Page    *int     `json:"page,omitempty"`
	ChunkID string   `json:"chunk_id,omitempty"`
	Content string   `json:"content"`
	Score   *float64 `json:"score,omitempty"`
}

// QueryResponse mirrors the JSON returned by POST /api/v1/query.
type QueryResponse struct {
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	ProcessingTime *float64 `json:"processing_time,omitempty"`
}

// StudioAction is one of the fixed generation kinds.
type StudioAction string

const (
	ActionAudio      StudioAction = "audio"
	ActionVideo      StudioAction = "video"
	ActionBriefing   StudioAction = "briefing"
	ActionStudyGuide StudioAction = "study_guide"
)

// StudioActions lists every supported action in display order.
var StudioActions = []StudioAction{ActionAudio, ActionVideo, ActionBriefing, ActionStudyGuide}

// Valid reports whether a is a supported studio action.
func (a StudioAction) Valid() bool {
	for _, s := range StudioActions {
		if a == s {
			return true
		}
	}
	return false
}

// StudioStatus is the outcome reported by POST /api/v1/studio.
type StudioStatus string

const (
	StudioSuccess    StudioStatus = "success"
	StudioProcessing StudioStatus = "processing"
	StudioError      StudioStatus = "error"
)

type studioRequest struct {
	Action  StudioAction   `json:"action"`
	DocID   string         `json:"doc_id"`
	Options map[string]any `json:"options,omitempty"`
}

// StudioResult is the generated payload: a download URL or inline content.
type StudioResult struct {
	URL     string `json:"url,omitempty"`
	Content string `json:"content,omitempty"`
	Format  string `json:"format,omitempty"`
}

// StudioResponse mirrors the JSON returned by POST /api/v1/studio.
type StudioResponse struct {
	Status  StudioStatus  `json:"status"`
	Result  *StudioResult `json:"result,omitempty"`
	Message string        `json:"message,omitempty"`
	JobID   string        `json:"job_id,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
}
