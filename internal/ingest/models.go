package ingest

import "github.com/navinbhat12/rewindify/internal/models"

// RawRecord is one entry of a streaming history export. Every field is
// optional on the wire.
type RawRecord struct {
	Ts         *string  `json:"ts"`
	MsPlayed   *float64 `json:"ms_played"`
	TrackName  *string  `json:"master_metadata_track_name"`
	ArtistName *string  `json:"master_metadata_album_artist_name"`
	AlbumName  *string  `json:"master_metadata_album_album_name"`
}

// File is one uploaded document.
type File struct {
	Name string
	Data []byte
}

type FileStatus string

const (
	FileProcessed FileStatus = "processed"
	FileSkipped   FileStatus = "skipped"
	FileFailed    FileStatus = "failed"
)

// FileReport summarizes how one uploaded file was normalized.
type FileReport struct {
	Name            string     `json:"name"`
	Status          FileStatus `json:"status"`
	RecordsTotal    int        `json:"records_total"`
	RecordsAccepted int        `json:"records_accepted"`
	RecordsSkipped  int        `json:"records_skipped"`
	RecordsFiltered int        `json:"records_filtered"`
	Error           string     `json:"error,omitempty"`
}

// Batch is the normalized output of one chunk.
type Batch struct {
	Events         []models.PlayEvent
	Files          []FileReport
	FilesProcessed int
}

// ChunkRequest is one upload call of a possibly multi-request upload.
// FilePartIndex and FilePartTotal are diagnostic only.
type ChunkRequest struct {
	SessionID     string `validate:"required"`
	ChunkIndex    int    `validate:"gte=0,ltfield=ChunkTotal"`
	ChunkTotal    int    `validate:"gte=1"`
	FilePartIndex int    `validate:"gte=0"`
	FilePartTotal int    `validate:"gte=0"`
	Files         []File `validate:"required,min=1"`
}

// ChunkInfo reports how a chunk was applied.
type ChunkInfo struct {
	Index         int    `json:"index"`
	Total         int    `json:"total"`
	Action        Action `json:"action"`
	Orphaned      bool   `json:"orphaned,omitempty"`
	State         string `json:"state"`
	FilePartIndex int    `json:"file_part_index,omitempty"`
	FilePartTotal int    `json:"file_part_total,omitempty"`
}

// Result is the outcome of one ingested chunk.
type Result struct {
	FilesProcessed  int          `json:"files_processed"`
	RecordsInserted int          `json:"records_inserted"`
	Files           []FileReport `json:"files"`
	Chunk           ChunkInfo    `json:"chunk"`
}
