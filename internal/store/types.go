package store

import "time"

// MediaFile is a single on-disk media entry tracked by the index.
type MediaFile struct {
	ID string
	Path string
	Filename string
	Size int64
	ModifiedAt int64
	LastSeenToken string
	CreatedAt int64
	UpdatedAt int64
}

// MediaParse holds the parsed filename fields for one MediaFile.
type MediaParse struct {
	MediaID string
	ParseOK bool
	AnimeTitle string
	EpisodeNumber string
	EpisodeNumberAlt string
	EpisodeTitle string
	AnimeSeason string
	AnimeYear string
	ReleaseGroup string
	VideoResolution string
	Source string
	AudioTerm string
	VideoTerm string
	Subtitles string
	Language string
	RawElements []RawElement
	ParsedAt int64
}

// RawElement mirrors parser.RawElement for JSON persistence without an
// import-cycle back to the parser package.
type RawElement struct {
	Category string `json:"category"`
	Value string `json:"value"`
}

// CatalogSubject is a cached external-catalog work record.
type CatalogSubject struct {
	ID int64
	SubjectType int
	Name string
	NameCN string
	Summary string
	AirDate string
	TotalEpisodes int
	Images string // raw JSON
	Payload string // raw JSON
	SyncedAt int64
	UpdatedAt int64
}

// CatalogEpisode is a cached external-catalog episode record.
type CatalogEpisode struct {
	ID int64
	SubjectID int64
	EpisodeType int
	Sort float64
	Ep *float64
	Name string
	NameCN string
	AirDate string
	Payload string
}

// MatchCandidate is a non-binding shortlist entry for one media's possible subjects.
type MatchCandidate struct {
	MediaID string
	SubjectID int64
	Confidence float64
	Reason string
	CreatedAt int64
}

// MediaMatch is a persisted association between a media file and a catalog subject/episode.
type MediaMatch struct {
	MediaID string
	SubjectID int64
	EpisodeID *int64
	Method string // "auto" | "manual"
	Confidence *float64
	Reason string
	UpdatedAt int64
}

// JobStatus is one of the Job Queue Runtime's terminal or transient states.
type JobStatus string

const (
	JobQueued JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobRetry JobStatus = "retry"
	JobDone JobStatus = "done"
	JobFailed JobStatus = "failed"
)

// Job is a durable unit of background work.
type Job struct {
	ID int64
	JobType string
	Status JobStatus
	Payload string // raw JSON
	Attempts int
	MaxAttempts int
	ScheduledAt int64
	LockedAt *int64
	LockedBy *string
	DedupKey *string
	Result *string
	LastError *string
	CreatedAt int64
	UpdatedAt int64
}

func now() int64 { return time.Now().Unix() }
