package models

import "time"

type Status string

const (
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusDownloading Status = "downloading"
	StatusFulfilled   Status = "fulfilled"
	StatusDenied      Status = "denied"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Statuses lists every request status in display order.
var Statuses = []Status{
	StatusPending,
	StatusApproved,
	StatusDownloading,
	StatusFulfilled,
	StatusDenied,
	StatusFailed,
	StatusCancelled,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Active reports whether the request still occupies the owner's queue.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusApproved || s == StatusDownloading
}

// Terminal statuses have no further lifecycle transitions.
func (s Status) Terminal() bool {
	return s == StatusFulfilled || s == StatusCancelled
}

type ContentType string

const (
	ContentEbook     ContentType = "ebook"
	ContentAudiobook ContentType = "audiobook"
)

func (c ContentType) Valid() bool {
	return c == ContentEbook || c == ContentAudiobook
}

type Request struct {
	ID              int64       `json:"id"`
	UserID          int64       `json:"user_id"`
	Username        string      `json:"requester_username,omitempty"` // For display
	Title           string      `json:"title"`
	Author          string      `json:"author,omitempty"`
	ContentType     ContentType `json:"content_type"`
	Year            string      `json:"year,omitempty"`
	Description     string      `json:"description,omitempty"`
	CoverURL        string      `json:"cover_url,omitempty"`
	ISBN10          string      `json:"isbn_10,omitempty"`
	ISBN13          string      `json:"isbn_13,omitempty"`
	Provider        string      `json:"provider,omitempty"`
	ProviderID      string      `json:"provider_id,omitempty"`
	SeriesName      string      `json:"series_name,omitempty"`
	SeriesPosition  *float64    `json:"series_position,omitempty"`
	Status          Status      `json:"status"`
	AdminNote       string      `json:"admin_note,omitempty"`
	FailureReason   string      `json:"failure_reason,omitempty"`
	ApprovedBy      *int64      `json:"approved_by,omitempty"`
	DownloadTaskID  string      `json:"download_task_id,omitempty"`
	HiddenFromAdmin bool        `json:"hidden_from_admin"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// NewRequest carries the caller-supplied fields of a submission.
type NewRequest struct {
	Title          string      `json:"title"`
	Author         string      `json:"author"`
	ContentType    ContentType `json:"content_type"`
	Year           string      `json:"year"`
	Description    string      `json:"description"`
	CoverURL       string      `json:"cover_url"`
	ISBN10         string      `json:"isbn_10"`
	ISBN13         string      `json:"isbn_13"`
	Provider       string      `json:"provider"`
	ProviderID     string      `json:"provider_id"`
	SeriesName     string      `json:"series_name"`
	SeriesPosition *float64    `json:"series_position"`
}

// ListFilter narrows request listings. A zero Limit means the default page size.
type ListFilter struct {
	Status *Status
	Limit  int
	Offset int
}

// StatusUpdate describes the optional columns written alongside a status change.
type StatusUpdate struct {
	Status         Status
	AdminNote      *string
	FailureReason  *string
	ApprovedBy     *int64
	DownloadTaskID *string
}

// Counts maps each status to the number of requests in it.
type Counts map[Status]int

func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}
