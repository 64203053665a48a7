package models

import (
	"time"
	"unicode/utf8"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusOK      RunStatus = "OK"
	RunStatusZero    RunStatus = "ZERO"
	// RunStatusError marks a fault that escaped the page loop.
	RunStatusError RunStatus = "ERROR"
	// RunStatusFailed marks a run aborted by cancellation.
	RunStatusFailed RunStatus = "FAILED"
)

// Termination records why the page loop stopped.
type Termination string

const (
	TerminationNormal    Termination = "normal"
	TerminationChallenge Termination = "challenge"
	TerminationFault     Termination = "fault"
	TerminationCancelled Termination = "cancelled"
)

type PageStatus string

const (
	PageStatusOK        PageStatus = "OK"
	PageStatusEmpty     PageStatus = "EMPTY"
	PageStatusChallenge PageStatus = "CHALLENGE"
	PageStatusError     PageStatus = "ERROR"
	PageStatusAPI       PageStatus = "API"
)

// MaxNoteLength bounds Run.Note and PageOutcome.Error, in runes.
const MaxNoteLength = 300

type Run struct {
	ID             string      `json:"run_id"`
	CategoryURL    string      `json:"category_url"`
	MaxPages       int         `json:"max_pages"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     *time.Time  `json:"finished_at,omitempty"`
	Status         RunStatus   `json:"status"`
	Termination    Termination `json:"termination,omitempty"`
	PagesProcessed int         `json:"pages_processed"`
	TotalProducts  int         `json:"total_products"`
	Note           string      `json:"note,omitempty"`
}

func NewRun(id, categoryURL string, maxPages int, startedAt time.Time) *Run {
	return &Run{
		ID:          id,
		CategoryURL: categoryURL,
		MaxPages:    maxPages,
		StartedAt:   startedAt,
		Status:      RunStatusRunning,
	}
}

// Finalize sets the terminal fields of a run. It is the only mutation after creation.
func (r *Run) Finalize(status RunStatus, termination Termination, note string, finishedAt time.Time) {
	r.Status = status
	r.Termination = termination
	r.Note = Truncate(note, MaxNoteLength)
	r.FinishedAt = &finishedAt
}

type PageOutcome struct {
	RunID       string     `json:"run_id"`
	PageNumber  int        `json:"page_number"`
	URL         string     `json:"url"`
	Status      PageStatus `json:"status"`
	HTTPStatus  *int       `json:"http_status,omitempty"`
	ItemsSeen   int        `json:"items_seen"`
	ItemsParsed int        `json:"items_parsed"`
	Error       *string    `json:"error,omitempty"`
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
