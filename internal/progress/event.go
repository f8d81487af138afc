package progress

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/scrapekit/internal/crawler"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported stages.
const (
	StageJobStart Stage = "job_start"
	StagePage     Stage = "page"
	StageJobDone  Stage = "job_done"
)

// Event is one step of a crawl job.
type Event struct {
	JobID string
	TS    time.Time
	Stage Stage
	// URL is the seed for job events and the page URL for page events.
	URL string
	// Site is the lowercased host of URL.
	Site    string
	Depth   int
	Success bool
	// Status is the terminal job status, set on StageJobDone.
	Status crawler.JobStatus
	// Dur is the job wall time, set on StageJobDone.
	Dur time.Duration
	// Note carries the page or job error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart:
	case StagePage:
		if e.URL == "" {
			return errors.New("page event requires url")
		}
	case StageJobDone:
		if !e.Status.Terminal() {
			return fmt.Errorf("job done requires a terminal status, got %q", e.Status)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// PageEvent describes one processed page of jobID.
func PageEvent(jobID string, page crawler.PageResult, at time.Time) Event {
	return Event{
		JobID:   jobID,
		TS:      at,
		Stage:   StagePage,
		URL:     page.URL,
		Site:    siteOf(page.URL),
		Depth:   page.Depth,
		Success: page.Success,
		Note:    page.Error,
	}
}

func siteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
