package model

import (
	"fmt"
	"strings"
	"time"
)

type BriefType string

const (
	BriefDaily  BriefType = "daily"
	BriefWeekly BriefType = "weekly"
)

type Location struct {
	State    string `json:"state,omitempty"`
	District string `json:"district,omitempty"`
}

func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.District != "" {
		return l.State + "-" + l.District
	}
	return l.State
}

// JobRequest is what the scheduler (or the admin API) emits for one user.
type JobRequest struct {
	RequestID       string    `json:"request_id,omitempty"`
	UserID          string    `json:"user_id" validate:"required"`
	UserEmail       string    `json:"user_email,omitempty" validate:"omitempty,email"`
	PolicyInterests []string  `json:"policy_interests" validate:"required,min=1,dive,required"`
	Location        *Location `json:"location,omitempty"`
	ForceRegenerate bool      `json:"force_regenerate,omitempty"`
	BriefType       BriefType `json:"brief_type,omitempty" validate:"omitempty,oneof=daily weekly"`
}

// FetchMessage feeds the data fetcher; it still carries the raw interests.
type FetchMessage struct {
	JobID           string    `json:"job_id"`
	UserID          string    `json:"user_id"`
	PolicyInterests []string  `json:"policy_interests"`
	Location        *Location `json:"location,omitempty"`
	BriefType       BriefType `json:"brief_type,omitempty"`
}

// JobMessage is the payload of every later stage: a reference only.
type JobMessage struct {
	JobID string `json:"job_id"`
}

// JobTicket is the metadata artifact of an in-flight job.
type JobTicket struct {
	JobID           string    `json:"job_id"`
	RequestID       string    `json:"request_id,omitempty"`
	UserID          string    `json:"user_id"`
	UserEmail       string    `json:"user_email,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	PolicyInterests []string  `json:"policy_interests"`
	Location        *Location `json:"location,omitempty"`
	ForceRegenerate bool      `json:"force_regenerate,omitempty"`
	BriefType       BriefType `json:"brief_type"`

	// Filled by later stages by overwriting the whole ticket.
	PolicyAreas   []string `json:"policy_areas,omitempty"`
	WrittenDigest string   `json:"written_digest,omitempty"`
	Transcript    string   `json:"transcript,omitempty"`
}

func NewJobTicket(jobID string, req JobRequest, now time.Time) *JobTicket {
	bt := req.BriefType
	if bt == "" {
		bt = BriefDaily
	}
	interests := make([]string, 0, len(req.PolicyInterests))
	for _, i := range req.PolicyInterests {
		if s := strings.TrimSpace(i); s != "" {
			interests = append(interests, s)
		}
	}
	return &JobTicket{
		JobID:           jobID,
		RequestID:       req.RequestID,
		UserID:          req.UserID,
		UserEmail:       req.UserEmail,
		CreatedAt:       now.UTC(),
		PolicyInterests: interests,
		Location:        req.Location,
		ForceRegenerate: req.ForceRegenerate,
		BriefType:       bt,
	}
}

func (t *JobTicket) FetchMessage() FetchMessage {
	return FetchMessage{
		JobID:           t.JobID,
		UserID:          t.UserID,
		PolicyInterests: t.PolicyInterests,
		Location:        t.Location,
		BriefType:       t.BriefType,
	}
}

// ScheduleKey is the limiter key that keeps one user from getting two briefs of a type per window.
func ScheduleKey(userID string, bt BriefType) string {
	return fmt.Sprintf("rate_limit:brief:%s:%s", bt, userID)
}

// ScheduledRequestID names the request the scheduler emits for a user, type and day,
// so a repeated tick on the same day maps to the same job.
func ScheduledRequestID(userID string, bt BriefType, day time.Time) string {
	return fmt.Sprintf("sched:%s:%s:%s", bt, userID, day.UTC().Format("2006-01-02"))
}
