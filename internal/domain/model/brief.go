package model

import (
	"time"

	"github.com/google/uuid"
)

// Brief is the durable end product. It is written once by the publisher.
type Brief struct {
	ID            string        `json:"id"`
	JobID         string        `json:"job_id"`
	UserID        string        `json:"user_id"`
	Type          BriefType     `json:"brief_type"`
	AudioURL      string        `json:"audio_url"`
	Transcript    string        `json:"transcript"`
	WrittenDigest string        `json:"written_digest"`
	PolicyAreas   []string      `json:"policy_areas"`
	Duration      time.Duration `json:"duration_ns"`
	GeneratedAt   time.Time     `json:"generated_at"`
}

func NewBrief(t *JobTicket, audioURL string, duration time.Duration, now time.Time) *Brief {
	return &Brief{
		ID:            uuid.NewString(),
		JobID:         t.JobID,
		UserID:        t.UserID,
		Type:          t.BriefType,
		AudioURL:      audioURL,
		Transcript:    t.Transcript,
		WrittenDigest: t.WrittenDigest,
		PolicyAreas:   t.PolicyAreas,
		Duration:      duration,
		GeneratedAt:   now.UTC(),
	}
}

// Subscriber is a user eligible for scheduled briefs.
type Subscriber struct {
	ID              string
	Email           string
	PolicyInterests []string
	State           string
	District        string
	BriefType       BriefType
}

func (s *Subscriber) Location() *Location {
	if s.State == "" {
		return nil
	}
	return &Location{State: s.State, District: s.District}
}
