package model

import "time"

// Stage is one step of the brief pipeline.
type Stage string

const (
	StageOrchestrate Stage = "orchestrate"
	StageFetch       Stage = "fetch"
	StageScript      Stage = "script"
	StageSynthesize  Stage = "synthesize"
	StagePublish     Stage = "publish"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageOrchestrate, StageFetch, StageScript, StageSynthesize, StagePublish}

var transitions = map[Stage]Stage{
	StageOrchestrate: StageFetch,
	StageFetch:       StageScript,
	StageScript:      StageSynthesize,
	StageSynthesize:  StagePublish,
}

// Next returns the stage that follows s. Publish is terminal.
func (s Stage) Next() (Stage, bool) {
	n, ok := transitions[s]
	return n, ok
}

func (s Stage) Valid() bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}

// Queue is the name of the queue that feeds this stage.
func (s Stage) Queue() string { return "brief." + string(s) }

// Consumes lists the artifacts a stage reads and purges once its own output is durable.
func (s Stage) Consumes() []ArtifactKind {
	switch s {
	case StageScript:
		return []ArtifactKind{ArtifactBills, ArtifactNews}
	case StageSynthesize:
		return []ArtifactKind{ArtifactScript}
	case StagePublish:
		return []ArtifactKind{ArtifactMetadata, ArtifactAudio}
	}
	return nil
}

// Produces lists the artifacts a stage writes.
func (s Stage) Produces() []ArtifactKind {
	switch s {
	case StageOrchestrate:
		return []ArtifactKind{ArtifactMetadata}
	case StageFetch:
		return []ArtifactKind{ArtifactBills, ArtifactNews}
	case StageScript:
		return []ArtifactKind{ArtifactScript}
	case StageSynthesize:
		return []ArtifactKind{ArtifactAudio}
	}
	return nil
}

// DefaultRetryDelay is the broker redelivery delay after a transient failure.
// Synthesis and upload wrap the slowest calls and back off longer.
func (s Stage) DefaultRetryDelay() time.Duration {
	switch s {
	case StageSynthesize, StagePublish:
		return 300 * time.Second
	default:
		return 60 * time.Second
	}
}

// ArtifactKind names a stage-scoped blob stored under job:{jobId}:{kind}.
type ArtifactKind string

const (
	ArtifactBills    ArtifactKind = "bills"
	ArtifactNews     ArtifactKind = "news"
	ArtifactScript   ArtifactKind = "script"
	ArtifactAudio    ArtifactKind = "audio"
	ArtifactMetadata ArtifactKind = "metadata"
)

var ArtifactKinds = []ArtifactKind{ArtifactMetadata, ArtifactBills, ArtifactNews, ArtifactScript, ArtifactAudio}

func ArtifactKey(jobID string, kind ArtifactKind) string {
	return "job:" + jobID + ":" + string(kind)
}
