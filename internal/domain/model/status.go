package model

// JobStatus is derived from which artifacts exist; it is never stored.
type JobStatus string

const (
	JobStatusUnknown      JobStatus = "unknown"
	JobStatusPending      JobStatus = "pending"
	JobStatusFetching     JobStatus = "fetching"
	JobStatusScripting    JobStatus = "scripting"
	JobStatusSynthesizing JobStatus = "synthesizing"
	JobStatusUploading    JobStatus = "uploading"
	JobStatusComplete     JobStatus = "complete"
)

var statusRank = map[JobStatus]int{
	JobStatusUnknown:      0,
	JobStatusPending:      1,
	JobStatusFetching:     2,
	JobStatusScripting:    3,
	JobStatusSynthesizing: 4,
	JobStatusUploading:    5,
	JobStatusComplete:     6,
}

// Rank orders statuses so progress can be compared.
func (s JobStatus) Rank() int { return statusRank[s] }

// DeriveStatus maps the set of present artifacts (and whether the Brief row
// is committed) to the job's visible status. The furthest artifact wins.
func DeriveStatus(present map[ArtifactKind]bool, published bool) JobStatus {
	if published {
		for _, ok := range present {
			if ok {
				return JobStatusUploading
			}
		}
		return JobStatusComplete
	}
	switch {
	case present[ArtifactAudio]:
		return JobStatusSynthesizing
	case present[ArtifactScript]:
		return JobStatusScripting
	case present[ArtifactBills] || present[ArtifactNews]:
		return JobStatusFetching
	case present[ArtifactMetadata]:
		return JobStatusPending
	}
	return JobStatusUnknown
}

// Done reports whether the stage's output is already reflected by status,
// i.e. a delivery for that stage is stale.
func (s JobStatus) Done(stage Stage) bool {
	var need JobStatus
	switch stage {
	case StageOrchestrate:
		need = JobStatusPending
	case StageFetch:
		need = JobStatusFetching
	case StageScript:
		need = JobStatusScripting
	case StageSynthesize:
		need = JobStatusSynthesizing
	case StagePublish:
		need = JobStatusUploading
	default:
		return false
	}
	return s.Rank() >= need.Rank()
}
