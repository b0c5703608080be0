package constant

type JobStatus string

const (
	JobStatusQueued   JobStatus = "QUEUED"
	JobStatusRunning  JobStatus = "RUNNING"
	JobStatusFinished JobStatus = "FINISHED"
	JobStatusFailed   JobStatus = "FAILED"
	JobStatusStopped  JobStatus = "STOPPED"
)

func (s JobStatus) String() string {
	return string(s)
}

// Active reports whether a persisted job in this status should be
// picked up again after a process restart.
func (s JobStatus) Active() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

type VideoStatus string

const (
	VideoStatusUnknown  VideoStatus = "UNKNOWN"
	VideoStatusChecking VideoStatus = "CHECKING"
	VideoStatusWorking  VideoStatus = "WORKING"
	VideoStatusBroken   VideoStatus = "BROKEN"
)

func (s VideoStatus) String() string {
	return string(s)
}

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
