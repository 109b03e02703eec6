package worker

// OutcomeStatus tags how a stage finished
type OutcomeStatus string

const (
	// OutcomeOK means the stage succeeded and the pipeline continues
	OutcomeOK OutcomeStatus = "OK"
	// OutcomeRetry means the stage failed on something transient and the
	// job should be retried while budget remains
	OutcomeRetry OutcomeStatus = "RETRY"
	// OutcomeFatal means retrying cannot help; the job goes straight to
	// the dead-letter queue
	OutcomeFatal OutcomeStatus = "FATAL"
)

// Outcome is a stage's tagged result. Stages report failures as values
// rather than panicking so the worker can route the job deterministically.
type Outcome struct {
	Status OutcomeStatus
	Reason string
}

func OK() Outcome {
	return Outcome{Status: OutcomeOK}
}

func Retry(reason string) Outcome {
	return Outcome{Status: OutcomeRetry, Reason: reason}
}

func Fatal(reason string) Outcome {
	return Outcome{Status: OutcomeFatal, Reason: reason}
}
