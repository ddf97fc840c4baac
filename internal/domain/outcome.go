package domain

// Outcome is the caller-facing result of a submission or a poll.
// It is one of Success, Failure or InProgress.
type Outcome interface {
	outcome()
}

// Success carries a completed transformation
type Success struct {
	Key        CacheKey
	Payload    string
	AssetPaths []string
	Record     *ResultRecord
	// Cached is true when the result was served without creating a job
	Cached bool
}

// Failure carries the worker-reported reason a transformation failed
type Failure struct {
	Handle JobHandle
	Key    CacheKey
	Reason string
}

// InProgress means the caller should poll Handle again later
type InProgress struct {
	Handle JobHandle
	Key    CacheKey
	State  JobState
	// Deduplicated is true when the handle belongs to a job another request already started
	Deduplicated bool
}

func (Success) outcome()    {}
func (Failure) outcome()    {}
func (InProgress) outcome() {}
