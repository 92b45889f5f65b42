package session

import "fmt"

// DecisionSliding is the decision string for a sliding (no PTX) input.
const DecisionSliding = "Sliding"

// Vote is one voter's decision and frame counts.
type Vote struct {
	Decision        string
	NotSlidingCount int
	SlidingCount    int
}

// Outcome is what an Analyzer returns for one input.
type Outcome struct {
	Decision        string
	NotSlidingCount int
	SlidingCount    int
	Voters          []Vote
}

// Sliding reports whether the decision is sliding.
func (o Outcome) Sliding() bool {
	return o.Decision == DecisionSliding
}

// JobError is a job-level failure. Its text is sent to the client verbatim.
type JobError struct {
	Description string
	Err         error
}

func (e *JobError) Error() string {
	return e.Description
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func inaccessible(input string, err error) *JobError {
	return &JobError{Description: fmt.Sprintf("File %s is not accessible!", input), Err: err}
}
