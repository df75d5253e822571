package evaluation

// Proposal statuses derived by Status.
const (
	StatusDraft      = "draft"
	StatusVoteActive = "vote_active"
)

// CurrentStep returns the step awaiting action: the first step in index
// order whose result is pending. When every step is decided the last step is
// returned, representing the terminal state. An empty pipeline returns nil.
//
// Steps must be sorted by Index ascending and belong to one proposal. The
// function never mutates its input and is safe to call concurrently.
func CurrentStep(steps []Step) *Step {
	if len(steps) == 0 {
		return nil
	}
	for i := range steps {
		if steps[i].Result == ResultPending {
			return &steps[i]
		}
	}
	return &steps[len(steps)-1]
}

// Status derives the effective proposal status: vote_active while a vote
// step awaits its outcome, draft when no steps exist yet, otherwise the
// stored status unchanged.
func Status(storedStatus string, steps []Step) string {
	if len(steps) == 0 {
		return StatusDraft
	}
	current := CurrentStep(steps)
	if current != nil && current.Type == StepVote && current.Result == ResultPending {
		return StatusVoteActive
	}
	return storedStatus
}
