package evaluation

import "testing"

func pipeline(results ...Result) []Step {
	steps := make([]Step, len(results))
	for i, result := range results {
		steps[i] = Step{
			ID:     string(rune('a' + i)),
			Index:  i,
			Type:   StepPassFail,
			Result: result,
		}
	}
	return steps
}

func TestCurrentStepEmptyPipeline(t *testing.T) {
	if current := CurrentStep(nil); current != nil {
		t.Fatalf("expected nil for empty pipeline, got %+v", current)
	}
}

func TestCurrentStepFirstPending(t *testing.T) {
	steps := pipeline(ResultPass, ResultPending, ResultPending)
	current := CurrentStep(steps)
	if current == nil {
		t.Fatal("expected a current step")
	}
	if current.Index != 1 {
		t.Errorf("expected step 1 to be current, got %d", current.Index)
	}
}

func TestCurrentStepAllDecidedReturnsLast(t *testing.T) {
	steps := pipeline(ResultPass, ResultFail, ResultPass)
	current := CurrentStep(steps)
	if current == nil {
		t.Fatal("expected a current step")
	}
	if current.Index != 2 {
		t.Errorf("expected last step to be current, got %d", current.Index)
	}
}

func TestCurrentStepAdvancesAfterDecision(t *testing.T) {
	steps := pipeline(ResultPending, ResultPending)
	if current := CurrentStep(steps); current.Index != 0 {
		t.Fatalf("expected step 0 current, got %d", current.Index)
	}

	steps[0].Result = ResultPass
	if current := CurrentStep(steps); current.Index != 1 {
		t.Errorf("expected step 1 current after deciding step 0, got %d", current.Index)
	}
}

func TestStatusDraftWithoutSteps(t *testing.T) {
	if status := Status("published", nil); status != StatusDraft {
		t.Errorf("expected draft, got %s", status)
	}
}

func TestStatusVoteActive(t *testing.T) {
	steps := []Step{
		{Index: 0, Type: StepPassFail, Result: ResultPass},
		{Index: 1, Type: StepVote, Result: ResultPending},
	}
	if status := Status("published", steps); status != StatusVoteActive {
		t.Errorf("expected vote_active, got %s", status)
	}
}

func TestStatusMirrorsStoredStatus(t *testing.T) {
	steps := []Step{
		{Index: 0, Type: StepVote, Result: ResultPass},
		{Index: 1, Type: StepPassFail, Result: ResultPending},
	}
	if status := Status("published", steps); status != "published" {
		t.Errorf("expected published, got %s", status)
	}
}
