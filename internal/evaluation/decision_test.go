package evaluation

import "testing"

func TestOutcomeSingleFailDecidesImmediately(t *testing.T) {
	reviews := []Review{
		{ReviewerID: "u1", Result: ResultPass},
		{ReviewerID: "u2", Result: ResultFail},
	}
	result, decided := Outcome(reviews, 3)
	if !decided {
		t.Fatal("expected a decision")
	}
	if result != ResultFail {
		t.Errorf("expected fail, got %s", result)
	}
}

func TestOutcomePassRequiresThreshold(t *testing.T) {
	reviews := []Review{{ReviewerID: "u1", Result: ResultPass}}
	if _, decided := Outcome(reviews, 2); decided {
		t.Error("one pass of two required should not decide")
	}

	reviews = append(reviews, Review{ReviewerID: "u2", Result: ResultPass})
	result, decided := Outcome(reviews, 2)
	if !decided || result != ResultPass {
		t.Errorf("expected pass decision, got %s decided=%v", result, decided)
	}
}

func TestOutcomeDefaultsRequiredToOne(t *testing.T) {
	result, decided := Outcome([]Review{{ReviewerID: "u1", Result: ResultPass}}, 0)
	if !decided || result != ResultPass {
		t.Errorf("expected pass with default threshold, got %s decided=%v", result, decided)
	}
}

func TestOutcomeNoReviews(t *testing.T) {
	if _, decided := Outcome(nil, 1); decided {
		t.Error("no reviews should not decide")
	}
}

func TestChannelReviewsSeparatesAppeals(t *testing.T) {
	reviews := []Review{
		{EvaluationID: "ev1", ReviewerID: "u1", Result: ResultFail},
		{EvaluationID: "ev1", ReviewerID: "u2", Result: ResultPass, Appeal: true},
		{EvaluationID: "ev2", ReviewerID: "u3", Result: ResultPass},
	}

	original := ChannelReviews(reviews, "ev1", false)
	if len(original) != 1 || original[0].ReviewerID != "u1" {
		t.Errorf("unexpected original channel: %+v", original)
	}

	appeal := ChannelReviews(reviews, "ev1", true)
	if len(appeal) != 1 || appeal[0].ReviewerID != "u2" {
		t.Errorf("unexpected appeal channel: %+v", appeal)
	}

	// Pre-appeal fail must not leak into the appeal decision.
	result, decided := Outcome(appeal, 1)
	if !decided || result != ResultPass {
		t.Errorf("expected appeal channel to pass, got %s decided=%v", result, decided)
	}
}
