package evaluation

import "testing"

func TestAggregateSingleCriterion(t *testing.T) {
	criteria := []RubricCriterion{{ID: "c1"}}
	answers := []RubricAnswer{
		{CriterionID: "c1", UserID: "u1", Score: 3},
		{CriterionID: "c1", UserID: "u2", Score: 5},
	}

	summary := AggregateRubric(criteria, answers)
	entry, ok := summary.Criteria["c1"]
	if !ok {
		t.Fatal("missing criterion summary")
	}
	if entry.Sum == nil || *entry.Sum != 8 {
		t.Errorf("expected sum 8, got %v", entry.Sum)
	}
	if entry.Average == nil || *entry.Average != 4 {
		t.Errorf("expected average 4, got %v", entry.Average)
	}
	if summary.AllScores == nil || summary.AllScores.Sum != 8 || summary.AllScores.Average != 4 {
		t.Errorf("expected allScores {8 4}, got %+v", summary.AllScores)
	}
}

func TestAggregateNoAnswers(t *testing.T) {
	summary := AggregateRubric([]RubricCriterion{{ID: "c1"}}, nil)
	entry := summary.Criteria["c1"]
	if entry.Sum != nil || entry.Average != nil {
		t.Errorf("expected nil sum/average for unanswered criterion, got %+v", entry)
	}
	if summary.AllScores != nil {
		t.Errorf("expected nil allScores, got %+v", summary.AllScores)
	}
}

func TestAggregateFractionalAverage(t *testing.T) {
	criteria := []RubricCriterion{{ID: "c1"}}
	answers := []RubricAnswer{
		{CriterionID: "c1", UserID: "u1", Score: 1},
		{CriterionID: "c1", UserID: "u2", Score: 2},
	}
	summary := AggregateRubric(criteria, answers)
	if avg := *summary.Criteria["c1"].Average; avg != 1.5 {
		t.Errorf("expected unrounded average 1.5, got %v", avg)
	}
}

// Overall totals are computed per distinct user, then averaged, so a user
// who answered fewer criteria is not penalized against one who answered
// more.
func TestAggregatePerUserTotals(t *testing.T) {
	criteria := []RubricCriterion{{ID: "c1"}, {ID: "c2"}}
	answers := []RubricAnswer{
		{CriterionID: "c1", UserID: "u1", Score: 4},
		{CriterionID: "c2", UserID: "u1", Score: 4},
		{CriterionID: "c1", UserID: "u2", Score: 2},
	}

	summary := AggregateRubric(criteria, answers)
	if summary.AllScores == nil {
		t.Fatal("expected allScores")
	}
	// u1 total = 8, u2 total = 2: sum 10 across 2 users, average 5.
	if summary.AllScores.Sum != 10 {
		t.Errorf("expected sum 10, got %v", summary.AllScores.Sum)
	}
	if summary.AllScores.Average != 5 {
		t.Errorf("expected average 5, got %v", summary.AllScores.Average)
	}
}

func TestAggregateCommentsTrimmed(t *testing.T) {
	criteria := []RubricCriterion{{ID: "c1"}}
	answers := []RubricAnswer{
		{CriterionID: "c1", UserID: "u1", Score: 3, Comment: "  solid work  "},
		{CriterionID: "c1", UserID: "u2", Score: 4, Comment: "   "},
		{CriterionID: "c1", UserID: "u3", Score: 5},
	}
	summary := AggregateRubric(criteria, answers)
	comments := summary.Criteria["c1"].Comments
	if len(comments) != 1 || comments[0] != "solid work" {
		t.Errorf("unexpected comments: %v", comments)
	}
}

func TestAggregateIgnoresUnknownCriteria(t *testing.T) {
	criteria := []RubricCriterion{{ID: "c1"}}
	answers := []RubricAnswer{
		{CriterionID: "c1", UserID: "u1", Score: 3},
		{CriterionID: "c-deleted", UserID: "u1", Score: 100},
	}
	summary := AggregateRubric(criteria, answers)
	if *summary.Criteria["c1"].Sum != 3 {
		t.Errorf("expected sum 3, got %v", *summary.Criteria["c1"].Sum)
	}
	if summary.AllScores.Sum != 3 {
		t.Errorf("expected allScores sum 3, got %v", summary.AllScores.Sum)
	}
}
