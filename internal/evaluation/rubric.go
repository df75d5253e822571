package evaluation

import (
	"sort"
	"strings"
)

// CriterionSummary aggregates the answers for one rubric criterion. Sum and
// Average are nil when the criterion has no answers; averages keep their
// fractional precision and rounding is left to display code.
type CriterionSummary struct {
	Sum      *float64 `json:"sum"`
	Average  *float64 `json:"average"`
	Comments []string `json:"comments"`
}

// ScoreSummary aggregates totals across users.
type ScoreSummary struct {
	Sum     float64 `json:"sum"`
	Average float64 `json:"average"`
}

// RubricSummary is the full aggregation of a rubric step.
type RubricSummary struct {
	Criteria  map[string]CriterionSummary `json:"criteriaSummary"`
	AllScores *ScoreSummary               `json:"allScores"`
}

// AggregateRubric reduces rubric answers into per-criterion and overall
// statistics. AllScores aggregates one total per distinct user (the sum of
// that user's criterion scores) rather than a flat sum over answers, so a
// user who scored fewer criteria is not weighted down against one who
// scored them all.
func AggregateRubric(criteria []RubricCriterion, answers []RubricAnswer) RubricSummary {
	summary := RubricSummary{Criteria: make(map[string]CriterionSummary, len(criteria))}

	known := make(map[string]struct{}, len(criteria))
	for _, criterion := range criteria {
		known[criterion.ID] = struct{}{}
		summary.Criteria[criterion.ID] = CriterionSummary{Comments: []string{}}
	}

	userTotals := make(map[string]float64)
	for _, answer := range answers {
		if _, ok := known[answer.CriterionID]; !ok {
			continue
		}
		entry := summary.Criteria[answer.CriterionID]
		if entry.Sum == nil {
			entry.Sum = new(float64)
		}
		*entry.Sum += answer.Score
		if comment := strings.TrimSpace(answer.Comment); comment != "" {
			entry.Comments = append(entry.Comments, comment)
		}
		summary.Criteria[answer.CriterionID] = entry
		userTotals[answer.UserID] += answer.Score
	}

	counts := make(map[string]int)
	for _, answer := range answers {
		if _, ok := known[answer.CriterionID]; ok {
			counts[answer.CriterionID]++
		}
	}
	for id, entry := range summary.Criteria {
		if entry.Sum != nil {
			average := *entry.Sum / float64(counts[id])
			entry.Average = &average
			summary.Criteria[id] = entry
		}
	}

	if len(userTotals) > 0 {
		users := make([]string, 0, len(userTotals))
		for user := range userTotals {
			users = append(users, user)
		}
		sort.Strings(users)
		all := &ScoreSummary{}
		for _, user := range users {
			all.Sum += userTotals[user]
		}
		all.Average = all.Sum / float64(len(userTotals))
		summary.AllScores = all
	}
	return summary
}
