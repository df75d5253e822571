package evaluation

// Outcome applies the decision rule to one review channel: a single fail
// review fails the step immediately; pass requires the channel's required
// review count. The second return value reports whether a decision was
// reached.
func Outcome(reviews []Review, required int) (Result, bool) {
	if required < 1 {
		required = 1
	}
	passes := 0
	for _, review := range reviews {
		switch review.Result {
		case ResultFail:
			return ResultFail, true
		case ResultPass:
			passes++
		}
	}
	if passes >= required {
		return ResultPass, true
	}
	return ResultPending, false
}

// ChannelReviews filters reviews down to one channel of a step.
func ChannelReviews(reviews []Review, evaluationID string, appeal bool) []Review {
	filtered := make([]Review, 0, len(reviews))
	for _, review := range reviews {
		if review.EvaluationID == evaluationID && review.Appeal == appeal {
			filtered = append(filtered, review)
		}
	}
	return filtered
}
