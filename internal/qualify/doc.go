// Package qualify scores lead messages against the BANT rubric
// (Budget, Authority, Need, Timeline).
//
// # State
//
// State holds the four criteria for one conversation. It is a plain value:
// Merge returns a new State and never clears a criterion that was already
// confirmed. The derived values follow two rules:
//
//	Score()        == 25 * number of confirmed criteria
//	MeetingReady() == Score() >= 75 && Need
//
// # Scoring
//
// Scorer.Evaluate asks a Classifier (normally the completion backend) for the
// signals in a message. When no classifier is configured, or the call fails or
// times out, the keyword heuristics in DetectKeywords are used instead.
// Evaluate therefore never returns an error: qualification must not hold up
// message delivery.
package qualify
