package scoring

// Classification bands over the score range.
const (
	ExcellentThreshold = 850
	GoodThreshold      = 650
	PoorThreshold      = 300
)

// Classify returns the human-readable band for a score.
func Classify(score int) string {
	switch {
	case score >= ExcellentThreshold:
		return "excellent"
	case score >= GoodThreshold:
		return "good"
	case score >= PoorThreshold:
		return "average"
	default:
		return "poor"
	}
}
