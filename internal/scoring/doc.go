// Package scoring holds the rule-based scoring engines. Every function here
// is pure: identical inputs give identical outputs and nothing touches the
// store.
//
// Band directions differ between engines and both are intentional:
//
//   - ScoreRisk: higher score is worse (score > 60 is "high" risk).
//   - CreditScore: higher score is better (score >= 750 is "low" risk).
package scoring

const daysPerYear = 365

// ageYears converts a negative day offset into whole years, never below zero.
// Division floors toward negative infinity so positive offsets land at zero.
func ageYears(daysBirth int64) int {
	age := floorDiv(-daysBirth, daysPerYear)
	if age < 0 {
		return 0
	}
	return int(age)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
