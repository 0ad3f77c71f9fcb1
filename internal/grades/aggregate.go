package grades

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Average is the credit-weighted mean of the released grades, modules
// without credits count once each when no released module carries credits.
// ok is false when no grade is released.
func Average(grades []Grade) (average float64, ok bool) {
	var weighted, credits, sum float64
	count := 0
	for _, g := range grades {
		if g.Grade == nil {
			continue
		}
		count++
		sum += *g.Grade
		weighted += *g.Grade * g.Credits
		credits += g.Credits
	}
	if count == 0 {
		return 0, false
	}
	if credits == 0 {
		return sum / float64(count), true
	}
	return weighted / credits, true
}

// TotalCredits sums the credits of modules with a released grade.
func TotalCredits(grades []Grade) float64 {
	total := 0.0
	for _, g := range grades {
		if g.Grade != nil {
			total += g.Credits
		}
	}
	return total
}

const minSimilarity = 0.8

// FindModule looks a module up by number, or failing that by the name most
// similar to `query`.
func FindModule(grades []Grade, query string) (Grade, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Grade{}, false
	}
	for _, g := range grades {
		if strings.EqualFold(g.ModuleNumber, query) {
			return g, true
		}
	}

	var best Grade
	bestSimilarity := 0.0
	for _, g := range grades {
		similarity := matchr.JaroWinkler(strings.ToLower(g.ModuleName), strings.ToLower(query), false)
		if similarity > bestSimilarity {
			bestSimilarity = similarity
			best = g
		}
	}
	if bestSimilarity < minSimilarity {
		return Grade{}, false
	}
	return best, true
}
