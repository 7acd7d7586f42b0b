package match

import (
	"github.com/sells-group/venue-fusion/internal/model"
)

// Group clusters records in a single greedy pass. Each unassigned record in
// input order seeds a new group and absorbs every later unassigned record
// whose similarity to the seed is strictly greater than threshold. Members
// keep scan order. Membership is not transitive: two members of a group may
// be dissimilar to each other as long as both resemble the seed.
func Group(records []model.SourceRecord, threshold float64) []model.EntityGroup {
	assigned := make([]bool, len(records))
	var groups []model.EntityGroup

	for i := range records {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		g := model.EntityGroup{
			Records: []model.SourceRecord{records[i]},
			Scores:  []float64{1},
		}
		for j := i + 1; j < len(records); j++ {
			if assigned[j] {
				continue
			}
			if s := Similarity(records[i], records[j]); s > threshold {
				assigned[j] = true
				g.Records = append(g.Records, records[j])
				g.Scores = append(g.Scores, s)
			}
		}
		groups = append(groups, g)
	}
	return groups
}

// Best returns the index of the group whose seed is most similar to rec, or
// -1 if no seed scores above threshold.
func Best(groups []model.EntityGroup, rec model.SourceRecord, threshold float64) int {
	best, bestScore := -1, threshold
	for i, g := range groups {
		if g.Len() == 0 {
			continue
		}
		if s := Similarity(g.Seed(), rec); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}
