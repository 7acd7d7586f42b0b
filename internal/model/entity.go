package model

// Entity is the unit of work the batch orchestrator iterates over. Seed is
// the feed row that introduced the entity on full runs and may be nil. ID is
// the persisted venue the entity revisits, or 0 when it is not known yet.
type Entity struct {
	ID      int64         `json:"id,omitempty"`
	Name    string        `json:"name"`
	Address string        `json:"address,omitempty"`
	Seed    *SourceRecord `json:"seed,omitempty"`
}

// EntityGroup is a cluster of source records believed to describe one venue.
// Records keep scan order with the seed first; Scores[i] is the similarity of
// Records[i] to the seed.
type EntityGroup struct {
	Records []SourceRecord `json:"records"`
	Scores  []float64      `json:"scores"`
}

// Seed returns the first record of the group.
func (g EntityGroup) Seed() SourceRecord {
	return g.Records[0]
}

// Len returns the number of records in the group.
func (g EntityGroup) Len() int {
	return len(g.Records)
}

// Sources returns the distinct connector ids in the group, in scan order.
func (g EntityGroup) Sources() []string {
	seen := make(map[string]bool, len(g.Records))
	var out []string
	for _, r := range g.Records {
		if r.Source == "" || seen[r.Source] {
			continue
		}
		seen[r.Source] = true
		out = append(out, r.Source)
	}
	return out
}
