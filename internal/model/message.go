package model

import "time"

// WorkItem is an ordered list of picks for one event handed to the
// repicker. It is consumed exactly once and never mutated. The creation
// timestamp is the basis of its handoff token.
type WorkItem struct {
	EventID   string    `json:"eventID"`
	CreatedAt time.Time `json:"createdAt"`
	Picks     []Pick    `json:"picks"`
}

// Result is the ordered list of refined picks produced from one
// WorkItem, carrying the same handoff-token lineage.
type Result struct {
	EventID   string        `json:"eventID"`
	CreatedAt time.Time     `json:"createdAt"`
	Picks     []RefinedPick `json:"picks"`
}

// BestByParent reduces the result to the highest-confidence refinement
// per parent pick. Order of first appearance is preserved.
func (r Result) BestByParent() []RefinedPick {
	best := make(map[string]int)
	var order []string
	for i, p := range r.Picks {
		j, ok := best[p.ParentID]
		if !ok {
			best[p.ParentID] = i
			order = append(order, p.ParentID)
			continue
		}
		if p.Confidence > r.Picks[j].Confidence {
			best[p.ParentID] = i
		}
	}
	out := make([]RefinedPick, 0, len(order))
	for _, id := range order {
		out = append(out, r.Picks[best[id]])
	}
	return out
}
