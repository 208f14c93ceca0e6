package sim

import "math"

// Progress summarizes how much of a simulation has been answered. It is
// always derived from the requirement list and the response map; nothing
// caches it.
type Progress struct {
	Answered int  `json:"answered"`
	Total    int  `json:"total"`
	Percent  int  `json:"percent"`
	Complete bool `json:"complete"`
}

// Unanswered is the number of requirements still missing an answer.
func (p Progress) Unanswered() int { return p.Total - p.Answered }

// ComputeProgress applies IsAnswered across all requirements. A requirement
// with no entry in the map is unanswered.
func ComputeProgress(reqs []Requirement, responses ResponseMap) Progress {
	p := Progress{Total: len(reqs)}
	for _, r := range reqs {
		if IsAnswered(responses[r.ID]) {
			p.Answered++
		}
	}
	if p.Total > 0 {
		p.Percent = int(math.Round(100 * float64(p.Answered) / float64(p.Total)))
	}
	p.Complete = p.Answered == p.Total
	return p
}
