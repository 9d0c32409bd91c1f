package engine

// Summary is the display-only result of a revealed round. The state machine
// never reads option weights.
type Summary struct {
	Counts map[Option]int `json:"counts"`
	Votes  int            `json:"votes"`
	Mean   float64        `json:"mean"`
	Min    int            `json:"min"`
	Max    int            `json:"max"`
}

// Summarize tallies the picks of a revealed round. Players without a choice
// are not counted.
func Summarize(s Snapshot) (Summary, error) {
	if s.Phase != PhaseRevealed {
		return Summary{}, ErrNotRevealed
	}

	sum := Summary{Counts: make(map[Option]int, len(Options))}
	total := 0
	for _, p := range s.Context.Players {
		w, ok := p.Choice.Weight()
		if !ok {
			continue
		}
		sum.Counts[p.Choice]++
		if sum.Votes == 0 || w < sum.Min {
			sum.Min = w
		}
		if w > sum.Max {
			sum.Max = w
		}
		sum.Votes++
		total += w
	}
	if sum.Votes > 0 {
		sum.Mean = float64(total) / float64(sum.Votes)
	}
	return sum, nil
}
