package sim

import "testing"

func numericReqs(n int) []Requirement {
	reqs := make([]Requirement, n)
	for i := range reqs {
		reqs[i] = Requirement{
			ID:     "r" + string(rune('a'+i)),
			Index:  i,
			Points: 5,
			Kind:   KindNumeric,
			Answer: NumericAnswer{Value: float64(i)},
		}
	}
	return reqs
}

func TestComputeProgress(t *testing.T) {
	reqs := numericReqs(4)

	responses := ResponseMap{
		reqs[0].ID: NumericResponse{Value: f64(1)},
		reqs[1].ID: NumericResponse{}, // present but empty
		reqs[2].ID: NumericResponse{Value: f64(3)},
	}
	p := ComputeProgress(reqs, responses)
	if p.Answered != 2 || p.Total != 4 {
		t.Fatalf("progress = %d/%d, want 2/4", p.Answered, p.Total)
	}
	if p.Percent != 50 {
		t.Fatalf("Percent = %d, want 50", p.Percent)
	}
	if p.Complete {
		t.Fatal("incomplete session reported complete")
	}
	if got := p.Unanswered(); got != 2 {
		t.Fatalf("Unanswered() = %d, want 2", got)
	}
}

func TestProgressFlipsWithLastAnswer(t *testing.T) {
	reqs := numericReqs(2)
	responses := ResponseMap{reqs[0].ID: NumericResponse{Value: f64(1)}}

	if ComputeProgress(reqs, responses).Complete {
		t.Fatal("one of two answered should not be complete")
	}
	responses[reqs[1].ID] = NumericResponse{Value: f64(2)}
	if !ComputeProgress(reqs, responses).Complete {
		t.Fatal("all answered should be complete")
	}
	// Clearing one answer flips it straight back.
	delete(responses, reqs[0].ID)
	if ComputeProgress(reqs, responses).Complete {
		t.Fatal("cleared answer should revoke completeness")
	}
}

func TestProgressEmptySimulation(t *testing.T) {
	p := ComputeProgress(nil, nil)
	if p.Percent != 0 || !p.Complete {
		t.Fatalf("empty simulation progress = %+v, want percent 0 and complete", p)
	}
}
