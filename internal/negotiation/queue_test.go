package negotiation

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestCandidateQueue_FIFO(t *testing.T) {
	var q candidateQueue
	for _, c := range []string{"a", "b", "c"} {
		q.push(webrtc.ICECandidateInit{Candidate: c})
	}
	if q.len() != 3 {
		t.Fatalf("len=%d, want 3", q.len())
	}

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.pop()
		if !ok || got.Candidate != want {
			t.Fatalf("pop=%q,%v want %q", got.Candidate, ok, want)
		}
	}
	if _, ok := q.pop(); ok {
		t.Fatal("pop on empty queue reported ok")
	}

	q.push(webrtc.ICECandidateInit{Candidate: "d"})
	q.reset()
	if q.len() != 0 {
		t.Fatalf("len after reset=%d", q.len())
	}
}
