package negotiation

import "github.com/pion/webrtc/v4"

// candidateQueue holds remote candidates that arrived before the remote
// description was applied. Replay order is arrival order.
type candidateQueue struct {
	items []webrtc.ICECandidateInit
}

func (q *candidateQueue) push(c webrtc.ICECandidateInit) {
	q.items = append(q.items, c)
}

func (q *candidateQueue) pop() (webrtc.ICECandidateInit, bool) {
	if len(q.items) == 0 {
		return webrtc.ICECandidateInit{}, false
	}
	c := q.items[0]
	q.items[0] = webrtc.ICECandidateInit{}
	q.items = q.items[1:]
	return c, true
}

func (q *candidateQueue) len() int {
	return len(q.items)
}

func (q *candidateQueue) reset() {
	q.items = nil
}
