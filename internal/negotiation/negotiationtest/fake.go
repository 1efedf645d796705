// Package negotiationtest provides an in-memory peer connection for tests.
package negotiationtest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

var (
	ErrClosed        = errors.New("fake peer connection closed")
	ErrNoRemote      = errors.New("remote description not set")
	ErrNoRemoteOffer = errors.New("no remote offer to answer")
)

// HostCandidate is the candidate every fake gathers after its local
// description is applied.
var HostCandidate = webrtc.ICECandidate{
	Foundation: "1",
	Priority:   2130706431,
	Address:    "192.0.2.1",
	Protocol:   webrtc.ICEProtocolUDP,
	Port:       50000,
	Typ:        webrtc.ICECandidateTypeHost,
	Component:  1,
}

// PeerConnection records every call made to it. It behaves like pion where
// ordering matters: candidates are rejected until a remote description is set,
// one local candidate is gathered asynchronously after SetLocalDescription and
// the connection reports Connected once both descriptions are applied.
type PeerConnection struct {
	ID int

	// OfferGate, when non-nil, holds CreateOffer until it is closed.
	OfferGate chan struct{}
	// RemoteErr is returned from SetRemoteDescription.
	RemoteErr error
	// CandidateErr is returned from AddICECandidate once a remote description exists.
	CandidateErr error

	offerStarted chan struct{}
	startOnce    sync.Once

	mu          sync.Mutex
	calls       []string
	local       *webrtc.SessionDescription
	remote      *webrtc.SessionDescription
	candidates  []string
	tracks      int
	removed     int
	closed      int
	connected   bool
	onCandidate func(*webrtc.ICECandidate)
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onState     func(webrtc.PeerConnectionState)
}

func New(id int) *PeerConnection {
	return &PeerConnection{ID: id, offerStarted: make(chan struct{})}
}

func (p *PeerConnection) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *PeerConnection) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed > 0
}

// OfferStarted is closed when CreateOffer is first entered.
func (p *PeerConnection) OfferStarted() <-chan struct{} {
	return p.offerStarted
}

func (p *PeerConnection) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	p.record("CreateOffer")
	p.startOnce.Do(func() { close(p.offerStarted) })
	if p.OfferGate != nil {
		<-p.OfferGate
	}
	if p.isClosed() {
		return webrtc.SessionDescription{}, ErrClosed
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("fake-offer-%d", p.ID)}, nil
}

func (p *PeerConnection) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	p.record("CreateAnswer")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed > 0 {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if p.remote == nil || p.remote.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, ErrNoRemoteOffer
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("fake-answer-%d", p.ID)}, nil
}

func (p *PeerConnection) SetLocalDescription(d webrtc.SessionDescription) error {
	p.record("SetLocalDescription(" + d.Type.String() + ")")
	p.mu.Lock()
	if p.closed > 0 {
		p.mu.Unlock()
		return ErrClosed
	}
	p.local = &d
	p.mu.Unlock()

	go p.gather()
	p.maybeConnect()
	return nil
}

func (p *PeerConnection) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.record("SetRemoteDescription(" + d.Type.String() + ")")
	if p.RemoteErr != nil {
		return p.RemoteErr
	}
	p.mu.Lock()
	if p.closed > 0 {
		p.mu.Unlock()
		return ErrClosed
	}
	p.remote = &d
	p.mu.Unlock()

	p.maybeConnect()
	return nil
}

func (p *PeerConnection) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local == nil {
		return nil
	}
	d := *p.local
	return &d
}

func (p *PeerConnection) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.record("AddICECandidate(" + c.Candidate + ")")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return ErrNoRemote
	}
	if p.CandidateErr != nil {
		return p.CandidateErr
	}
	p.candidates = append(p.candidates, c.Candidate)
	return nil
}

func (p *PeerConnection) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	p.record("AddTrack")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed > 0 {
		return nil, ErrClosed
	}
	p.tracks++
	return nil, nil
}

func (p *PeerConnection) RemoveTrack(*webrtc.RTPSender) error {
	p.record("RemoveTrack")
	p.mu.Lock()
	p.removed++
	p.mu.Unlock()
	return nil
}

func (p *PeerConnection) OnICECandidate(f func(*webrtc.ICECandidate)) {
	p.mu.Lock()
	p.onCandidate = f
	p.mu.Unlock()
}

func (p *PeerConnection) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.mu.Lock()
	p.onTrack = f
	p.mu.Unlock()
}

func (p *PeerConnection) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = f
	p.mu.Unlock()
}

func (p *PeerConnection) Close() error {
	p.record("Close")
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()

	go p.fireState(webrtc.PeerConnectionStateClosed)
	return nil
}

// Fail reports a transport failure as pion would.
func (p *PeerConnection) Fail() {
	p.fireState(webrtc.PeerConnectionStateFailed)
}

func (p *PeerConnection) gather() {
	p.mu.Lock()
	h := p.onCandidate
	p.mu.Unlock()
	if h != nil {
		c := HostCandidate
		h(&c)
	}
}

func (p *PeerConnection) maybeConnect() {
	p.mu.Lock()
	ready := p.local != nil && p.remote != nil && !p.connected
	if ready {
		p.connected = true
	}
	p.mu.Unlock()

	if ready {
		go p.fireState(webrtc.PeerConnectionStateConnected)
	}
}

func (p *PeerConnection) fireState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	h := p.onState
	p.mu.Unlock()
	if h != nil {
		h(s)
	}
}

// Calls returns the call log in order.
func (p *PeerConnection) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Candidates returns the remote candidates that were accepted, in order.
func (p *PeerConnection) Candidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.candidates...)
}

func (p *PeerConnection) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *PeerConnection) Tracks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracks
}

func (p *PeerConnection) Removed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removed
}

// Factory hands out numbered fakes and remembers them.
type Factory struct {
	// Configure runs on every new fake before it is returned.
	Configure func(*PeerConnection)
	// Err makes New fail.
	Err error

	mu      sync.Mutex
	created []*PeerConnection
}

func (f *Factory) New() (*PeerConnection, error) {
	if f.Err != nil {
		return nil, f.Err
	}

	f.mu.Lock()
	p := New(len(f.created) + 1)
	f.created = append(f.created, p)
	f.mu.Unlock()

	if f.Configure != nil {
		f.Configure(p)
	}
	return p, nil
}

func (f *Factory) Created() []*PeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*PeerConnection(nil), f.created...)
}

// Last returns the most recently created fake, or nil.
func (f *Factory) Last() *PeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}
