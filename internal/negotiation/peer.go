package negotiation

import (
	"net"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Camsync/internal/config"
)

// PeerConnection is the subset of *webrtc.PeerConnection the engine drives.
type PeerConnection interface {
	CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(*webrtc.RTPSender) error
	OnICECandidate(func(*webrtc.ICECandidate))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	Close() error
}

var _ PeerConnection = (*webrtc.PeerConnection)(nil)

// Factory creates a fresh peer connection for each negotiation round.
type Factory func() (PeerConnection, error)

// ICEConfig lists the servers handed to every peer connection.
type ICEConfig struct {
	STUN       []string
	TURN       []string
	Username   string
	Credential string
	ForceRelay bool
}

// ICEFromConfig reads the ICE servers out of the client configuration.
func ICEFromConfig(cfg *config.Config) ICEConfig {
	user, pass := cfg.GetTURNCredentials()
	return ICEConfig{
		STUN:       cfg.GetSTUNServers(),
		TURN:       cfg.GetTURNServers(),
		Username:   user,
		Credential: pass,
		ForceRelay: cfg.ForceRelay,
	}
}

// Configuration converts ic into a pion configuration. Relay-only transport is
// used when asked for, or when the host looks like it sits behind a tunnel or
// CGNAT, but only if a TURN server is available.
func (ic ICEConfig) Configuration() webrtc.Configuration {
	var servers []webrtc.ICEServer
	if len(ic.STUN) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: ic.STUN})
	}
	if len(ic.TURN) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       ic.TURN,
			Username:   ic.Username,
			Credential: ic.Credential,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if len(ic.TURN) > 0 && (ic.ForceRelay || behindTunnel()) {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	}
}

// NewPionFactory returns a Factory building real pion peer connections.
func NewPionFactory(ic ICEConfig) Factory {
	return func() (PeerConnection, error) {
		return webrtc.NewPeerConnection(ic.Configuration())
	}
}

var (
	tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}
	_, cgnat, _ = net.ParseCIDR("100.64.0.0/10")
)

// behindTunnel reports whether an active interface looks like a VPN adapter
// or carries a CGNAT address. Direct paths rarely work there.
func behindTunnel() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if tunnelName(iface.Name) {
			return true
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && cgnat.Contains(ipnet.IP) {
				return true
			}
		}
	}
	return false
}

func tunnelName(name string) bool {
	name = strings.ToLower(name)
	for _, prefix := range tunnelNames {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
