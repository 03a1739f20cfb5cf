package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sfulink/internal/core/domain"
	"sfulink/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

var errNoRemoteTrack = errors.New("no remote track yet")

// Config holds the peer connection settings shared by every engine
type Config struct {
	PortRange struct {
		Min uint16
		Max uint16
	}
	VideoMimeType string
}

// EngineFactory creates pion backed engines
type EngineFactory struct {
	config Config
	logger *zap.SugaredLogger
}

func NewEngineFactory(config Config, logger *zap.SugaredLogger) *EngineFactory {
	if config.VideoMimeType == "" {
		config.VideoMimeType = webrtc.MimeTypeVP8
	}
	return &EngineFactory{config: config, logger: logger}
}

// NewEngine creates a peer connection for one negotiation attempt. Publishers
// get a send-only sample track, subscribers a receive-only video transceiver.
func (f *EngineFactory) NewEngine(ctx context.Context, cfg ports.EngineConfig) (ports.Engine, error) {
	pc, err := f.createPeerConnection(cfg.ICEServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	e := &Engine{
		pc:       pc,
		streamID: cfg.StreamID,
		role:     cfg.Role,
		profile:  cfg.Profile,
		logger:   f.logger.With("stream_id", cfg.StreamID, "role", cfg.Role),
	}

	if cfg.Role == domain.RolePublisher {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: f.config.VideoMimeType},
			"video",
			string(cfg.StreamID),
		)
		if err != nil {
			pc.Close()
			return nil, err
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return nil, err
		}
		e.local = &localTrack{track: track, profile: cfg.Profile}
		go e.processRTCP(sender)
	} else {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, err
		}
		pc.OnTrack(e.handleTrack)
	}

	pc.OnICECandidate(e.handleICECandidate)
	pc.OnConnectionStateChange(e.handleConnectionState)

	return e, nil
}

func (f *EngineFactory) createPeerConnection(servers []domain.ICEServer) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers:   toICEServers(servers),
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	}

	settingEngine := webrtc.SettingEngine{
		LoggerFactory: zapLoggerFactory{logger: f.logger.Named("pion")},
	}
	if f.config.PortRange.Min > 0 && f.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(f.config.PortRange.Min, f.config.PortRange.Max); err != nil {
			return nil, err
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

func toICEServers(servers []domain.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, server)
	}
	return out
}

// Engine drives one pion peer connection
type Engine struct {
	pc       *webrtc.PeerConnection
	streamID domain.StreamID
	role     domain.Role
	logger   *zap.SugaredLogger

	mu          sync.Mutex
	profile     domain.Profile
	local       *localTrack
	remote      *remoteTrack
	disposed    bool
	onCandidate func(domain.ICECandidate)
	onState     func(domain.TransportState)
	onReady     func()
}

func (e *Engine) CreateLocalDescription(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (e *Engine) ApplyRemoteDescription(sdp string) error {
	return e.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (e *Engine) AddRemoteCandidate(c domain.ICECandidate) error {
	return e.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (e *Engine) Media() ports.Media {
	e.mu.Lock()
	defer e.mu.Unlock()

	var m ports.Media
	if e.local != nil {
		m.Local = e.local
	}
	if e.remote != nil {
		m.Remote = e.remote
	}
	return m
}

// SetProfile records the encoding constraint. The sample source attached to a
// publisher paces and filters frames according to the current profile.
func (e *Engine) SetProfile(p domain.Profile) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profile = p
	if e.local != nil {
		e.local.setProfile(p)
	}
	e.logger.Infow("profile applied", "profile", p.ID, "bitrate", p.Bitrate)
	return nil
}

// Profile returns the profile last applied
func (e *Engine) Profile() domain.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile
}

// RequestKeyframe sends a PLI for the received video
func (e *Engine) RequestKeyframe() error {
	e.mu.Lock()
	remote := e.remote
	e.mu.Unlock()
	if remote == nil {
		return errNoRemoteTrack
	}
	return e.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.track.SSRC())},
	})
}

func (e *Engine) OnLocalCandidate(fn func(domain.ICECandidate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCandidate = fn
}

func (e *Engine) OnConnectionStateChange(fn func(domain.TransportState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onState = fn
}

func (e *Engine) OnMediaReady(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onReady = fn
}

// Dispose closes the peer connection. Callbacks are not invoked afterwards.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return nil
	}
	e.disposed = true
	e.onCandidate, e.onState, e.onReady = nil, nil, nil
	e.mu.Unlock()

	return e.pc.Close()
}

func (e *Engine) handleICECandidate(c *webrtc.ICECandidate) {
	if c == nil {
		// gathering complete
		return
	}
	init := c.ToJSON()

	e.mu.Lock()
	fn := e.onCandidate
	e.mu.Unlock()
	if fn != nil {
		fn(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	}
}

func (e *Engine) handleConnectionState(state webrtc.PeerConnectionState) {
	e.logger.Debugw("peer connection state changed", "state", state.String())

	var ts domain.TransportState
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		ts = domain.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		ts = domain.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		ts = domain.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		ts = domain.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		ts = domain.TransportClosed
	default:
		return
	}

	e.mu.Lock()
	fn := e.onState
	e.mu.Unlock()
	if fn != nil {
		fn(ts)
	}
}

func (e *Engine) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	e.logger.Infow("remote track received",
		"track_id", track.ID(),
		"codec", track.Codec().MimeType,
		"ssrc", track.SSRC(),
	)

	e.mu.Lock()
	e.remote = &remoteTrack{track: track}
	fn := e.onReady
	e.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// processRTCP drains sender reports so interceptors keep working and logs
// keyframe requests coming from the relay.
func (e *Engine) processRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			switch packet.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				e.logger.Debugw("relay requested keyframe")
				if e.local != nil {
					e.local.requestKeyframe()
				}
			}
		}
	}
}

// localTrack adapts a sample track to ports.LocalTrack
type localTrack struct {
	track *webrtc.TrackLocalStaticSample

	mu       sync.Mutex
	profile  domain.Profile
	keyframe bool
}

func (t *localTrack) ID() string       { return t.track.ID() }
func (t *localTrack) MimeType() string { return t.track.Codec().MimeType }

func (t *localTrack) WriteSample(data []byte, duration time.Duration) error {
	return t.track.WriteSample(media.Sample{Data: data, Duration: duration})
}

// Profile returns the encoding constraint the source should honor
func (t *localTrack) Profile() domain.Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.profile
}

// KeyframeRequested reports and clears a pending keyframe request
func (t *localTrack) KeyframeRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := t.keyframe
	t.keyframe = false
	return k
}

func (t *localTrack) setProfile(p domain.Profile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.profile = p
}

func (t *localTrack) requestKeyframe() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keyframe = true
}

// remoteTrack adapts a received track to ports.RemoteTrack
type remoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *remoteTrack) ID() string       { return t.track.ID() }
func (t *remoteTrack) MimeType() string { return t.track.Codec().MimeType }

func (t *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.track.ReadRTP()
	return pkt, err
}
