package webrtc

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"fest_router/native/internal/domain"
	"fest_router/native/internal/media"

	"github.com/pion/rtcp"
	pion "github.com/pion/webrtc/v4"
)

// Side says which end of the exchange this process is.
type Side int

const (
	SideEndpoint Side = iota
	SideRouter
)

// Options configure one Peer.
type Options struct {
	Side Side
	Role domain.Role
	// Name is written into every message this peer produces.
	Name string
	// Outgoing tracks are borrowed, never stopped by the peer. Router-side
	// Sink sessions use them to seed the connection before a Source is routed.
	Outgoing *media.Stream
	// Certificate is a PEM encoded DTLS certificate to reuse.
	Certificate string
}

type eventKind int

const (
	evState eventKind = iota
	evConnection
	evCandidate
	evTrack
)

// event is the single input type of the peer's state driver. Transport
// callbacks and API calls both turn into events.
type event struct {
	kind      eventKind
	pc        *pion.PeerConnection
	state     domain.SessionState
	conn      pion.PeerConnectionState
	candidate *pion.ICECandidate
	track     *pion.TrackRemote
	err       error
}

// Peer is one Peer Session: a pion PeerConnection plus its negotiation state.
type Peer struct {
	engine *Engine
	id     string
	opts   Options

	mu           sync.Mutex
	pc           *pion.PeerConnection
	certPEM      string
	state        domain.SessionState
	stateChanged chan struct{}
	// transport is the last connecting or connected report from pion. It is
	// held back while the local description is still being sealed.
	transport        domain.SessionState
	offerer          bool
	local            *domain.SDPPayload
	remote           *domain.SDPPayload
	localCandidates  []domain.ICECandidatePayload
	remoteCandidates []domain.ICECandidatePayload
	stream           *media.Stream
	relays           []*media.Relay
	videoOut         io.Writer
	lastErr          error
	subs             map[int]func(domain.SessionEvent)
	nextSub          int

	events    chan event
	done      chan struct{}
	closeOnce sync.Once
}

// NewPeer creates a Peer in state new and starts its event driver.
func NewPeer(engine *Engine, id string, opts Options) (*Peer, error) {
	p := &Peer{
		engine:       engine,
		id:           id,
		opts:         opts,
		state:        domain.StateNew,
		stateChanged: make(chan struct{}),
		subs:         make(map[int]func(domain.SessionEvent)),
		events:       make(chan event, 64),
		done:         make(chan struct{}),
	}
	if opts.Side == SideRouter && opts.Role == domain.RoleSource {
		p.stream = media.NewStream(id)
	}

	if err := p.connect(opts.Certificate); err != nil {
		return nil, err
	}
	go p.run()

	return p, nil
}

// connect replaces the underlying connection. Events from an older
// connection are ignored by the driver.
func (p *Peer) connect(certPEM string) error {
	pc, pem, err := p.engine.newPeerConnection(certPEM)
	if err != nil {
		return err
	}

	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		p.push(event{kind: evConnection, pc: pc, conn: s})
	})
	pc.OnICECandidate(func(c *pion.ICECandidate) {
		p.push(event{kind: evCandidate, pc: pc, candidate: c})
	})
	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		p.push(event{kind: evTrack, pc: pc, track: track})
	})

	p.mu.Lock()
	p.pc = pc
	p.certPEM = pem
	p.transport = domain.StateNew
	p.mu.Unlock()
	return nil
}

func (p *Peer) ID() string { return p.id }

// State returns the current session state.
func (p *Peer) State() domain.SessionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastError is the error that last moved the session to failed.
func (p *Peer) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Subscribe registers fn for state and track notifications. Notifications
// are delivered from the driver goroutine, one at a time.
func (p *Peer) Subscribe(fn func(domain.SessionEvent)) (cancel func()) {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// SetVideoOutput makes an endpoint-side peer write received H264 to w as an
// Annex-B byte stream. Other received media is drained.
func (p *Peer) SetVideoOutput(w io.Writer) {
	p.mu.Lock()
	p.videoOut = w
	p.mu.Unlock()
}

// Stream is the media this session owns: the local capture of a Source
// endpoint, or the relayed tracks of a Source on the Router.
func (p *Peer) Stream() *media.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream
}

// BeginAsSource attaches stream and produces a sealed source-offer. The peer
// takes ownership of stream.
func (p *Peer) BeginAsSource(ctx context.Context, stream *media.Stream) (domain.Message, error) {
	if stream == nil || len(stream.Tracks()) == 0 {
		return domain.Message{}, fmt.Errorf("begin as source: %w", domain.ErrMediaUnavailable)
	}
	pc, err := p.begin("begin-as-source", domain.StateNew)
	if err != nil {
		return domain.Message{}, err
	}

	p.mu.Lock()
	p.stream = stream
	p.offerer = true
	p.mu.Unlock()

	for _, track := range stream.Tracks() {
		if err := addSender(pc, track); err != nil {
			return p.fail(fmt.Errorf("add %s track: %w", track.Kind(), err))
		}
	}

	return p.seal(ctx, pc, domain.KindSourceOffer, func() (pion.SessionDescription, error) {
		return pc.CreateOffer(nil)
	})
}

// BeginAsSink produces a sealed offer in which the Sink only receives. On
// the Router the configured outgoing stream is sent; on a Sink endpoint
// receive-only transceivers are declared instead.
func (p *Peer) BeginAsSink(ctx context.Context) (domain.Message, error) {
	pc, err := p.begin("begin-as-sink", domain.StateNew)
	if err != nil {
		return domain.Message{}, err
	}

	p.mu.Lock()
	p.offerer = true
	p.mu.Unlock()

	kind := domain.KindSinkOffer
	if p.opts.Side == SideRouter {
		kind = domain.KindRouterOffer
	}

	if out := p.opts.Outgoing; out != nil {
		for _, track := range out.Tracks() {
			if err := addSender(pc, track); err != nil {
				return p.fail(fmt.Errorf("add %s track: %w", track.Kind(), err))
			}
		}
	} else {
		for _, k := range []pion.RTPCodecType{pion.RTPCodecTypeVideo, pion.RTPCodecTypeAudio} {
			_, err := pc.AddTransceiverFromKind(k, pion.RTPTransceiverInit{
				Direction: pion.RTPTransceiverDirectionRecvonly,
			})
			if err != nil {
				return p.fail(fmt.Errorf("add %s transceiver: %w", k, err))
			}
		}
	}

	return p.seal(ctx, pc, kind, func() (pion.SessionDescription, error) {
		return pc.CreateOffer(nil)
	})
}

// AcceptRemote applies an offer and returns the sealed answer.
func (p *Peer) AcceptRemote(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if !msg.Kind.IsOffer() {
		return domain.Message{}, &domain.DecodeError{Reason: domain.ReasonWrongKind, Got: msg.Kind}
	}
	pc, err := p.begin("accept-remote", domain.StateNew, domain.StateNegotiating)
	if err != nil {
		return domain.Message{}, err
	}

	offer := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: msg.Description.SDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return p.fail(fmt.Errorf("set remote description: %w", err))
	}
	desc := msg.Description
	p.mu.Lock()
	p.remote = &desc
	p.remoteCandidates = msg.Candidates
	p.mu.Unlock()
	p.addRemoteCandidates(pc, msg.Candidates)

	if out := p.opts.Outgoing; out != nil {
		for _, track := range out.Tracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				return p.fail(fmt.Errorf("add %s track: %w", track.Kind(), err))
			}
			go drainRTCP(sender)
		}
	}

	kind := domain.KindRouterAnswer
	if p.opts.Side == SideEndpoint {
		kind = domain.KindSinkAnswer
	}
	return p.seal(ctx, pc, kind, func() (pion.SessionDescription, error) {
		return pc.CreateAnswer(nil)
	})
}

// CompleteWithAnswer applies the remote answer to a pending local offer.
func (p *Peer) CompleteWithAnswer(msg domain.Message) error {
	if msg.Kind.IsOffer() {
		return &domain.DecodeError{Reason: domain.ReasonWrongKind, Got: msg.Kind}
	}

	p.mu.Lock()
	pc, state := p.pc, p.state
	p.mu.Unlock()
	if state == domain.StateClosed || pc.SignalingState() != pion.SignalingStateHaveLocalOffer {
		return &domain.StateError{Op: "complete-with-answer", State: state}
	}

	answer := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: msg.Description.SDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	log.Printf("[webrtc] %s: remote answer set", p.id)

	desc := msg.Description
	p.mu.Lock()
	p.remote = &desc
	p.remoteCandidates = msg.Candidates
	p.mu.Unlock()
	p.addRemoteCandidates(pc, msg.Candidates)
	return nil
}

// ReplaceOutgoingVideoTrack swaps what the video sender transmits without
// renegotiating. nil mutes the sender.
func (p *Peer) ReplaceOutgoingVideoTrack(track pion.TrackLocal) error {
	return p.replaceOutgoing(pion.RTPCodecTypeVideo, track)
}

// ReplaceOutgoingAudioTrack swaps what the audio sender transmits without
// renegotiating. nil mutes the sender.
func (p *Peer) ReplaceOutgoingAudioTrack(track pion.TrackLocal) error {
	return p.replaceOutgoing(pion.RTPCodecTypeAudio, track)
}

// OutgoingTracks returns what the video and audio senders currently transmit.
func (p *Peer) OutgoingTracks() (video, audio pion.TrackLocal) {
	if s := p.sender(pion.RTPCodecTypeVideo); s != nil {
		video = s.Track()
	}
	if s := p.sender(pion.RTPCodecTypeAudio); s != nil {
		audio = s.Track()
	}
	return video, audio
}

func (p *Peer) replaceOutgoing(kind pion.RTPCodecType, track pion.TrackLocal) error {
	if track != nil && track.Kind() != kind {
		return fmt.Errorf("replace %s track with %s track: %w", kind, track.Kind(), pion.ErrRTPSenderNewTrackHasIncorrectKind)
	}
	sender := p.sender(kind)
	if sender == nil {
		return nil
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace %s track: %w", kind, err)
	}
	return nil
}

func (p *Peer) sender(kind pion.RTPCodecType) *pion.RTPSender {
	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()

	for _, t := range pc.GetTransceivers() {
		if t.Kind() == kind && t.Sender() != nil {
			return t.Sender()
		}
	}
	return nil
}

// RequestKeyframe asks the remote Source for a keyframe on every relayed
// video track.
func (p *Peer) RequestKeyframe() error {
	p.mu.Lock()
	pc := p.pc
	relays := append([]*media.Relay(nil), p.relays...)
	p.mu.Unlock()

	var pkts []rtcp.Packet
	for _, r := range relays {
		if r.Kind() == pion.RTPCodecTypeVideo {
			pkts = append(pkts, &rtcp.PictureLossIndication{MediaSSRC: r.SSRC()})
		}
	}
	if len(pkts) == 0 {
		return nil
	}
	if err := pc.WriteRTCP(pkts); err != nil {
		return fmt.Errorf("write pli: %w", err)
	}
	return nil
}

// Record captures what Restore needs to rebuild this session.
func (p *Peer) Record() domain.SessionRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.SessionRecord{
		SessionID:         p.id,
		DisplayName:       p.opts.Name,
		Role:              p.opts.Role,
		Offerer:           p.offerer,
		LocalDescription:  p.local,
		RemoteDescription: p.remote,
		LocalCandidates:   append([]domain.ICECandidatePayload(nil), p.localCandidates...),
		RemoteCandidates:  append([]domain.ICECandidatePayload(nil), p.remoteCandidates...),
		Certificate:       p.certPEM,
	}
}

// Restore rebuilds the connection from a record and waits until the
// transport connects again or the restore timeout passes.
func (p *Peer) Restore(ctx context.Context, rec domain.SessionRecord) error {
	if rec.LocalDescription == nil || rec.RemoteDescription == nil {
		return p.restoreFailed(fmt.Errorf("negotiation was not complete"))
	}

	p.mu.Lock()
	old := p.pc
	p.mu.Unlock()
	if err := p.connect(rec.Certificate); err != nil {
		return p.restoreFailed(err)
	}
	if old != nil {
		_ = old.Close()
	}

	p.mu.Lock()
	pc := p.pc
	p.offerer = rec.Offerer
	p.local = rec.LocalDescription
	p.remote = rec.RemoteDescription
	p.localCandidates = rec.LocalCandidates
	p.remoteCandidates = rec.RemoteCandidates
	p.mu.Unlock()

	local := pion.SessionDescription{Type: pion.NewSDPType(rec.LocalDescription.Type), SDP: rec.LocalDescription.SDP}
	remote := pion.SessionDescription{Type: pion.NewSDPType(rec.RemoteDescription.Type), SDP: rec.RemoteDescription.SDP}

	var tracks []pion.TrackLocal
	if p.opts.Outgoing != nil {
		tracks = p.opts.Outgoing.Tracks()
	}

	if rec.Offerer {
		for _, track := range tracks {
			if err := addSender(pc, track); err != nil {
				return p.restoreFailed(fmt.Errorf("add %s track: %w", track.Kind(), err))
			}
		}
		if err := pc.SetLocalDescription(local); err != nil {
			return p.restoreFailed(fmt.Errorf("set local description: %w", err))
		}
		if err := pc.SetRemoteDescription(remote); err != nil {
			return p.restoreFailed(fmt.Errorf("set remote description: %w", err))
		}
	} else {
		if err := pc.SetRemoteDescription(remote); err != nil {
			return p.restoreFailed(fmt.Errorf("set remote description: %w", err))
		}
		for _, track := range tracks {
			sender, err := pc.AddTrack(track)
			if err != nil {
				return p.restoreFailed(fmt.Errorf("add %s track: %w", track.Kind(), err))
			}
			go drainRTCP(sender)
		}
		if err := pc.SetLocalDescription(local); err != nil {
			return p.restoreFailed(fmt.Errorf("set local description: %w", err))
		}
	}
	p.addRemoteCandidates(pc, rec.RemoteCandidates)

	if err := p.waitFor(ctx, domain.StateConnected, p.engine.cfg.RestoreTimeout); err != nil {
		return p.restoreFailed(err)
	}
	log.Printf("[webrtc] %s: restored", p.id)
	return nil
}

// Close releases the connection and any stream the peer owns. It may be
// called from any state and more than once.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)

		p.mu.Lock()
		pc, stream := p.pc, p.stream
		p.transitionLocked(domain.StateClosed, nil)
		p.mu.Unlock()

		if stream != nil {
			stream.Stop()
		}
		if pc != nil {
			if cerr := pc.Close(); cerr != nil {
				err = fmt.Errorf("close peer connection: %w", cerr)
			}
		}
		log.Printf("[webrtc] %s: closed", p.id)
	})
	return err
}

// begin moves the session to negotiating if it is in one of allowed.
func (p *Peer) begin(op string, allowed ...domain.SessionState) (*pion.PeerConnection, error) {
	p.mu.Lock()
	state := p.state
	ok := false
	for _, s := range allowed {
		if s == state {
			ok = true
		}
	}
	if !ok {
		p.mu.Unlock()
		return nil, &domain.StateError{Op: op, State: state}
	}
	changed := p.transitionLocked(domain.StateNegotiating, nil)
	pc := p.pc
	p.mu.Unlock()

	if changed {
		p.push(event{kind: evState, state: domain.StateNegotiating})
	}
	return pc, nil
}

// seal sets the local description and waits for candidate gathering to end.
func (p *Peer) seal(ctx context.Context, pc *pion.PeerConnection, kind domain.Kind, create func() (pion.SessionDescription, error)) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return p.fail(err)
	}
	desc, err := create()
	if err != nil {
		return p.fail(fmt.Errorf("create %s: %w", kind.SDPType(), err))
	}

	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return p.fail(fmt.Errorf("set local description: %w", err))
	}
	p.setState(domain.StateGathering, nil)

	timeout := p.engine.cfg.GatheringTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-gathered:
	case <-timer.C:
		return p.fail(fmt.Errorf("after %s: %w", timeout, domain.ErrGatheringTimeout))
	case <-ctx.Done():
		return p.fail(ctx.Err())
	case <-p.done:
		return domain.Message{}, &domain.StateError{Op: "seal", State: domain.StateClosed}
	}

	ld := pc.LocalDescription()
	if ld == nil {
		return p.fail(fmt.Errorf("local description missing after gathering"))
	}
	payload := domain.SDPPayload{Type: ld.Type.String(), SDP: ld.SDP}

	candidates, err := candidatesFromSDP(ld.SDP)
	if err != nil {
		log.Printf("[webrtc] %s: read candidates from sdp: %v", p.id, err)
	}
	p.mu.Lock()
	if len(candidates) == 0 {
		candidates = append(candidates, p.localCandidates...)
	}
	p.local = &payload
	p.localCandidates = candidates
	p.mu.Unlock()

	p.ready()
	log.Printf("[webrtc] %s: %s sealed with %d candidates", p.id, kind, len(candidates))

	return domain.Message{
		Kind:        kind,
		SessionID:   p.id,
		DisplayName: p.opts.Name,
		Description: payload,
		Candidates:  candidates,
	}, nil
}

func (p *Peer) addRemoteCandidates(pc *pion.PeerConnection, candidates []domain.ICECandidatePayload) {
	for _, c := range candidates {
		if c.Candidate == "" {
			continue
		}
		mid := c.SDPMid
		idx := uint16(c.SDPMLineIndex)
		init := pion.ICECandidateInit{
			Candidate:     c.Candidate,
			SDPMid:        &mid,
			SDPMLineIndex: &idx,
		}
		if c.UsernameFragment != "" {
			ufrag := c.UsernameFragment
			init.UsernameFragment = &ufrag
		}
		if err := pc.AddICECandidate(init); err != nil {
			log.Printf("[webrtc] %s: add remote candidate: %v", p.id, err)
		}
	}
}

func (p *Peer) fail(err error) (domain.Message, error) {
	p.setState(domain.StateFailed, err)
	return domain.Message{}, err
}

func (p *Peer) restoreFailed(err error) error {
	err = fmt.Errorf("%w: %w", domain.ErrRestore, err)
	p.setState(domain.StateFailed, err)
	return err
}

func (p *Peer) waitFor(ctx context.Context, want domain.SessionState, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		state, changed := p.state, p.stateChanged
		p.mu.Unlock()

		switch state {
		case want:
			return nil
		case domain.StateFailed, domain.StateClosed:
			return fmt.Errorf("session %s", state)
		}

		select {
		case <-changed:
		case <-timer.C:
			return fmt.Errorf("not %s after %s", want, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ready moves a sealed session to ready-to-transfer, then replays any
// transport progress that arrived while it was gathering.
func (p *Peer) ready() {
	steps := []domain.SessionState{domain.StateReadyToTransfer}

	p.mu.Lock()
	switch p.transport {
	case domain.StateConnecting:
		steps = append(steps, domain.StateConnecting)
	case domain.StateConnected:
		steps = append(steps, domain.StateConnecting, domain.StateConnected)
	}
	var changed []domain.SessionState
	for _, next := range steps {
		if p.transitionLocked(next, nil) {
			changed = append(changed, next)
		}
	}
	p.mu.Unlock()

	for _, next := range changed {
		p.push(event{kind: evState, state: next})
	}
}

// setState applies an API-driven transition and queues its notification.
func (p *Peer) setState(next domain.SessionState, err error) {
	p.mu.Lock()
	changed := p.transitionLocked(next, err)
	p.mu.Unlock()
	if changed {
		p.push(event{kind: evState, state: next, err: err})
	}
}

func (p *Peer) transitionLocked(next domain.SessionState, err error) bool {
	if p.state == next {
		return false
	}
	if !p.state.CanTransition(next) {
		log.Printf("[webrtc] %s: ignoring %s -> %s", p.id, p.state, next)
		return false
	}
	p.state = next
	if err != nil {
		p.lastErr = err
	}
	close(p.stateChanged)
	p.stateChanged = make(chan struct{})
	return true
}

func (p *Peer) push(ev event) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

func (p *Peer) run() {
	for {
		select {
		case <-p.done:
			return
		case ev := <-p.events:
			p.handle(ev)
		}
	}
}

func (p *Peer) handle(ev event) {
	if ev.pc != nil && !p.current(ev.pc) {
		return
	}

	switch ev.kind {
	case evState:
		p.notify(domain.SessionEvent{SessionID: p.id, State: ev.state, Err: ev.err})

	case evConnection:
		log.Printf("[webrtc] %s: peer connection state: %s", p.id, ev.conn)
		var next domain.SessionState
		var err error
		switch ev.conn {
		case pion.PeerConnectionStateConnecting:
			next = domain.StateConnecting
		case pion.PeerConnectionStateConnected:
			next = domain.StateConnected
		case pion.PeerConnectionStateFailed:
			next, err = domain.StateFailed, domain.ErrTransportFailure
		case pion.PeerConnectionStateClosed:
			next = domain.StateClosed
		default:
			// new and disconnected leave the state alone; a disconnected
			// transport either recovers or reports failed.
			return
		}
		p.mu.Lock()
		if next == domain.StateConnecting || next == domain.StateConnected {
			p.transport = next
			// an answerer's transport can start before its answer is sealed
			if p.state == domain.StateNegotiating || p.state == domain.StateGathering {
				p.mu.Unlock()
				return
			}
		}
		changed := p.transitionLocked(next, err)
		p.mu.Unlock()
		if changed {
			p.notify(domain.SessionEvent{SessionID: p.id, State: next, Err: err})
		}

	case evCandidate:
		if ev.candidate == nil {
			log.Printf("[webrtc] %s: ICE gathering complete", p.id)
			return
		}
		init := ev.candidate.ToJSON()
		if isLoopback(init.Candidate) {
			log.Printf("[webrtc] %s: filtering loopback ICE candidate", p.id)
			return
		}
		c := domain.ICECandidatePayload{Candidate: init.Candidate}
		if init.SDPMid != nil {
			c.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			c.SDPMLineIndex = int(*init.SDPMLineIndex)
		}
		p.mu.Lock()
		p.localCandidates = append(p.localCandidates, c)
		p.mu.Unlock()

	case evTrack:
		p.onTrack(ev.track)
	}
}

func (p *Peer) onTrack(track *pion.TrackRemote) {
	codec := track.Codec()
	log.Printf("[webrtc] %s: got track: kind=%s codec=%s pt=%d", p.id, track.Kind(), codec.MimeType, codec.PayloadType)

	if p.opts.Side == SideRouter {
		relay, err := media.NewRelay(track, p.id)
		if err != nil {
			log.Printf("[webrtc] %s: %v", p.id, err)
			return
		}
		p.mu.Lock()
		if p.stream == nil {
			p.stream = media.NewStream(p.id)
		}
		stream := p.stream
		p.relays = append(p.relays, relay)
		p.mu.Unlock()

		stream.Attach(relay.Local(), relay.Stop)
		go relay.Run()
	} else {
		p.mu.Lock()
		w := p.videoOut
		p.mu.Unlock()

		if track.Kind() == pion.RTPCodecTypeVideo && w != nil && strings.EqualFold(codec.MimeType, pion.MimeTypeH264) {
			go readVideoTrack(track, w)
		} else {
			go drainTrack(track)
		}
	}

	p.notify(domain.SessionEvent{SessionID: p.id, State: p.State(), TrackKind: track.Kind().String()})
}

func (p *Peer) current(pc *pion.PeerConnection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pc == pc
}

func (p *Peer) notify(ev domain.SessionEvent) {
	p.mu.Lock()
	subs := make([]func(domain.SessionEvent), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func addSender(pc *pion.PeerConnection, track pion.TrackLocal) error {
	t, err := pc.AddTransceiverFromTrack(track, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return err
	}
	go drainRTCP(t.Sender())
	return nil
}

// drainRTCP keeps interceptors fed with incoming RTCP for a sender.
func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
