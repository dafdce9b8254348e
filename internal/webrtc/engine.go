package webrtc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/interceptor/pkg/nack"
	pion "github.com/pion/webrtc/v4"
)

const (
	DefaultGatheringTimeout = 10 * time.Second
	DefaultRestoreTimeout   = 15 * time.Second
)

// EngineConfig tunes every peer connection created by an Engine.
type EngineConfig struct {
	GatheringTimeout time.Duration
	RestoreTimeout   time.Duration
	UDPPortMin       uint16
	UDPPortMax       uint16
	// PLIInterval is how often received video is asked for a keyframe. Zero disables it.
	PLIInterval time.Duration
}

// Engine is the shared pion API used to build Peer Sessions.
type Engine struct {
	api *pion.API
	cfg EngineConfig
}

// NewEngine registers codecs and interceptors and prepares host-only ICE.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.GatheringTimeout <= 0 {
		cfg.GatheringTimeout = DefaultGatheringTimeout
	}
	if cfg.RestoreTimeout <= 0 {
		cfg.RestoreTimeout = DefaultRestoreTimeout
	}

	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)

	generatorFactory, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generatorFactory)

	if cfg.PLIInterval > 0 {
		pliFactory, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(cfg.PLIInterval))
		if err != nil {
			return nil, fmt.Errorf("create pli interceptor: %w", err)
		}
		i.Add(pliFactory)
	}

	if err := pion.ConfigureRTCPReports(i); err != nil {
		return nil, fmt.Errorf("configure rtcp reports: %w", err)
	}

	se := pion.SettingEngine{}
	se.SetNetworkTypes([]pion.NetworkType{pion.NetworkTypeUDP4, pion.NetworkTypeUDP6})
	if cfg.UDPPortMin > 0 && cfg.UDPPortMax >= cfg.UDPPortMin {
		if err := se.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("set udp port range: %w", err)
		}
	}

	return &Engine{
		api: pion.NewAPI(
			pion.WithMediaEngine(m),
			pion.WithInterceptorRegistry(i),
			pion.WithSettingEngine(se),
		),
		cfg: cfg,
	}, nil
}

// newPeerConnection creates a connection with no ICE servers, so only host
// candidates are gathered. certPEM reuses a persisted DTLS certificate; when
// empty a fresh one is generated. The PEM in use is returned.
func (e *Engine) newPeerConnection(certPEM string) (*pion.PeerConnection, string, error) {
	cert, err := loadCertificate(certPEM)
	if err != nil {
		return nil, "", err
	}
	if certPEM == "" {
		if certPEM, err = cert.PEM(); err != nil {
			return nil, "", fmt.Errorf("encode certificate: %w", err)
		}
	}

	pc, err := e.api.NewPeerConnection(pion.Configuration{
		BundlePolicy: pion.BundlePolicyMaxBundle,
		Certificates: []pion.Certificate{*cert},
	})
	if err != nil {
		return nil, "", fmt.Errorf("create peer connection: %w", err)
	}
	return pc, certPEM, nil
}

func loadCertificate(certPEM string) (*pion.Certificate, error) {
	if certPEM != "" {
		cert, err := pion.CertificateFromPEM(certPEM)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		return cert, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	cert, err := pion.GenerateCertificate(key)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}
	return cert, nil
}
