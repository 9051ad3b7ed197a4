package webrtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v3"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

type WebRTCConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	// PLIInterval is how often keyframes are requested from the publisher.
	PLIInterval  time.Duration
	CloseTimeout time.Duration
	// GatherTimeout bounds how long HandleOffer waits for ICE gathering.
	GatherTimeout time.Duration
	Layers        []domain.SimulcastLayer
}

func DefaultWebRTCConfig() WebRTCConfig {
	return WebRTCConfig{
		ICEServers:    []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		PLIInterval:   3 * time.Second,
		CloseTimeout:  5 * time.Second,
		GatherTimeout: 2 * time.Second,
		Layers:        domain.Layers(),
	}
}

// ICEServer builds a STUN entry, or a TURN entry when credentials are set.
func ICEServer(urls []string, username, credential string) webrtc.ICEServer {
	s := webrtc.ICEServer{URLs: urls}
	if username != "" || credential != "" {
		s.Username = username
		s.Credential = credential
		s.CredentialType = webrtc.ICECredentialTypePassword
	}
	return s
}

func newAPI(cfg WebRTCConfig) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	// simulcast needs the RID header extensions
	for _, ext := range []string{
		"urn:ietf:params:rtp-hdrext:sdes:mid",
		"urn:ietf:params:rtp-hdrext:sdes:rtp-stream-id",
		"urn:ietf:params:rtp-hdrext:sdes:repaired-rtp-stream-id",
	} {
		if err := mediaEngine.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: ext}, webrtc.RTPCodecTypeVideo); err != nil {
			return nil, fmt.Errorf("failed to register header extension %s: %w", ext, err)
		}
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	pliInterval := cfg.PLIInterval
	if pliInterval <= 0 {
		pliInterval = 3 * time.Second
	}
	pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(pliInterval))
	if err != nil {
		return nil, fmt.Errorf("failed to create PLI interceptor: %w", err)
	}
	registry.Add(pli)

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	), nil
}
