package rtc

import (
	"strings"

	"github.com/dkeye/walkie/internal/domain"
	"github.com/pion/webrtc/v4"
)

// DefaultDiscoveryServer is the public STUN server used when none is configured.
const DefaultDiscoveryServer = "stun:stun.l.google.com:19302"

// ResolveConfig builds the negotiation configuration: the discovery server
// always, plus an authenticated relay entry when credentials are present.
// Missing credentials are not an error; negotiation proceeds without TURN.
func ResolveConfig(discovery string, relays []string, creds *domain.Credentials) webrtc.Configuration {
	discovery = strings.TrimSpace(discovery)
	if discovery == "" {
		discovery = DefaultDiscoveryServer
	}
	cfg := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{discovery}},
		},
	}

	if creds.Empty() {
		return cfg
	}
	urls := make([]string, 0, len(relays))
	for _, u := range relays {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return cfg
	}
	cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
		URLs:       urls,
		Username:   creds.ID,
		Credential: creds.Password,
	})
	return cfg
}

// Resolver binds the configured servers so callers only supply credentials.
type Resolver struct {
	Discovery string
	Relays    []string
}

func (r Resolver) Resolve(creds *domain.Credentials) webrtc.Configuration {
	return ResolveConfig(r.Discovery, r.Relays, creds)
}
