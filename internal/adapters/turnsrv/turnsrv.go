// Package turnsrv issues ephemeral TURN credentials and runs the optional
// embedded TURN server that accepts them.
package turnsrv

import (
	"fmt"
	"net"
	"time"

	"github.com/dkeye/walkie/internal/adapters/pionlog"
	"github.com/dkeye/walkie/internal/config"
	"github.com/dkeye/walkie/internal/domain"
	"github.com/pion/turn/v4"
	"github.com/rs/zerolog/log"
)

// Issuer mints time-windowed credentials in the TURN REST format
// ("<expiry>:<participant>", HMAC-SHA1 password) from a shared secret.
type Issuer struct {
	Secret string
	TTL    time.Duration
}

func (i Issuer) Issue(id domain.ParticipantID) (domain.Credentials, error) {
	user, pwd, err := turn.GenerateLongTermTURNRESTCredentials(i.Secret, string(id), i.TTL)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("turn credentials: %w", err)
	}
	return domain.Credentials{ID: user, Password: pwd}, nil
}

// AuthHandler validates credentials minted by an Issuer with the same secret.
func AuthHandler(secret string) turn.AuthHandler {
	return turn.LongTermTURNRESTAuthHandler(secret, pionlog.Factory{}.NewLogger("turn-auth"))
}

type Server struct {
	srv  *turn.Server
	addr net.Addr
}

// Start listens on UDP cfg.Port and relays for holders of valid credentials.
func Start(cfg config.TURNConfig) (*Server, error) {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("turn listen: %w", err)
	}
	relayIP := net.ParseIP(cfg.PublicIP)
	if relayIP == nil {
		_ = conn.Close()
		return nil, fmt.Errorf("turn: bad public_ip %q", cfg.PublicIP)
	}

	srv, err := turn.NewServer(turn.ServerConfig{
		Realm:         cfg.Realm,
		AuthHandler:   AuthHandler(cfg.Secret),
		LoggerFactory: pionlog.Factory{},
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: conn,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: relayIP,
					Address:      "0.0.0.0",
				},
			},
		},
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("turn server: %w", err)
	}
	log.Info().Str("module", "turn").Str("addr", conn.LocalAddr().String()).Str("realm", cfg.Realm).Msg("TURN server started")
	return &Server{srv: srv, addr: conn.LocalAddr()}, nil
}

func (s *Server) Addr() net.Addr { return s.addr }

func (s *Server) Close() error {
	return s.srv.Close()
}
