package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/walkie/internal/adapters/rtc"
	"github.com/dkeye/walkie/internal/adapters/wsclient"
	"github.com/dkeye/walkie/internal/app/session"
	"github.com/dkeye/walkie/internal/config"
	"github.com/dkeye/walkie/internal/domain"
	"github.com/dkeye/walkie/internal/media/mic"
)

const usage = "commands: j(oin), t(alk), s(top), q(uit)"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	device, err := mic.New()
	if err != nil {
		log.Fatal().Err(err).Msg("audio backend")
	}
	dialer, err := rtc.NewDialer(cfg.Client.NegotiationTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api")
	}
	conn, err := wsclient.Dial(ctx, cfg.Client.RelayURL, cfg.Client.SendBuffer)
	if err != nil {
		log.Fatal().Err(err).Msg("relay unreachable")
	}

	resolver := rtc.Resolver{Discovery: cfg.Client.DiscoveryServer, Relays: cfg.Client.RelayServers}
	s := session.New(ctx, session.Options{
		Device:        device,
		Dialer:        dialer,
		Signal:        conn,
		Resolve:       resolver.Resolve,
		Cue:           session.Bell{W: os.Stdout},
		ProbeInterval: cfg.Client.ProbeInterval,
		OnRemoteTrack: drain,
	})
	views := s.Subscribe()

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := s.Run(ctx); err != nil {
			log.Error().Err(err).Msg("session")
		}
	})
	wg.Go(func() {
		if err := conn.Run(ctx, s.Deliver); err != nil {
			log.Error().Err(err).Msg("relay connection lost")
		}
		cancel()
	})
	wg.Go(func() {
		for v := range views {
			fmt.Printf("[users %d] connected=%t speaking=%t mic_disabled=%t degraded=%t\n",
				v.UserCounter, v.Connected, v.Speaking, v.MicDisabled, v.Degraded)
		}
	})
	// Stdin reads cannot be interrupted, so this goroutine is not waited on.
	go commands(s, os.Stdin, cancel)

	cont := make(chan os.Signal, 1)
	signal.Notify(cont, syscall.SIGCONT)
	defer signal.Stop(cont)

	fmt.Println(usage)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Info().Msg("walkie exited")
			return
		case <-cont:
			s.Resume()
		}
	}
}

func commands(s *session.Session, in io.Reader, quit context.CancelFunc) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "j", "join":
			if !s.Join() {
				fmt.Println("already joined")
			}
		case "t", "talk":
			if !s.ToggleAudio(true) {
				fmt.Println("cannot talk now")
			}
		case "s", "stop":
			s.ToggleAudio(false)
		case "q", "quit":
			quit()
			return
		case "":
		default:
			fmt.Println(usage)
		}
	}
	quit()
}

// drain consumes a remote track so its RTCP keeps flowing. Playback is left
// to an audio sink outside this binary.
func drain(id domain.ParticipantID, track *webrtc.TrackRemote) {
	logger := log.With().Str("module", "walkie").Str("pid", string(id)).Str("codec", track.Codec().MimeType).Logger()
	logger.Info().Msg("remote audio started")
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug().Err(err).Msg("remote audio read")
			}
			logger.Info().Msg("remote audio ended")
			return
		}
	}
}
