package session

import (
	"io"

	"github.com/rs/zerolog/log"
)

// Cue is the short notification sound played when the mic gate or the
// joined state changes.
type Cue interface {
	Play()
}

// Bell rings the terminal bell.
type Bell struct {
	W io.Writer
}

func (b Bell) Play() {
	if _, err := b.W.Write([]byte{'\a'}); err != nil {
		log.Debug().Err(err).Str("module", "session").Msg("bell")
	}
}

type NopCue struct{}

func (NopCue) Play() {}
