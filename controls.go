package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/arre-reader/arre/internal/audio"
)

type control int

const (
	controlNone control = iota
	controlTogglePause
	controlReset
	controlFaster
	controlSlower
	controlSlow
	controlNormal
	controlFast
	controlQuit
)

// keyControls maps keys to transport controls.
var keyControls = map[byte]control{
	' ':  controlTogglePause,
	'p':  controlTogglePause,
	'r':  controlReset,
	'+':  controlFaster,
	'=':  controlFaster,
	'-':  controlSlower,
	's':  controlSlow,
	'n':  controlNormal,
	'f':  controlFast,
	'q':  controlQuit,
	3:    controlQuit, // ctrl+c in raw mode
	0x1b: controlQuit,
}

const keyHelp = "space: pause/play • r: restart • +/-: speed • s/n/f: 0.5x/1x/1.5x • q: quit"

// applyControl runs c against the player and describes the result.
func applyControl(p *audio.Scheduler, c control) (string, error) {
	switch c {
	case controlTogglePause:
		paused, err := p.TogglePause()
		if err != nil {
			return "", err
		}
		if paused {
			return "paused", nil
		}
		return "playing", nil
	case controlReset:
		return "restarted", p.Reset()
	case controlFaster, controlSlower:
		return setRate(p, audio.StepRate(p.Sink().Rate(), c == controlFaster))
	case controlSlow:
		return setRate(p, audio.RateSlow)
	case controlNormal:
		return setRate(p, audio.RateNormal)
	case controlFast:
		return setRate(p, audio.RateFast)
	default:
		return "", nil
	}
}

func setRate(p *audio.Scheduler, rate float64) (string, error) {
	if err := p.SetRate(rate); err != nil {
		return "", err
	}
	return fmt.Sprintf("speed %gx", rate), nil
}

// watchKeys puts in into raw mode and applies key presses to the player
// until ctx ends. quit is called for q, escape and ctrl+c. The returned
// function restores the terminal.
func watchKeys(ctx context.Context, in *os.File, p *audio.Scheduler, quit func(), out *status) (func(), error) {
	if !isTerminal(in) {
		return nil, errors.New("stdin is not a terminal")
	}
	fd := int(in.Fd()) //nolint:gosec
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("unable to enter raw mode: %w", err)
	}
	out.print(faint(keyHelp))

	keys := make(chan byte)
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := in.Read(buf)
			if err != nil {
				return
			}
			if n == 0 {
				continue
			}
			select {
			case keys <- buf[0]:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case k := <-keys:
				c, ok := keyControls[k]
				if !ok {
					continue
				}
				if c == controlQuit {
					quit()
					return
				}
				msg, err := applyControl(p, c)
				if err != nil {
					out.warn(err.Error())
					continue
				}
				if msg != "" {
					out.info(msg)
				}
			}
		}
	}()

	return func() { _ = term.Restore(fd, old) }, nil
}
