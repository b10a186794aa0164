package playback

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest = errors.New("invalid play request")
	ErrResolve        = errors.New("play resolve failed")
	ErrPlayer         = errors.New("player error")
)

func wrapResolve(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrResolve, err)
}

func wrapPlayer(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPlayer, err)
}
