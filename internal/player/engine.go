// Package player drives playback on one of two decode engines and falls
// back from the hardware engine to the software one when the hardware
// decoder rejects an HEVC stream.
package player

import (
	"context"
	"errors"
)

type EngineKind string

const (
	EnginePrimary  EngineKind = "primary"
	EngineSoftware EngineKind = "software"
)

func ParseEngineKind(value string) (EngineKind, error) {
	switch EngineKind(value) {
	case EnginePrimary, EngineSoftware:
		return EngineKind(value), nil
	default:
		return "", ErrUnknownEngine
	}
}

type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusBuffering Status = "buffering"
	StatusReady     Status = "ready"
	StatusPaused    Status = "paused"
	StatusEnded     Status = "ended"
	StatusError     Status = "error"
)

func ParseStatus(value string) (Status, bool) {
	switch s := Status(value); s {
	case StatusIdle, StatusLoading, StatusBuffering, StatusReady, StatusPaused, StatusEnded, StatusError:
		return s, true
	default:
		return "", false
	}
}

var (
	ErrUnknownEngine = errors.New("unknown player engine")
	ErrEmptySource   = errors.New("empty play url")
	ErrReleased      = errors.New("player released")
)

// Engine is one decode backend. Calls are serialized by the controller.
type Engine interface {
	Kind() EngineKind
	Load(ctx context.Context, url string, headers map[string]string) error
	Stop() error
	Release() error
}

// Command is what a remote engine asks its renderer to do.
type Command struct {
	Type    string            `json:"type"`
	Engine  EngineKind        `json:"engine"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

const (
	CommandLoad    = "load"
	CommandStop    = "stop"
	CommandRelease = "release"
)

type CommandSink interface {
	Send(cmd Command) error
}

// RemoteEngine forwards engine calls to renderers attached elsewhere, such
// as a TV surface connected over a WebSocket.
type RemoteEngine struct {
	kind EngineKind
	sink CommandSink
}

func NewRemoteEngine(kind EngineKind, sink CommandSink) *RemoteEngine {
	return &RemoteEngine{kind: kind, sink: sink}
}

func (e *RemoteEngine) Kind() EngineKind { return e.kind }

func (e *RemoteEngine) Load(ctx context.Context, url string, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	return e.sink.Send(Command{Type: CommandLoad, Engine: e.kind, URL: url, Headers: copied})
}

func (e *RemoteEngine) Stop() error {
	return e.sink.Send(Command{Type: CommandStop, Engine: e.kind})
}

func (e *RemoteEngine) Release() error {
	return e.sink.Send(Command{Type: CommandRelease, Engine: e.kind})
}
