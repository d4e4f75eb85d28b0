package events

import (
	"errors"
	"fmt"

	"github.com/darkden-lab/beacon/internal/apperr"
	"github.com/darkden-lab/beacon/internal/control"
)

// ErrUnhandledEvent is wrapped by the fault returned for an unknown schema
// or domain sub-event.
var ErrUnhandledEvent = errors.New("unhandled event")

// Event is a classified envelope. The set of implementations is closed.
type Event interface {
	Envelope() *Envelope
	isEvent()
}

type base struct {
	env *Envelope
}

func (b base) Envelope() *Envelope { return b.env }
func (base) isEvent()              {}

// DomainEvent is a DOMAIN_EVENT; Name is payload.event.
type DomainEvent struct {
	base
	Name string
}

// BroadcastEvent is delivered to every connected client.
type BroadcastEvent struct{ base }

// NewConnectionEvent is delivered to the new-connections room.
type NewConnectionEvent struct{ base }

// ControlEvent toggles a process-wide flag once its hash checks out.
type ControlEvent struct {
	base
	Flag          control.Flag
	Disabled      bool
	EnvSecretHash string
}

// Classify converts a validated envelope into its Event variant.
func Classify(env *Envelope) (Event, error) {
	const op = "router.classify"
	b := base{env: env}

	switch env.Schema {
	case SchemaDomainEvent:
		name := env.Event()
		if name == "" {
			return nil, apperr.Contract(op, fmt.Errorf("payload.event is required for %s", env.Schema))
		}
		return DomainEvent{base: b, Name: name}, nil

	case SchemaBroadcast:
		return BroadcastEvent{b}, nil

	case SchemaNewConnection:
		return NewConnectionEvent{b}, nil

	case SchemaDisableAllRoutes, SchemaDisableLogin:
		hash, _ := env.Payload["envSecretHash"].(string)
		disabled, ok := env.Payload["disabled"].(bool)
		if !ok {
			return nil, apperr.Contract(op, fmt.Errorf("payload.disabled must be a boolean for %s", env.Schema))
		}
		return ControlEvent{
			base:          b,
			Flag:          control.Flag(env.Schema),
			Disabled:      disabled,
			EnvSecretHash: hash,
		}, nil

	default:
		return nil, apperr.Internal(op, fmt.Errorf("%w: schema %q", ErrUnhandledEvent, env.Schema))
	}
}
