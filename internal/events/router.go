package events

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/darkden-lab/beacon/internal/apperr"
	"github.com/darkden-lab/beacon/internal/control"
	"github.com/darkden-lab/beacon/internal/logging"
	"github.com/darkden-lab/beacon/internal/metrics"
	"github.com/darkden-lab/beacon/internal/subscriptions"
	"github.com/darkden-lab/beacon/internal/wire"
)

// Fanout delivers envelopes to live clients. Implemented by
// subscriptions.Registry.
type Fanout interface {
	Broadcast(ctx context.Context, msg interface{}) error
	Emit(ctx context.Context, msg interface{}, target wire.Target) error
}

// HookPuller fires due webhooks. Implemented by hooks.Scheduler.
type HookPuller interface {
	PullHook(ctx context.Context, schema string, data interface{}) (int, error)
}

// ControlPublisher broadcasts flag changes. Implemented by control.Bus.
type ControlPublisher interface {
	Publish(c control.Change) error
}

// Secrets are the inputs of the control-plane hash.
type Secrets struct {
	Environment string
	EnvSecret   string
}

// Router validates envelopes and dispatches them by schema.
type Router struct {
	fanout  Fanout
	hooks   HookPuller
	control ControlPublisher
	secrets Secrets
	log     zerolog.Logger
}

// NewRouter creates a Router.
func NewRouter(fanout Fanout, hooks HookPuller, ctl ControlPublisher, secrets Secrets) *Router {
	return &Router{
		fanout:  fanout,
		hooks:   hooks,
		control: ctl,
		secrets: secrets,
		log:     logging.With("router"),
	}
}

// Route decodes, validates, classifies and dispatches one message body.
// Errors are returned unchanged for the consumer to decide disposition.
func (r *Router) Route(ctx context.Context, body []byte) error {
	env, err := Decode(body)
	if err != nil {
		return err
	}
	if err := Validate(env); err != nil {
		return err
	}
	ev, err := Classify(env)
	if err == nil {
		err = r.Dispatch(ctx, ev)
	}
	metrics.RecordRoute(string(env.Schema), err)
	return err
}

// Dispatch runs the action of a classified event.
func (r *Router) Dispatch(ctx context.Context, ev Event) error {
	env := ev.Envelope()
	log := r.log.With().Str("message_id", string(env.ID)).Str("schema", string(env.Schema)).Logger()

	switch e := ev.(type) {
	case DomainEvent:
		switch e.Name {
		case EventNewHook:
			fired, err := r.hooks.PullHook(ctx, EventNewHook, env.Payload)
			if err != nil {
				return err
			}
			log.Debug().Int("fired", fired).Msg("hooks pulled")
			return nil
		default:
			return apperr.Internal("router.dispatch", fmt.Errorf("%w: domain event %q", ErrUnhandledEvent, e.Name))
		}

	case BroadcastEvent:
		return r.fanout.Broadcast(ctx, env)

	case NewConnectionEvent:
		return r.fanout.Emit(ctx, env, wire.Single(subscriptions.NewConnectionsRoom))

	case ControlEvent:
		if !verifyEnvSecretHash(r.secrets.Environment, r.secrets.EnvSecret, e.EnvSecretHash) {
			log.Warn().Str("flag", string(e.Flag)).Msg("control message rejected: env secret hash mismatch")
			return nil
		}
		if err := r.control.Publish(control.Change{Flag: e.Flag, Disabled: e.Disabled}); err != nil {
			return apperr.Internal("router.control", err)
		}
		log.Info().Str("flag", string(e.Flag)).Bool("disabled", e.Disabled).Msg("control flag published")
		return nil

	default:
		return apperr.Internal("router.dispatch", fmt.Errorf("%w: %T", ErrUnhandledEvent, ev))
	}
}
