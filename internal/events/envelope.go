// Package events decodes queue envelopes and routes them by schema tag.
package events

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/darkden-lab/beacon/internal/apperr"
	"github.com/darkden-lab/beacon/internal/wire"
)

// Schema is the routing tag of an envelope.
type Schema string

const (
	SchemaDomainEvent      Schema = "DOMAIN_EVENT"
	SchemaBroadcast        Schema = "BROADCAST"
	SchemaNewConnection    Schema = "NEW_CONNECTION"
	SchemaDisableAllRoutes Schema = "DISABLE_ALL_ROUTES"
	SchemaDisableLogin     Schema = "DISABLE_LOGIN"
)

// Domain sub-events carried in payload.event.
const (
	EventNewHook = "NEW_HOOK"
)

// CurrentSchemaVersion is stamped on envelopes built by the producer.
const CurrentSchemaVersion = 1

// Envelope is the wire unit of the queue. Unknown keys are ignored.
type Envelope struct {
	ID            wire.ID                `json:"id" validate:"required"`
	Schema        Schema                 `json:"schema" validate:"required"`
	SchemaVersion *float64               `json:"schemaVersion" validate:"required"`
	Payload       map[string]interface{} `json:"payload" validate:"required"`
	Source        string                 `json:"source" validate:"required"`
	Timestamp     *wire.Timestamp        `json:"timestamp" validate:"required"`
}

// Event returns payload.event, or "" when absent or not a string.
func (e *Envelope) Event() string {
	s, _ := e.Payload["event"].(string)
	return s
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode parses a message body. An empty or malformed body is an internal
// fault.
func Decode(body []byte) (*Envelope, error) {
	const op = "router.decode"
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, apperr.Internal(op, errors.New("message body is empty"))
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperr.Internal(op, fmt.Errorf("decode envelope: %w", err))
	}
	return &env, nil
}

// Validate enforces the required envelope keys. Failures are contract
// faults listing every offending field.
func Validate(env *Envelope) error {
	const op = "router.validate"
	err := validate.Struct(env)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Contract(op, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag()))
	}
	return apperr.Contract(op, fmt.Errorf("invalid envelope: %s", strings.Join(msgs, "; ")))
}
