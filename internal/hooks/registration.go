// Package hooks stores deferred webhook registrations in the cache and fires
// the due ones when a pull is requested.
package hooks

import (
	"strings"
	"time"

	"github.com/darkden-lab/beacon/internal/wire"
)

// DefaultMethod is used when a registration names no HTTP verb.
const DefaultMethod = "GET"

// Registration is a deferred callback request.
type Registration struct {
	HookID           string          `json:"hookId"`
	ResponseEndpoint string          `json:"responseEndpoint" validate:"required,url"`
	ResponseMethod   string          `json:"responseMethod" validate:"oneof=GET POST PUT PATCH DELETE"`
	ResponseSchema   string          `json:"responseSchema"`
	SendAt           *wire.Timestamp `json:"sendAt,omitempty"`
}

func (r *Registration) normalize(schema string) {
	r.ResponseMethod = strings.ToUpper(strings.TrimSpace(r.ResponseMethod))
	if r.ResponseMethod == "" {
		r.ResponseMethod = DefaultMethod
	}
	r.ResponseSchema = schema
}

// DueAt reports whether the registration should fire at now. A registration
// without sendAt is already due.
func (r *Registration) DueAt(now time.Time) bool {
	if r.SendAt == nil || r.SendAt.IsZero() {
		return true
	}
	return !r.SendAt.After(now)
}
