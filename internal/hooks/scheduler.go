package hooks

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/darkden-lab/beacon/internal/apperr"
	"github.com/darkden-lab/beacon/internal/cache"
	"github.com/darkden-lab/beacon/internal/logging"
	"github.com/darkden-lab/beacon/internal/metrics"
)

// maxInFlight bounds concurrent cache deletes and callbacks within a pull.
const maxInFlight = 16

// schemaPattern keeps a schema from reaching into another schema's key
// prefix or acting as a scan pattern.
var schemaPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("schema", func(fl validator.FieldLevel) bool { //nolint:errcheck
		return schemaPattern.MatchString(fl.Field().String())
	})
	return v
}

// Scheduler registers hooks and fires the due ones.
type Scheduler struct {
	cache    cache.Store
	sender   Sender
	ttl      time.Duration
	loc      *time.Location
	validate *validator.Validate
	now      func() time.Time
	log      zerolog.Logger
}

// NewScheduler creates a Scheduler. ttl applies to every stored
// registration; loc is the reference timezone for due checks.
func NewScheduler(c cache.Store, sender Sender, ttl time.Duration, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cache:    c,
		sender:   sender,
		ttl:      ttl,
		loc:      loc,
		validate: newValidator(),
		now:      time.Now,
		log:      logging.With("hooks"),
	}
}

// Save stores reg under HOOKS:<schema>:<hookId> and returns it with its
// generated id.
func (s *Scheduler) Save(ctx context.Context, schema string, reg Registration) (*Registration, error) {
	const op = "hooks.save"
	if err := s.checkSchema(schema); err != nil {
		return nil, apperr.Contract(op, err)
	}

	reg.normalize(schema)
	reg.HookID = uuid.New().String()
	if err := s.validate.Struct(reg); err != nil {
		return nil, apperr.Contract(op, err)
	}

	raw, err := json.Marshal(reg)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if err := s.cache.Set(ctx, cache.HookKey(schema, reg.HookID), raw, s.ttl); err != nil {
		return nil, apperr.Internal(op, err)
	}

	metrics.HooksSaved.Inc()
	s.log.Info().
		Str("hook_id", reg.HookID).
		Str("schema", schema).
		Str("endpoint", reg.ResponseEndpoint).
		Msg("hook registered")
	return &reg, nil
}

func (s *Scheduler) checkSchema(schema string) error {
	if schema == "" {
		return errors.New("response schema is required")
	}
	if err := s.validate.Var(schema, "schema"); err != nil {
		return fmt.Errorf("invalid response schema %q: letters, digits, '_' and '-' only", schema)
	}
	return nil
}

type dueHook struct {
	key string
	reg Registration
}

// PullHook fires every registration under schema whose sendAt has passed.
// All due entries are claimed by deleting them first; only entries this
// call actually removed are fired, so overlapping pulls never fire the same
// entry twice. It returns the number of callbacks issued.
func (s *Scheduler) PullHook(ctx context.Context, schema string, data interface{}) (int, error) {
	const op = "hooks.pull"
	if err := s.checkSchema(schema); err != nil {
		return 0, apperr.Contract(op, err)
	}

	prefix := cache.HookPrefix(schema)
	entries, err := s.cache.Scan(ctx, prefix)
	if err != nil {
		return 0, apperr.Internal(op, err)
	}

	now := s.now().In(s.loc)
	var due []dueHook
	for _, e := range entries {
		if strings.Contains(strings.TrimPrefix(e.Key, prefix), ":") {
			// Belongs to a longer schema sharing this prefix.
			continue
		}
		var reg Registration
		if err := json.Unmarshal(e.Value, &reg); err != nil {
			s.log.Warn().Err(err).Str("key", e.Key).Msg("skipping undecodable hook")
			continue
		}
		if reg.HookID == "" {
			reg.HookID = cache.HookIDFromKey(e.Key)
		}
		if reg.DueAt(now) {
			due = append(due, dueHook{key: e.Key, reg: reg})
		}
	}
	if len(due) == 0 {
		return 0, nil
	}

	claimed, claimErr := s.claim(ctx, due)
	fireErr := s.fire(ctx, claimed, data)

	s.log.Debug().
		Str("schema", schema).
		Int("due", len(due)).
		Int("fired", len(claimed)).
		Msg("hooks pulled")

	switch {
	case claimErr != nil && fireErr != nil:
		return len(claimed), errors.Join(apperr.Internal(op, claimErr), apperr.Integration(op, fireErr))
	case claimErr != nil:
		return len(claimed), apperr.Internal(op, claimErr)
	case fireErr != nil:
		return len(claimed), apperr.Integration(op, fireErr)
	}
	return len(claimed), nil
}

// claim deletes every due entry concurrently and waits for all deletes. An
// entry is claimed only when this delete removed it.
func (s *Scheduler) claim(ctx context.Context, due []dueHook) ([]dueHook, error) {
	var (
		mu      sync.Mutex
		claimed []dueHook
		errs    []error
		g       errgroup.Group
	)
	g.SetLimit(maxInFlight)
	for _, d := range due {
		d := d
		g.Go(func() error {
			n, err := s.cache.Delete(ctx, d.key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", d.key, err))
				return nil
			}
			if n == 1 {
				claimed = append(claimed, d)
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck
	return claimed, errors.Join(errs...)
}

// fire issues the callbacks of claimed entries concurrently and waits for
// all of them.
func (s *Scheduler) fire(ctx context.Context, claimed []dueHook, data interface{}) error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(maxInFlight)
	for _, d := range claimed {
		d := d
		g.Go(func() error {
			err := s.sender.Send(ctx, d.reg, data)
			metrics.RecordHookFired(err)
			if err != nil {
				s.log.Error().Err(err).
					Str("hook_id", d.reg.HookID).
					Str("endpoint", d.reg.ResponseEndpoint).
					Msg("hook callback failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("hook %s: %w", d.reg.HookID, err))
				mu.Unlock()
				return nil
			}
			s.log.Info().Str("hook_id", d.reg.HookID).Str("method", d.reg.ResponseMethod).Msg("hook fired")
			return nil
		})
	}
	g.Wait() //nolint:errcheck
	return errors.Join(errs...)
}
