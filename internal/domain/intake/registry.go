package intake

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/healz/reports/internal/domain/form"
	"github.com/healz/reports/internal/domain/questionnaire"
)

// DefaultIdleTTL drops sessions nobody has touched for this long.
const DefaultIdleTTL = 2 * time.Hour

// FormSource resolves tokens and loads the question catalog.
type FormSource interface {
	ResolveByToken(ctx context.Context, token string) (*form.Instance, error)
	Catalog(ctx context.Context) (*questionnaire.Catalog, error)
}

// Registry holds at most one live session per form token. Sessions are
// memory only; a dropped session loses its answers.
type Registry struct {
	source  FormSource
	idleTTL time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(source FormSource, idleTTL time.Duration, logger zerolog.Logger) *Registry {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Registry{
		source:   source,
		idleTTL:  idleTTL,
		logger:   logger.With().Str("component", "intake_registry").Logger(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Open returns the live session for token, creating it on first use. Form
// errors from the source (not found, expired, completed) pass through.
func (r *Registry) Open(ctx context.Context, token string) (*Session, error) {
	now := r.now()

	r.mu.Lock()
	s, ok := r.sessions[token]
	r.mu.Unlock()
	if ok {
		if err := s.form.Check(now); err != nil && !s.Consumed() {
			r.Discard(token)
			return nil, err
		}
		if !s.Consumed() {
			s.touch(now)
			return s, nil
		}
		r.Discard(token)
	}

	f, err := r.source.ResolveByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	cat, err := r.source.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another request may have opened it while the lock was released.
	if existing, ok := r.sessions[token]; ok && !existing.Consumed() {
		existing.touch(now)
		return existing, nil
	}
	s = NewSession(f, cat, now)
	r.sessions[token] = s
	return s, nil
}

// Discard forgets the session for token.
func (r *Registry) Discard(token string) {
	r.mu.Lock()
	delete(r.sessions, token)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops idle sessions and returns how many it removed. Sessions in
// the middle of a submission are kept.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for token, s := range r.sessions {
		idle, submitting := s.idleSince(now)
		if submitting || idle < r.idleTTL {
			continue
		}
		delete(r.sessions, token)
		removed++
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.idleTTL / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				r.logger.Debug().Int("removed", n).Msg("swept idle form sessions")
			}
		}
	}
}
