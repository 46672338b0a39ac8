package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joeblew999/uhi-map/internal/classify"
	"github.com/joeblew999/uhi-map/internal/overlay"
	"github.com/joeblew999/uhi-map/internal/raster"
)

// ErrSessionNotFound is returned for unknown or expired session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Session is one viewer: a map, its controls, and the overlay manager
// driving both.
type Session struct {
	ID        string
	CreatedAt time.Time
	Manager   *overlay.Manager
	View      *ViewState
	Map       *MapState

	mu       sync.Mutex
	lastSeen time.Time
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// Snapshot returns the full session state.
func (s *Session) Snapshot() SessionSnapshot {
	state := s.Manager.State()
	view := s.View.Snapshot()
	for i, o := range view.Overlays {
		kind := classify.Kind(o.Kind)
		view.Overlays[i].Active = state.IsActive(kind)
		view.Overlays[i].Loading = state.IsLoading(kind)
	}
	return SessionSnapshot{
		ID:        s.ID,
		Mode:      state.Mode.String(),
		View:      view,
		Map:       s.Map.Snapshot(),
		CreatedAt: s.CreatedAt,
		LastSeen:  s.LastSeen(),
	}
}

// SessionOptions configures a SessionService.
type SessionOptions struct {
	Overlay   overlay.Config
	Fetcher   overlay.Fetcher
	Decoder   raster.Decoder
	ThumbSize uint
	TTL       time.Duration
	// LayerURL returns the URL prefix under which a session's layer images
	// are served.
	LayerURL func(session string) string
	Bus      *EventBus
	Logger   *zap.Logger
	Now      func() time.Time
}

// SessionService owns the live viewer sessions.
type SessionService struct {
	opts   SessionOptions
	logger *zap.Logger

	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionService creates a new session service.
func NewSessionService(opts SessionOptions) *SessionService {
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Bus == nil {
		opts.Bus = NewEventBus()
	}
	if opts.LayerURL == nil {
		opts.LayerURL = func(id string) string { return "/api/v1/sessions/" + id + "/layers" }
	}
	return &SessionService{
		opts:     opts,
		logger:   opts.Logger.Named("sessions"),
		sessions: make(map[string]*Session),
	}
}

// Bus returns the event bus sessions publish on.
func (s *SessionService) Bus() *EventBus {
	return s.opts.Bus
}

// Create starts a new session in the none state.
func (s *SessionService) Create() *Session {
	now := s.opts.Now()
	id := uuid.NewString()

	view := NewViewState(id, s.opts.Bus)
	surface := NewMapState(id, s.opts.LayerURL(id), s.opts.ThumbSize, s.opts.Bus)
	sess := &Session{
		ID:        id,
		CreatedAt: now,
		View:      view,
		Map:       surface,
		lastSeen:  now,
	}
	sess.Manager = overlay.NewManager(s.opts.Overlay, overlay.Deps{
		Fetcher:  s.opts.Fetcher,
		Decoder:  s.opts.Decoder,
		Surface:  surface,
		View:     view,
		Notifier: view,
		Logger:   s.opts.Logger.With(zap.String("session", id)),
	})

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.logger.Debug("session created", zap.String("session", id))
	s.opts.Bus.Publish(Event{Session: id, Resource: "session", Action: "created"})
	return sess
}

// Get returns a session and marks it as used.
func (s *SessionService) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.touch(s.opts.Now())
	return sess, nil
}

// Delete ends a session and drops its overlays.
func (s *SessionService) Delete(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.end(sess)
	return nil
}

// List returns all live sessions, oldest first.
func (s *SessionService) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, sess)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

// Sweep expires sessions idle for longer than the TTL and returns how many
// were removed.
func (s *SessionService) Sweep() int {
	if s.opts.TTL <= 0 {
		return 0
	}
	cutoff := s.opts.Now().Add(-s.opts.TTL)

	var expired []*Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.LastSeen().Before(cutoff) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		s.end(sess)
	}
	if len(expired) > 0 {
		s.logger.Info("expired idle sessions", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Run sweeps idle sessions until ctx is done.
func (s *SessionService) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *SessionService) end(sess *Session) {
	sess.Manager.Reset()
	s.opts.Bus.Publish(Event{Session: sess.ID, Resource: "session", Action: "expired"})
}
