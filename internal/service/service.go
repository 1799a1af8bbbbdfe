// Package service implements the application layer: attendee status
// evaluation, exactly-once rule consumption, announcements, and the cached
// ruleset that backs every evaluation.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/CCIP-App/ccip-server/internal/core"
	"github.com/CCIP-App/ccip-server/internal/repository"
)

const (
	defaultCacheResyncInterval = time.Minute
	cacheReloadTimeout         = 5 * time.Second

	// Shown when an attendee row carries no display name.
	unknownAttendeeName = "Unknown Attendee"
)

var (
	ErrAttendeeNotFound   = errors.New("attendee not found")
	ErrUnknownRule        = errors.New("unknown rule")
	ErrScenarioNotVisible = errors.New("scenario not visible")
	ErrRuleLocked         = errors.New("rule locked")
	ErrInvalidRuleset     = errors.New("invalid ruleset")
)

// AttendeeStore is the attendee persistence the service depends on.
type AttendeeStore interface {
	FindAttendeeByToken(ctx context.Context, token string) (repository.Attendee, error)
	CheckInAttendee(ctx context.Context, token string, at time.Time) error
	MarkRuleUsed(ctx context.Context, token, ruleID string, usedAt time.Time) error
}

// RulesetStore persists the raw ruleset document.
type RulesetStore interface {
	LoadRulesetConfig(ctx context.Context) (json.RawMessage, error)
	ReplaceRulesetConfig(ctx context.Context, config json.RawMessage) error
}

// AnnouncementStore persists announcements.
type AnnouncementStore interface {
	ListAnnouncementsForRole(ctx context.Context, role string) ([]repository.Announcement, error)
	CreateAnnouncement(ctx context.Context, announcement repository.Announcement) (repository.Announcement, error)
}

type rulesetInvalidationSubscriber interface {
	SubscribeRulesetInvalidation(ctx context.Context) (<-chan struct{}, error)
}

// Clock abstracts the current time so evaluations are testable and a
// deployment can pin time for rehearsals.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

// FixedClock returns a Clock frozen at the given instant.
func FixedClock(at time.Time) Clock { return fixedClock{at: at} }

// CacheMetrics observes ruleset cache activity. Implementations must be
// safe for concurrent use.
type CacheMetrics interface {
	RulesetReloaded(success bool)
	RulesetInvalidated()
}

type noopCacheMetrics struct{}

func (noopCacheMetrics) RulesetReloaded(bool) {}
func (noopCacheMetrics) RulesetInvalidated()  {}

// UsageMetrics observes attendee activity.
type UsageMetrics interface {
	AttendeeCheckedIn()
}

type noopUsageMetrics struct{}

func (noopUsageMetrics) AttendeeCheckedIn() {}

// AttendeeStatus is the result of evaluating the ruleset for one attendee
// at one instant.
type AttendeeStatus struct {
	Attendee *core.Attendee
	Result   *core.Result
	Now      time.Time
}

// Profile is the minimal landing payload for one attendee.
type Profile struct {
	Nickname string `json:"nickname"`
}

// CreateAnnouncementRequest carries the fields of a new announcement.
// Roles restricts readership; empty means every role.
type CreateAnnouncementRequest struct {
	Messages map[string]string
	URI      string
	Roles    []string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces the evaluation clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCacheMetrics wires ruleset cache observability.
func WithCacheMetrics(metrics CacheMetrics) Option {
	return func(s *Service) {
		if metrics != nil {
			s.cacheMetrics = metrics
		}
	}
}

// WithUsageMetrics wires attendee activity observability.
func WithUsageMetrics(metrics UsageMetrics) Option {
	return func(s *Service) {
		if metrics != nil {
			s.usageMetrics = metrics
		}
	}
}

// WithCacheResyncInterval overrides how often the ruleset cache is
// reloaded even without an invalidation signal.
func WithCacheResyncInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.resyncInterval = interval
		}
	}
}

// Service coordinates the evaluation engine, persistence, and the cached
// ruleset.
type Service struct {
	attendees     AttendeeStore
	rulesets      RulesetStore
	announcements AnnouncementStore

	clock          Clock
	logger         *slog.Logger
	cacheMetrics   CacheMetrics
	usageMetrics   UsageMetrics
	resyncInterval time.Duration

	mu      sync.RWMutex
	ruleset *core.Ruleset
}

// New builds a Service, loads the ruleset cache, and, when the ruleset
// store supports it, starts the cache invalidation listener.
func New(ctx context.Context, attendees AttendeeStore, rulesets RulesetStore, announcements AnnouncementStore, opts ...Option) (*Service, error) {
	if attendees == nil {
		return nil, errors.New("attendee store is nil")
	}
	if rulesets == nil {
		return nil, errors.New("ruleset store is nil")
	}
	if announcements == nil {
		return nil, errors.New("announcement store is nil")
	}

	svc := &Service{
		attendees:      attendees,
		rulesets:       rulesets,
		announcements:  announcements,
		clock:          systemClock{},
		logger:         slog.Default(),
		cacheMetrics:   noopCacheMetrics{},
		usageMetrics:   noopUsageMetrics{},
		resyncInterval: defaultCacheResyncInterval,
	}
	for _, opt := range opts {
		opt(svc)
	}

	if err := svc.LoadRuleset(ctx); err != nil {
		return nil, err
	}
	if subscriber, ok := rulesets.(rulesetInvalidationSubscriber); ok {
		if err := svc.startCacheInvalidationListener(ctx, subscriber); err != nil {
			return nil, err
		}
	}

	return svc, nil
}

// LoadRuleset fetches and parses the stored ruleset document, replacing
// the cached ruleset on success. A document that fails to parse leaves the
// previous ruleset in place.
func (s *Service) LoadRuleset(ctx context.Context) error {
	config, err := s.rulesets.LoadRulesetConfig(ctx)
	if err != nil {
		s.cacheMetrics.RulesetReloaded(false)
		return fmt.Errorf("load ruleset config: %w", err)
	}

	ruleset, err := core.ParseRuleset(config)
	if err != nil {
		s.cacheMetrics.RulesetReloaded(false)
		return fmt.Errorf("%w: %v", ErrInvalidRuleset, err)
	}

	s.mu.Lock()
	s.ruleset = ruleset
	s.mu.Unlock()
	s.cacheMetrics.RulesetReloaded(true)

	return nil
}

// Evaluate computes the full scenario status for one attendee. The first
// non-privileged call also records the attendee's check-in time.
func (s *Service) Evaluate(ctx context.Context, token string, privileged bool) (*AttendeeStatus, error) {
	attendee, err := s.loadAttendee(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	attendee, err = s.checkInIfNeeded(ctx, attendee, now, privileged)
	if err != nil {
		return nil, err
	}

	return &AttendeeStatus{
		Attendee: attendee,
		Result:   core.Evaluate(s.currentRuleset(), attendee, now, privileged),
		Now:      now,
	}, nil
}

// UseRule consumes a rule on behalf of an attendee. Exactly one of any
// number of concurrent calls for the same attendee and rule succeeds; the
// rest observe ErrRuleLocked. On success the returned status reflects the
// attendee after consumption.
func (s *Service) UseRule(ctx context.Context, token, ruleID string, privileged bool) (*AttendeeStatus, error) {
	attendee, err := s.loadAttendee(ctx, token)
	if err != nil {
		return nil, err
	}

	// Check-in happens before the rule lookup; it is an idempotent side
	// effect of any first access, even one naming a nonexistent rule.
	now := s.clock.Now()
	attendee, err = s.checkInIfNeeded(ctx, attendee, now, privileged)
	if err != nil {
		return nil, err
	}

	ruleset := s.currentRuleset()
	if _, ok := ruleset.Rule(ruleID); !ok {
		return nil, fmt.Errorf("use rule %q: %w", ruleID, ErrUnknownRule)
	}

	evaluated := core.Evaluate(ruleset, attendee, now, privileged)
	ruleResult := evaluated.Rule(ruleID)
	if ruleResult == nil || !ruleResult.Visible {
		return nil, fmt.Errorf("use rule %q: %w", ruleID, ErrScenarioNotVisible)
	}
	if ruleResult.Used || !ruleResult.Usable {
		return nil, fmt.Errorf("use rule %q: %w", ruleID, ErrRuleLocked)
	}

	if err := s.attendees.MarkRuleUsed(ctx, token, ruleID, now); err != nil {
		switch {
		case errors.Is(err, repository.ErrRuleAlreadyUsed):
			return nil, fmt.Errorf("use rule %q: %w", ruleID, ErrRuleLocked)
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrAttendeeNotFound
		default:
			return nil, fmt.Errorf("use rule %q: %w", ruleID, err)
		}
	}

	// Reload so the response reflects the committed ledger entry, not a
	// locally patched snapshot.
	attendee, err = s.loadAttendee(ctx, token)
	if err != nil {
		return nil, err
	}

	return &AttendeeStatus{
		Attendee: attendee,
		Result:   core.Evaluate(ruleset, attendee, now, privileged),
		Now:      now,
	}, nil
}

// GetProfile returns the attendee's landing profile. Unlike Evaluate it
// never checks the attendee in.
func (s *Service) GetProfile(ctx context.Context, token string) (Profile, error) {
	attendee, err := s.loadAttendee(ctx, token)
	if err != nil {
		return Profile{}, err
	}

	nickname := attendee.DisplayName
	if strings.TrimSpace(nickname) == "" {
		nickname = unknownAttendeeName
	}

	return Profile{Nickname: nickname}, nil
}

// ListAnnouncements returns the announcements visible to the attendee's
// role, newest first. A blank token gets the audience view.
func (s *Service) ListAnnouncements(ctx context.Context, token string) ([]repository.Announcement, error) {
	role := core.RoleAudience
	if strings.TrimSpace(token) != "" {
		attendee, err := s.loadAttendee(ctx, token)
		if err != nil {
			return nil, err
		}
		role = attendee.Role
	}

	announcements, err := s.announcements.ListAnnouncementsForRole(ctx, string(role))
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}

	return announcements, nil
}

// CreateAnnouncement stores a new announcement.
func (s *Service) CreateAnnouncement(ctx context.Context, request CreateAnnouncementRequest) (repository.Announcement, error) {
	if len(request.Messages) == 0 {
		return repository.Announcement{}, errors.New("announcement message is required")
	}

	roles := request.Roles
	if roles == nil {
		roles = []string{}
	}

	created, err := s.announcements.CreateAnnouncement(ctx, repository.Announcement{
		ID:          uuid.NewString(),
		AnnouncedAt: s.clock.Now(),
		Messages:    request.Messages,
		URI:         request.URI,
		Roles:       roles,
	})
	if err != nil {
		return repository.Announcement{}, fmt.Errorf("create announcement: %w", err)
	}

	return created, nil
}

// ReplaceRuleset validates and stores a new ruleset document, then swaps
// the cache so subsequent evaluations observe it immediately.
func (s *Service) ReplaceRuleset(ctx context.Context, config json.RawMessage) error {
	ruleset, err := core.ParseRuleset(config)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRuleset, err)
	}

	if err := s.rulesets.ReplaceRulesetConfig(ctx, config); err != nil {
		return fmt.Errorf("replace ruleset config: %w", err)
	}

	s.mu.Lock()
	s.ruleset = ruleset
	s.mu.Unlock()

	return nil
}

func (s *Service) currentRuleset() *core.Ruleset {
	s.mu.RLock()
	ruleset := s.ruleset
	s.mu.RUnlock()

	return ruleset
}

func (s *Service) loadAttendee(ctx context.Context, token string) (*core.Attendee, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrAttendeeNotFound
	}

	row, err := s.attendees.FindAttendeeByToken(ctx, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttendeeNotFound
		}
		return nil, fmt.Errorf("load attendee: %w", err)
	}

	return attendeeFromRow(row)
}

// checkInIfNeeded stamps first_used_at on the attendee's first
// non-privileged access. Privileged lookups never check an attendee in.
func (s *Service) checkInIfNeeded(ctx context.Context, attendee *core.Attendee, now time.Time, privileged bool) (*core.Attendee, error) {
	if privileged || attendee.FirstUsedAt != nil {
		return attendee, nil
	}

	if err := s.attendees.CheckInAttendee(ctx, attendee.Token, now); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttendeeNotFound
		}
		return nil, fmt.Errorf("check in attendee: %w", err)
	}
	s.usageMetrics.AttendeeCheckedIn()

	// The storage write is idempotent, so a concurrent first access may
	// have won; reload to report the committed check-in time.
	return s.loadAttendee(ctx, attendee.Token)
}

func (s *Service) startCacheInvalidationListener(ctx context.Context, subscriber rulesetInvalidationSubscriber) error {
	invalidations, err := subscriber.SubscribeRulesetInvalidation(ctx)
	if err != nil {
		return fmt.Errorf("subscribe ruleset invalidation: %w", err)
	}

	go func() {
		resyncTicker := time.NewTicker(s.resyncInterval)
		defer resyncTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-resyncTicker.C:
				if invalidations == nil {
					next, err := subscriber.SubscribeRulesetInvalidation(ctx)
					if err == nil {
						invalidations = next
					}
				}
				s.reloadRuleset(ctx)
			case _, ok := <-invalidations:
				if !ok {
					next, err := subscriber.SubscribeRulesetInvalidation(ctx)
					if err != nil {
						invalidations = nil
						continue
					}
					invalidations = next
					continue
				}
				s.cacheMetrics.RulesetInvalidated()
				s.reloadRuleset(ctx)
			}
		}
	}()

	return nil
}

func (s *Service) reloadRuleset(ctx context.Context) {
	reloadCtx, cancel := context.WithTimeout(ctx, cacheReloadTimeout)
	defer cancel()

	if err := s.LoadRuleset(reloadCtx); err != nil {
		s.logger.Warn("ruleset reload failed", "error", err)
	}
}

func attendeeFromRow(row repository.Attendee) (*core.Attendee, error) {
	metadata := make(map[string]any)
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return nil, fmt.Errorf("decode attendee %q metadata: %w", row.Token, err)
		}
	}

	return core.NewAttendee(row.Token, row.DisplayName, core.ParseRole(row.Role), row.FirstUsedAt, metadata), nil
}
