// Package repository provides PostgreSQL-backed persistence for attendees,
// the ruleset configuration document, and announcements. Ruleset updates
// emit a NOTIFY so the service layer can refresh its parsed cache without
// polling the database into submission.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultNotifyChannel = "ruleset_events"

	// A single deployment carries a single ruleset document.
	rulesetName = "default"
)

// Attendee is the repository-level representation of an attendee row. The
// metadata column is kept raw; the service layer converts it to the
// engine's attendee snapshot.
type Attendee struct {
	Token       string          `json:"-"`
	DisplayName string          `json:"display_name"`
	Role        string          `json:"role"`
	FirstUsedAt *time.Time      `json:"first_used_at,omitempty"`
	Metadata    json.RawMessage `json:"metadata"`
}

// Announcement is one announcement row. Messages maps locale tags to text;
// Roles restricts readership, with an empty list meaning everyone.
type Announcement struct {
	ID          string            `json:"id"`
	AnnouncedAt time.Time         `json:"announced_at"`
	Messages    map[string]string `json:"messages"`
	URI         string            `json:"uri"`
	Roles       []string          `json:"roles"`
}

// PostgresRepository implements attendee, ruleset, and announcement
// persistence backed by a pgxpool connection pool.
type PostgresRepository struct {
	pool          *pgxpool.Pool
	notifyChannel string
}

// NewPostgresRepository creates a [PostgresRepository] using the default
// "ruleset_events" notification channel.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return NewPostgresRepositoryWithChannel(pool, defaultNotifyChannel)
}

// NewPostgresRepositoryWithChannel creates a [PostgresRepository] using the
// specified LISTEN/NOTIFY channel for ruleset change notifications.
func NewPostgresRepositoryWithChannel(pool *pgxpool.Pool, notifyChannel string) *PostgresRepository {
	return &PostgresRepository{
		pool:          pool,
		notifyChannel: normalizeNotifyChannel(notifyChannel),
	}
}

// FindAttendeeByToken retrieves a single attendee by raw token. Returns
// pgx.ErrNoRows (wrapped) when no such attendee exists.
func (r *PostgresRepository) FindAttendeeByToken(ctx context.Context, token string) (Attendee, error) {
	var attendee Attendee
	err := r.pool.QueryRow(ctx, `
		SELECT token, display_name, role, first_used_at, metadata
		FROM attendees
		WHERE token = $1
	`, token).Scan(
		&attendee.Token,
		&attendee.DisplayName,
		&attendee.Role,
		&attendee.FirstUsedAt,
		&attendee.Metadata,
	)
	if err != nil {
		return Attendee{}, fmt.Errorf("find attendee: %w", err)
	}

	return attendee, nil
}

// CheckInAttendee sets first_used_at exactly once. Repeated calls are
// no-ops, so concurrent first requests cannot move the check-in time.
// Returns pgx.ErrNoRows (wrapped) when the attendee does not exist.
func (r *PostgresRepository) CheckInAttendee(ctx context.Context, token string, at time.Time) error {
	commandTag, err := r.pool.Exec(ctx, `
		UPDATE attendees
		SET first_used_at = $2
		WHERE token = $1 AND first_used_at IS NULL
	`, token, at)
	if err != nil {
		return fmt.Errorf("check in attendee: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		exists, err := r.attendeeExists(ctx, token)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("check in attendee: %w", pgx.ErrNoRows)
		}
	}

	return nil
}

// MarkRuleUsed records consumption of a rule as a compare-and-set keyed on
// the absence of the reserved metadata key: of any number of concurrent
// calls for the same (attendee, rule) pair, exactly one update matches.
// Losers get [ErrRuleAlreadyUsed]; a missing attendee gets pgx.ErrNoRows
// (wrapped). The consumption timestamp is stored as decimal-string seconds
// and is never overwritten afterwards.
func (r *PostgresRepository) MarkRuleUsed(ctx context.Context, token, ruleID string, usedAt time.Time) error {
	key := ruleUsageKey(ruleID)
	seconds := strconv.FormatInt(usedAt.Unix(), 10)

	commandTag, err := r.pool.Exec(ctx, `
		UPDATE attendees
		SET metadata = jsonb_set(COALESCE(metadata, '{}'::jsonb), ARRAY[$2], to_jsonb($3::text))
		WHERE token = $1
		  AND NOT (COALESCE(metadata, '{}'::jsonb) ? $2)
	`, token, key, seconds)
	if err != nil {
		return fmt.Errorf("mark rule used: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		exists, err := r.attendeeExists(ctx, token)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("mark rule used: %w", pgx.ErrNoRows)
		}
		return fmt.Errorf("mark rule used %q: %w", ruleID, ErrRuleAlreadyUsed)
	}

	return nil
}

// LoadRulesetConfig returns the raw ruleset document, or an empty document
// when none has been stored yet.
func (r *PostgresRepository) LoadRulesetConfig(ctx context.Context) (json.RawMessage, error) {
	var config json.RawMessage
	err := r.pool.QueryRow(ctx, `
		SELECT config FROM rulesets WHERE name = $1
	`, rulesetName).Scan(&config)
	if err != nil {
		if pgxNoRows(err) {
			return json.RawMessage(`{}`), nil
		}
		return nil, fmt.Errorf("load ruleset: %w", err)
	}

	return config, nil
}

// ReplaceRulesetConfig upserts the ruleset document and sends a NOTIFY on
// the configured channel within a single transaction, so listeners only
// refresh after the new document is committed.
func (r *PostgresRepository) ReplaceRulesetConfig(ctx context.Context, config json.RawMessage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace ruleset tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO rulesets (name, config, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET config = EXCLUDED.config, updated_at = NOW()
	`, rulesetName, ensureJSON(config, "{}")); err != nil {
		return fmt.Errorf("upsert ruleset: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, r.notifyChannel, rulesetName); err != nil {
		return fmt.Errorf("notify ruleset change: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace ruleset tx: %w", err)
	}

	return nil
}

// ListAnnouncementsForRole returns announcements readable by the given
// role, newest first. Announcements with an empty role list are readable
// by everyone.
func (r *PostgresRepository) ListAnnouncementsForRole(ctx context.Context, role string) ([]Announcement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, announced_at, message, uri, roles
		FROM announcements
		WHERE jsonb_array_length(roles) = 0 OR roles ? $1
		ORDER BY announced_at DESC, id
	`, role)
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	defer rows.Close()

	announcements := make([]Announcement, 0)
	for rows.Next() {
		var announcement Announcement
		var messages, roles []byte
		if err := rows.Scan(
			&announcement.ID,
			&announcement.AnnouncedAt,
			&messages,
			&announcement.URI,
			&roles,
		); err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		if err := json.Unmarshal(messages, &announcement.Messages); err != nil {
			return nil, fmt.Errorf("decode announcement messages: %w", err)
		}
		if err := json.Unmarshal(roles, &announcement.Roles); err != nil {
			return nil, fmt.Errorf("decode announcement roles: %w", err)
		}

		announcements = append(announcements, announcement)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list announcements rows: %w", err)
	}

	return announcements, nil
}

// CreateAnnouncement inserts a new announcement row.
func (r *PostgresRepository) CreateAnnouncement(ctx context.Context, announcement Announcement) (Announcement, error) {
	messages, err := json.Marshal(announcement.Messages)
	if err != nil {
		return Announcement{}, fmt.Errorf("encode announcement messages: %w", err)
	}
	roles := announcement.Roles
	if roles == nil {
		roles = []string{}
	}
	encodedRoles, err := json.Marshal(roles)
	if err != nil {
		return Announcement{}, fmt.Errorf("encode announcement roles: %w", err)
	}

	if _, err := r.pool.Exec(ctx, `
		INSERT INTO announcements (id, announced_at, message, uri, roles)
		VALUES ($1, $2, $3, $4, $5)
	`,
		announcement.ID,
		announcement.AnnouncedAt,
		messages,
		announcement.URI,
		encodedRoles,
	); err != nil {
		return Announcement{}, fmt.Errorf("create announcement: %w", err)
	}

	return announcement, nil
}

// SubscribeRulesetInvalidation returns a channel that receives a signal
// whenever a ruleset notification arrives on the PostgreSQL LISTEN
// channel. The channel is closed if the underlying connection is lost.
func (r *PostgresRepository) SubscribeRulesetInvalidation(ctx context.Context) (<-chan struct{}, error) {
	invalidations := make(chan struct{}, 1)

	go r.runRulesetInvalidationListener(ctx, invalidations)

	return invalidations, nil
}

func (r *PostgresRepository) runRulesetInvalidationListener(ctx context.Context, invalidations chan<- struct{}) {
	defer close(invalidations)

	for {
		err := r.listenForRulesetInvalidation(ctx, invalidations)
		if err == nil || ctx.Err() != nil {
			return
		}

		retryTimer := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			retryTimer.Stop()
			return
		case <-retryTimer.C:
		}
	}
}

func (r *PostgresRepository) listenForRulesetInvalidation(ctx context.Context, invalidations chan<- struct{}) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, listenStatement(r.notifyChannel)); err != nil {
		return fmt.Errorf("listen on %q: %w", r.notifyChannel, err)
	}

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for ruleset notification: %w", err)
		}

		select {
		case invalidations <- struct{}{}:
		default:
		}
	}
}

func (r *PostgresRepository) attendeeExists(ctx context.Context, token string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM attendees WHERE token = $1)
	`, token).Scan(&exists); err != nil {
		return false, fmt.Errorf("check attendee exists: %w", err)
	}
	return exists, nil
}

func normalizeNotifyChannel(channel string) string {
	if trimmed := strings.TrimSpace(channel); trimmed != "" {
		return trimmed
	}

	return defaultNotifyChannel
}

func ensureJSON(input json.RawMessage, fallback string) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(fallback)
	}

	return input
}

func listenStatement(channel string) string {
	return fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())
}
