package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// NotificationRow is one append-only delivery audit entry.
type NotificationRow struct {
	NotificationID   int64     `json:"notification_id"`
	NotificationUUID string    `json:"notification_uuid"`
	UserID           int64     `json:"user_id"`
	KeywordID        int64     `json:"keyword_id"`
	ArticleID        int64     `json:"article_id"`
	Score            float64   `json:"score"`
	Tier             string    `json:"tier"`
	MatchedField     string    `json:"matched_field,omitempty"`
	MatchedAlias     string    `json:"matched_alias,omitempty"`
	Snippet          string    `json:"snippet,omitempty"`
	Outcome          string    `json:"outcome"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	TickID           string    `json:"tick_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// NotificationFilter drives the audit listing.
type NotificationFilter struct {
	UserID    *int64
	ArticleID *int64
	Outcome   string
	Since     *time.Time
	Limit     int
}

const hasDedupRecordSQL = `
SELECT EXISTS (
	SELECT 1
	FROM mediatrends.dedup_records
	WHERE user_id = $1
	  AND article_id = $2
)
`

func (p *Pool) HasDedupRecord(ctx context.Context, userID, articleID int64) (bool, error) {
	var exists bool
	if err := p.QueryRow(ctx, hasDedupRecordSQL, userID, articleID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check dedup record user_id=%d article_id=%d: %w", userID, articleID, err)
	}
	return exists, nil
}

// InsertNotification appends an audit row outside of any ledger commit.
func (p *Pool) InsertNotification(ctx context.Context, row NotificationRow) error {
	return insertNotification(ctx, p, row)
}

// CommitDedupRecord writes the ledger entry and its audit row atomically. A
// second commit for the same pair is a no-op reporting inserted=false; the audit
// row is still appended so repeated terminal attempts stay visible.
func (p *Pool) CommitDedupRecord(ctx context.Context, row NotificationRow) (bool, error) {
	var inserted bool
	err := p.InTx(ctx, func(tx Tx) error {
		var err error
		inserted, err = commitDedupRecord(ctx, tx, row)
		return err
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func commitDedupRecord(ctx context.Context, ex execer, row NotificationRow) (bool, error) {
	const q = `
INSERT INTO mediatrends.dedup_records (user_id, article_id, outcome, created_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (user_id, article_id) DO NOTHING
`
	tag, err := ex.Exec(ctx, q, row.UserID, row.ArticleID, row.Outcome)
	if err != nil {
		return false, fmt.Errorf("insert dedup record user_id=%d article_id=%d: %w", row.UserID, row.ArticleID, err)
	}
	if err := insertNotification(ctx, ex, row); err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type execer interface {
	Exec(ctx context.Context, query string, args ...any) (CommandTag, error)
}

func insertNotification(ctx context.Context, ex execer, row NotificationRow) error {
	if strings.TrimSpace(row.NotificationUUID) == "" {
		return fmt.Errorf("notification uuid is required")
	}
	const q = `
INSERT INTO mediatrends.notifications (
	notification_uuid,
	user_id,
	keyword_id,
	article_id,
	score,
	tier,
	matched_field,
	matched_alias,
	snippet,
	outcome,
	error_message,
	tick_id,
	created_at
)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
`
	_, err := ex.Exec(ctx, q,
		row.NotificationUUID,
		row.UserID,
		row.KeywordID,
		row.ArticleID,
		row.Score,
		row.Tier,
		row.MatchedField,
		row.MatchedAlias,
		row.Snippet,
		row.Outcome,
		row.ErrorMessage,
		row.TickID,
	)
	if err != nil {
		return fmt.Errorf("insert notification user_id=%d article_id=%d: %w", row.UserID, row.ArticleID, err)
	}
	return nil
}

func (p *Pool) ListNotifications(ctx context.Context, filter NotificationFilter) ([]NotificationRow, error) {
	if filter.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	builder := psql.Select(
		"notification_id",
		"notification_uuid::text",
		"user_id",
		"keyword_id",
		"article_id",
		"score",
		"tier",
		"matched_field",
		"matched_alias",
		"snippet",
		"outcome",
		"error_message",
		"tick_id",
		"created_at",
	).
		From("mediatrends.notifications").
		OrderBy("created_at DESC", "notification_id DESC").
		Limit(uint64(filter.Limit))

	if filter.UserID != nil {
		builder = builder.Where(sq.Eq{"user_id": *filter.UserID})
	}
	if filter.ArticleID != nil {
		builder = builder.Where(sq.Eq{"article_id": *filter.ArticleID})
	}
	if outcome := strings.TrimSpace(filter.Outcome); outcome != "" {
		builder = builder.Where(sq.Eq{"outcome": outcome})
	}
	if filter.Since != nil {
		builder = builder.Where(sq.GtOrEq{"created_at": filter.Since.UTC()})
	}

	q, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build notification listing: %w", err)
	}

	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := make([]NotificationRow, 0, min(filter.Limit, 256))
	for rows.Next() {
		var row NotificationRow
		if err := rows.Scan(
			&row.NotificationID,
			&row.NotificationUUID,
			&row.UserID,
			&row.KeywordID,
			&row.ArticleID,
			&row.Score,
			&row.Tier,
			&row.MatchedField,
			&row.MatchedAlias,
			&row.Snippet,
			&row.Outcome,
			&row.ErrorMessage,
			&row.TickID,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		row.CreatedAt = row.CreatedAt.UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification rows: %w", err)
	}
	return out, nil
}

// PairSession is a held (user, article) lock. Its ledger queries run on the
// connection that holds the lock, so a dispatch never waits on a second pooled
// connection while it keeps one checked out.
type PairSession interface {
	HasDedupRecord(ctx context.Context, userID, articleID int64) (bool, error)
	CommitDedupRecord(ctx context.Context, row NotificationRow) (bool, error)
	InsertNotification(ctx context.Context, row NotificationRow) error
	Release()
}

// TryPairLock guards one (user, article) pair across processes. ok is false
// when another session holds the pair.
func (p *Pool) TryPairLock(ctx context.Context, userID, articleID int64) (PairSession, bool, error) {
	key := fmt.Sprintf("dispatch:%d:%d", userID, articleID)
	conn, err := p.tryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if conn == nil {
		return nil, false, nil
	}
	return &pairSession{conn: conn, key: key}, true, nil
}

type pairSession struct {
	conn *sql.Conn
	key  string
	once sync.Once
}

func (s *pairSession) HasDedupRecord(ctx context.Context, userID, articleID int64) (bool, error) {
	var exists bool
	if err := s.conn.QueryRowContext(ctx, hasDedupRecordSQL, userID, articleID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check dedup record user_id=%d article_id=%d: %w", userID, articleID, err)
	}
	return exists, nil
}

func (s *pairSession) CommitDedupRecord(ctx context.Context, row NotificationRow) (bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	inserted, err := commitDedupRecord(ctx, sqlExecer{tx}, row)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return false, fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

func (s *pairSession) InsertNotification(ctx context.Context, row NotificationRow) error {
	return insertNotification(ctx, sqlExecer{s.conn}, row)
}

// Release unlocks the pair and hands the connection back to the pool.
func (s *pairSession) Release() {
	s.once.Do(func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = s.conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, s.key)
		_ = s.conn.Close()
	})
}

// sqlExecer adapts a *sql.Conn or *sql.Tx to the execer used by the shared
// insert helpers.
type sqlExecer struct {
	ex interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	}
}

func (e sqlExecer) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	res, err := e.ex.ExecContext(ctx, query, args...)
	if err != nil {
		return CommandTag{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return CommandTag{}, err
	}
	return CommandTag{rowsAffected: n}, nil
}

// DeliveryRecord is a delivered notification joined with its article.
type DeliveryRecord struct {
	ArticleID   int64     `json:"article_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Keyword     string    `json:"keyword"`
	Score       float64   `json:"score"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// ListRecentDeliveries returns a user's delivered notifications since the
// cutoff, newest first.
func (p *Pool) ListRecentDeliveries(ctx context.Context, userID int64, since time.Time, limit int) ([]DeliveryRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	const q = `
SELECT
	n.article_id,
	a.title,
	a.url,
	COALESCE(k.canonical, ''),
	n.score,
	n.created_at
FROM mediatrends.notifications n
JOIN mediatrends.articles a ON a.article_id = n.article_id
LEFT JOIN mediatrends.keywords k ON k.keyword_id = n.keyword_id
WHERE n.user_id = $1
  AND n.outcome = 'delivered'
  AND n.created_at >= $2
ORDER BY n.created_at DESC, n.notification_id DESC
LIMIT $3
`
	rows, err := p.Query(ctx, q, userID, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent deliveries: %w", err)
	}
	defer rows.Close()

	out := make([]DeliveryRecord, 0, limit)
	for rows.Next() {
		var rec DeliveryRecord
		if err := rows.Scan(&rec.ArticleID, &rec.Title, &rec.URL, &rec.Keyword, &rec.Score, &rec.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scan delivery row: %w", err)
		}
		rec.DeliveredAt = rec.DeliveredAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery rows: %w", err)
	}
	return out, nil
}
