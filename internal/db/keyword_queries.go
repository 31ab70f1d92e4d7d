package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// KeywordRecord is the read model of a keyword subscription.
type KeywordRecord struct {
	KeywordID          int64     `json:"keyword_id"`
	KeywordUUID        string    `json:"keyword_uuid"`
	UserID             int64     `json:"user_id"`
	Canonical          string    `json:"canonical"`
	Aliases            []string  `json:"aliases"`
	Active             bool      `json:"active"`
	AliasesRefreshedAt time.Time `json:"aliases_refreshed_at"`
	CreatedAt          time.Time `json:"created_at"`
}

// InsertKeywordParams carries a new keyword subscription.
type InsertKeywordParams struct {
	UserID    int64
	Canonical string
	Aliases   []string
}

const keywordColumns = `
	k.keyword_id,
	k.keyword_uuid::text,
	k.user_id,
	k.canonical,
	k.aliases,
	k.active,
	k.aliases_refreshed_at,
	k.created_at`

// InsertKeyword stores a keyword. The boolean is false when the user already
// holds the same canonical keyword (compared case-insensitively); the existing
// row is returned and reactivated in that case without touching its aliases.
func (p *Pool) InsertKeyword(ctx context.Context, params InsertKeywordParams) (KeywordRecord, bool, error) {
	canonical := strings.TrimSpace(params.Canonical)
	if canonical == "" {
		return KeywordRecord{}, false, fmt.Errorf("canonical keyword is required")
	}
	aliasesJSON, err := json.Marshal(params.Aliases)
	if err != nil {
		return KeywordRecord{}, false, fmt.Errorf("marshal aliases: %w", err)
	}

	const insertQ = `
INSERT INTO mediatrends.keywords AS k (user_id, canonical, aliases, active, aliases_refreshed_at)
VALUES ($1, $2, $3::jsonb, TRUE, now())
ON CONFLICT (user_id, lower(canonical)) DO NOTHING
RETURNING` + keywordColumns

	row := p.QueryRow(ctx, insertQ, params.UserID, canonical, string(aliasesJSON))
	record, err := scanKeyword(row)
	if err == nil {
		return record, true, nil
	}
	if !IsNoRows(err) {
		return KeywordRecord{}, false, fmt.Errorf("insert keyword: %w", err)
	}

	const reactivateQ = `
UPDATE mediatrends.keywords k
SET active = TRUE
WHERE k.user_id = $1
  AND lower(k.canonical) = lower($2)
RETURNING` + keywordColumns

	record, err = scanKeyword(p.QueryRow(ctx, reactivateQ, params.UserID, canonical))
	if err != nil {
		return KeywordRecord{}, false, fmt.Errorf("load existing keyword: %w", err)
	}
	return record, false, nil
}

// FindKeyword looks up a user's keyword by canonical text, compared
// case-insensitively like the unique index. It returns ErrNoRows when the user
// does not hold it.
func (p *Pool) FindKeyword(ctx context.Context, userID int64, canonical string) (KeywordRecord, error) {
	q := `
SELECT` + keywordColumns + `
FROM mediatrends.keywords k
WHERE k.user_id = $1
  AND lower(k.canonical) = lower($2)
`
	record, err := scanKeyword(p.QueryRow(ctx, q, userID, strings.TrimSpace(canonical)))
	if err != nil {
		if IsNoRows(err) {
			return KeywordRecord{}, ErrNoRows
		}
		return KeywordRecord{}, fmt.Errorf("find keyword: %w", err)
	}
	return record, nil
}

// ListActiveKeywords returns every active keyword, optionally restricted to ids.
func (p *Pool) ListActiveKeywords(ctx context.Context, onlyIDs []int64) ([]KeywordRecord, error) {
	q := `
SELECT` + keywordColumns + `
FROM mediatrends.keywords k
WHERE k.active
  AND (cardinality($1::bigint[]) = 0 OR k.keyword_id = ANY($1::bigint[]))
ORDER BY k.keyword_id ASC
`
	rows, err := p.Query(ctx, q, int64ArrayLiteral(onlyIDs))
	if err != nil {
		return nil, fmt.Errorf("query active keywords: %w", err)
	}
	defer rows.Close()

	out := make([]KeywordRecord, 0, 64)
	for rows.Next() {
		record, err := scanKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("scan keyword row: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keyword rows: %w", err)
	}
	return out, nil
}

// ListKeywordsByUser returns all keywords owned by one user, inactive ones included.
func (p *Pool) ListKeywordsByUser(ctx context.Context, userID int64) ([]KeywordRecord, error) {
	q := `
SELECT` + keywordColumns + `
FROM mediatrends.keywords k
WHERE k.user_id = $1
ORDER BY k.created_at ASC, k.keyword_id ASC
`
	rows, err := p.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query user keywords: %w", err)
	}
	defer rows.Close()

	out := make([]KeywordRecord, 0, 8)
	for rows.Next() {
		record, err := scanKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("scan keyword row: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keyword rows: %w", err)
	}
	return out, nil
}

func (p *Pool) GetKeyword(ctx context.Context, keywordID int64) (KeywordRecord, error) {
	q := `
SELECT` + keywordColumns + `
FROM mediatrends.keywords k
WHERE k.keyword_id = $1
`
	record, err := scanKeyword(p.QueryRow(ctx, q, keywordID))
	if err != nil {
		if IsNoRows(err) {
			return KeywordRecord{}, ErrNoRows
		}
		return KeywordRecord{}, fmt.Errorf("query keyword %d: %w", keywordID, err)
	}
	return record, nil
}

// ReplaceKeywordAliases is the explicit alias refresh. Matching never calls it.
func (p *Pool) ReplaceKeywordAliases(ctx context.Context, keywordID int64, aliases []string) (KeywordRecord, error) {
	aliasesJSON, err := json.Marshal(aliases)
	if err != nil {
		return KeywordRecord{}, fmt.Errorf("marshal aliases: %w", err)
	}

	q := `
UPDATE mediatrends.keywords k
SET aliases = $2::jsonb,
    aliases_refreshed_at = now()
WHERE k.keyword_id = $1
RETURNING` + keywordColumns

	record, err := scanKeyword(p.QueryRow(ctx, q, keywordID, string(aliasesJSON)))
	if err != nil {
		if IsNoRows(err) {
			return KeywordRecord{}, ErrNoRows
		}
		return KeywordRecord{}, fmt.Errorf("update keyword aliases: %w", err)
	}
	return record, nil
}

// DeactivateKeyword hides a keyword from future ticks. The row is kept so the
// notification audit can still reference it.
func (p *Pool) DeactivateKeyword(ctx context.Context, keywordID int64) (bool, error) {
	const q = `
UPDATE mediatrends.keywords
SET active = FALSE
WHERE keyword_id = $1
  AND active
`
	tag, err := p.Exec(ctx, q, keywordID)
	if err != nil {
		return false, fmt.Errorf("deactivate keyword: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKeyword(row rowScanner) (KeywordRecord, error) {
	var (
		record     KeywordRecord
		aliasesRaw []byte
	)
	if err := row.Scan(
		&record.KeywordID,
		&record.KeywordUUID,
		&record.UserID,
		&record.Canonical,
		&aliasesRaw,
		&record.Active,
		&record.AliasesRefreshedAt,
		&record.CreatedAt,
	); err != nil {
		return KeywordRecord{}, err
	}
	aliases, err := decodeStringList(aliasesRaw)
	if err != nil {
		return KeywordRecord{}, fmt.Errorf("decode aliases of keyword %d: %w", record.KeywordID, err)
	}
	record.Aliases = aliases
	record.AliasesRefreshedAt = record.AliasesRefreshedAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}

func decodeStringList(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func int64ArrayLiteral(values []int64) string {
	if len(values) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprintf("%d", v))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
