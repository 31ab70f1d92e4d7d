package db

import (
	"encoding/json"
	"time"
)

// Source maps mediatrends.sources.
type Source struct {
	SourceID              int64      `gorm:"column:source_id;primaryKey;autoIncrement"`
	SourceUUID            string     `gorm:"column:source_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Name                  string     `gorm:"column:name;type:text;not null"`
	URL                   string     `gorm:"column:url;type:text;not null;unique"`
	Active                bool       `gorm:"column:active;type:boolean;not null;default:true"`
	ScrapeIntervalMinutes int        `gorm:"column:scrape_interval_minutes;type:integer;not null;default:60"`
	LastScrapedAt         *time.Time `gorm:"column:last_scraped_at;type:timestamptz"`
	ScrapeStatus          string     `gorm:"column:scrape_status;type:text;not null;default:pending"`
	ErrorMessage          string     `gorm:"column:error_message;type:text;not null;default:''"`
	TotalArticles         int64      `gorm:"column:total_articles;type:bigint;not null;default:0"`
	CreatedAt             time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Source) TableName() string { return "mediatrends.sources" }

// Subscriber maps mediatrends.subscribers. UserID is the owner id carried on keywords.
type Subscriber struct {
	UserID         int64     `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	DisplayName    string    `gorm:"column:display_name;type:text;not null;default:''"`
	TelegramChatID *int64    `gorm:"column:telegram_chat_id;type:bigint"`
	Email          *string   `gorm:"column:email;type:text"`
	Active         bool      `gorm:"column:active;type:boolean;not null;default:true"`
	CreatedAt      time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Subscriber) TableName() string { return "mediatrends.subscribers" }

// Keyword maps mediatrends.keywords.
type Keyword struct {
	KeywordID          int64           `gorm:"column:keyword_id;primaryKey;autoIncrement"`
	KeywordUUID        string          `gorm:"column:keyword_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	UserID             int64           `gorm:"column:user_id;type:bigint;not null;index"`
	Canonical          string          `gorm:"column:canonical;type:text;not null"`
	Aliases            json.RawMessage `gorm:"column:aliases;type:jsonb;not null;default:'[]'"`
	Active             bool            `gorm:"column:active;type:boolean;not null;default:true"`
	AliasesRefreshedAt time.Time       `gorm:"column:aliases_refreshed_at;type:timestamptz;not null;default:now()"`
	CreatedAt          time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Keyword) TableName() string { return "mediatrends.keywords" }

// Article maps mediatrends.articles.
type Article struct {
	ArticleID   int64           `gorm:"column:article_id;primaryKey;autoIncrement"`
	ArticleUUID string          `gorm:"column:article_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	SourceID    *int64          `gorm:"column:source_id;type:bigint;index"`
	URL         string          `gorm:"column:url;type:text;not null;unique"`
	Title       string          `gorm:"column:title;type:text;not null"`
	Description string          `gorm:"column:description;type:text;not null;default:''"`
	Body        string          `gorm:"column:body;type:text;not null;default:''"`
	Boilerplate json.RawMessage `gorm:"column:boilerplate;type:jsonb;not null;default:'[]'"`
	Category    string          `gorm:"column:category;type:text;not null;default:''"`
	Author      string          `gorm:"column:author;type:text;not null;default:''"`
	Language    string          `gorm:"column:language;type:text;not null;default:und"`
	PublishedAt *time.Time      `gorm:"column:published_at;type:timestamptz"`
	IngestedAt  time.Time       `gorm:"column:ingested_at;type:timestamptz;not null;default:now();index"`
}

func (Article) TableName() string { return "mediatrends.articles" }

// ArticleEmbedding maps mediatrends.article_embeddings. Rows are written once.
type ArticleEmbedding struct {
	ArticleID  int64     `gorm:"column:article_id;primaryKey;autoIncrement:false"`
	ModelName  string    `gorm:"column:model_name;type:text;not null"`
	Embedding  string    `gorm:"column:embedding;type:vector;not null"`
	EmbeddedAt time.Time `gorm:"column:embedded_at;type:timestamptz;not null;default:now()"`
	LatencyMS  *int      `gorm:"column:latency_ms;type:integer"`
}

func (ArticleEmbedding) TableName() string { return "mediatrends.article_embeddings" }

// KeywordEmbedding maps mediatrends.keyword_embeddings.
type KeywordEmbedding struct {
	KeywordID  int64     `gorm:"column:keyword_id;primaryKey;autoIncrement:false"`
	ModelName  string    `gorm:"column:model_name;type:text;not null"`
	Embedding  string    `gorm:"column:embedding;type:vector;not null"`
	EmbeddedAt time.Time `gorm:"column:embedded_at;type:timestamptz;not null;default:now()"`
}

func (KeywordEmbedding) TableName() string { return "mediatrends.keyword_embeddings" }

// DedupRecord maps mediatrends.dedup_records. One row per (user, article), ever.
type DedupRecord struct {
	DedupRecordID int64     `gorm:"column:dedup_record_id;primaryKey;autoIncrement"`
	UserID        int64     `gorm:"column:user_id;type:bigint;not null;uniqueIndex:ux_dedup_records_user_article,priority:1"`
	ArticleID     int64     `gorm:"column:article_id;type:bigint;not null;uniqueIndex:ux_dedup_records_user_article,priority:2"`
	Outcome       string    `gorm:"column:outcome;type:text;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (DedupRecord) TableName() string { return "mediatrends.dedup_records" }

// Notification maps mediatrends.notifications, the append-only delivery audit log.
type Notification struct {
	NotificationID   int64     `gorm:"column:notification_id;primaryKey;autoIncrement"`
	NotificationUUID string    `gorm:"column:notification_uuid;type:uuid;not null;unique"`
	UserID           int64     `gorm:"column:user_id;type:bigint;not null"`
	KeywordID        int64     `gorm:"column:keyword_id;type:bigint;not null"`
	ArticleID        int64     `gorm:"column:article_id;type:bigint;not null"`
	Score            float64   `gorm:"column:score;type:double precision;not null"`
	Tier             string    `gorm:"column:tier;type:text;not null"`
	MatchedField     string    `gorm:"column:matched_field;type:text;not null;default:''"`
	MatchedAlias     string    `gorm:"column:matched_alias;type:text;not null;default:''"`
	Snippet          string    `gorm:"column:snippet;type:text;not null;default:''"`
	Outcome          string    `gorm:"column:outcome;type:text;not null"`
	ErrorMessage     *string   `gorm:"column:error_message;type:text"`
	TickID           string    `gorm:"column:tick_id;type:text;not null;default:''"`
	CreatedAt        time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Notification) TableName() string { return "mediatrends.notifications" }

func autoMigrateModels() []any {
	return []any{
		&Source{},
		&Subscriber{},
		&Keyword{},
		&Article{},
		&ArticleEmbedding{},
		&KeywordEmbedding{},
		&DedupRecord{},
		&Notification{},
	}
}
