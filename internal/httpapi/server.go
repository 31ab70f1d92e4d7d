// Package httpapi is the admin API: keyword, source and subscriber
// management, article ingest and the notification audit log.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/mediatrends/internal/db"
	"horse.fit/mediatrends/internal/globaltime"
	"horse.fit/mediatrends/internal/ingest"
	"horse.fit/mediatrends/internal/logging"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxBodyLimit    = "2M"
)

type Options struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	AdminTokenHash     string
	CORSAllowedOrigins []string
}

// Store is the read and bookkeeping surface the API needs from storage.
type Store interface {
	Ping(ctx context.Context) error
	ListSources(ctx context.Context, activeOnly bool) ([]db.SourceRecord, error)
	UpsertSource(ctx context.Context, params db.UpsertSourceParams) (db.SourceRecord, error)
	GetSubscriber(ctx context.Context, userID int64) (db.SubscriberRecord, error)
	UpsertSubscriber(ctx context.Context, sub db.SubscriberRecord) (db.SubscriberRecord, error)
	ListArticles(ctx context.Context, filter db.ArticleFilter) ([]db.ArticleRecord, error)
	GetArticle(ctx context.Context, articleID int64) (db.ArticleRecord, error)
	ListNotifications(ctx context.Context, filter db.NotificationFilter) ([]db.NotificationRow, error)
	QueryPipelineStats(ctx context.Context, dayStart, dayEnd time.Time) (*db.PipelineStats, error)
}

type KeywordService interface {
	Add(ctx context.Context, userID int64, canonical string) (db.KeywordRecord, bool, error)
	List(ctx context.Context, userID int64) ([]db.KeywordRecord, error)
	Refresh(ctx context.Context, keywordID int64) (db.KeywordRecord, error)
	Remove(ctx context.Context, keywordID int64) error
}

type Ingester interface {
	IngestPayload(ctx context.Context, raw json.RawMessage) (ingest.Result, error)
}

type Server struct {
	store    Store
	keywords KeywordService
	ingester Ingester
	logger   zerolog.Logger
	opts     Options
}

func NewServer(store Store, keywords KeywordService, ingester Ingester, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		// keyword creation waits on alias translation
		writeTimeout = 2 * time.Minute
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		store:    store,
		keywords: keywords,
		ingester: ingester,
		logger:   logging.Component(logger, "httpapi"),
		opts: Options{
			Host:               host,
			Port:               port,
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			ShutdownTimeout:    shutdownTimeout,
			AdminTokenHash:     strings.TrimSpace(opts.AdminTokenHash),
			CORSAllowedOrigins: opts.CORSAllowedOrigins,
		},
	}
}

// Handler builds the echo router.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(maxBodyLimit))
	if len(s.opts.CORSAllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.opts.CORSAllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
			MaxAge:       3600,
		}))
	}
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/health", s.handleHealth)

	api := e.Group("/api/v1", s.requireToken())
	api.GET("/stats", s.handleStats)

	api.GET("/keywords", s.handleListKeywords)
	api.POST("/keywords", s.handleAddKeyword)
	api.POST("/keywords/:keyword_id/refresh", s.handleRefreshKeyword)
	api.DELETE("/keywords/:keyword_id", s.handleRemoveKeyword)

	api.GET("/sources", s.handleListSources)
	api.POST("/sources", s.handleUpsertSource)

	api.GET("/subscribers/:user_id", s.handleGetSubscriber)
	api.PUT("/subscribers/:user_id", s.handlePutSubscriber)

	api.GET("/articles", s.handleListArticles)
	api.GET("/articles/:article_id", s.handleGetArticle)
	api.POST("/articles", s.handleIngestArticle)

	api.GET("/notifications", s.handleListNotifications)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("server is not initialized")
	}
	if s.opts.AdminTokenHash == "" {
		s.logger.Warn().Msg("ADMIN_TOKEN_HASH is empty; every /api/v1 request will be rejected")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("admin api started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("admin api stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		s.logger.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("unhandled api error")
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error().Err(err).Msg("health check failed")
		return c.JSON(http.StatusServiceUnavailable, envelope{
			Status:  "error",
			Message: "Database unavailable",
			Code:    http.StatusServiceUnavailable,
		})
	}
	return success(c, map[string]any{
		"service": "mediatrends",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	now := globaltime.UTC()
	dayStart := now.Truncate(24 * time.Hour)
	stats, err := s.store.QueryPipelineStats(c.Request().Context(), dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func decodeJSONBody(c echo.Context, dest any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if decoder.More() {
		return fmt.Errorf("invalid JSON body: multiple JSON values")
	}
	return nil
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseID(raw string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return value, nil
}

func parseOptionalID(raw string) (*int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	value, err := parseID(raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func parseTimeFilter(raw string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		utc := ts.UTC()
		return &utc, nil
	}

	if day, err := time.Parse("2006-01-02", trimmed); err == nil {
		utc := day.UTC()
		return &utc, nil
	}

	return nil, fmt.Errorf("invalid time format")
}
