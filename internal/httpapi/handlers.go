package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"horse.fit/mediatrends/internal/db"
	"horse.fit/mediatrends/internal/ingest"
	"horse.fit/mediatrends/internal/keyword"
	"horse.fit/mediatrends/internal/ledger"
)

const defaultScrapeIntervalMinutes = 15

type addKeywordRequest struct {
	UserID  int64  `json:"user_id"`
	Keyword string `json:"keyword"`
}

type upsertSourceRequest struct {
	Name                  string `json:"name"`
	URL                   string `json:"url"`
	Active                *bool  `json:"active,omitempty"`
	ScrapeIntervalMinutes int    `json:"scrape_interval_minutes,omitempty"`
}

type subscriberRequest struct {
	DisplayName    string  `json:"display_name"`
	TelegramChatID *int64  `json:"telegram_chat_id,omitempty"`
	Email          *string `json:"email,omitempty"`
	Active         *bool   `json:"active,omitempty"`
}

func (s *Server) handleListKeywords(c echo.Context) error {
	userID, err := parseID(c.QueryParam("user_id"))
	if err != nil {
		return failField(c, "user_id", err.Error())
	}
	items, err := s.keywords.List(c.Request().Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("list keywords failed")
		return internalError(c, "Failed to load keywords")
	}
	return success(c, map[string]any{"items": items})
}

func (s *Server) handleAddKeyword(c echo.Context) error {
	var req addKeywordRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failField(c, "body", err.Error())
	}
	if req.UserID <= 0 {
		return failField(c, "user_id", "must be a positive integer")
	}

	record, created, err := s.keywords.Add(c.Request().Context(), req.UserID, req.Keyword)
	if err != nil {
		if errors.Is(err, keyword.ErrEmptyKeyword) {
			return failField(c, "keyword", "is required")
		}
		s.logger.Error().Err(err).Int64("user_id", req.UserID).Msg("add keyword failed")
		return internalError(c, "Failed to add keyword")
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return respond(c, status, map[string]any{
		"keyword": record,
		"created": created,
	})
}

func (s *Server) handleRefreshKeyword(c echo.Context) error {
	keywordID, err := parseID(c.Param("keyword_id"))
	if err != nil {
		return failField(c, "keyword_id", err.Error())
	}
	record, err := s.keywords.Refresh(c.Request().Context(), keywordID)
	if err != nil {
		if errors.Is(err, keyword.ErrKeywordNotFound) {
			return failNotFound(c, "Keyword not found")
		}
		s.logger.Error().Err(err).Int64("keyword_id", keywordID).Msg("refresh keyword failed")
		return internalError(c, "Failed to refresh keyword")
	}
	return success(c, map[string]any{"keyword": record})
}

func (s *Server) handleRemoveKeyword(c echo.Context) error {
	keywordID, err := parseID(c.Param("keyword_id"))
	if err != nil {
		return failField(c, "keyword_id", err.Error())
	}
	if err := s.keywords.Remove(c.Request().Context(), keywordID); err != nil {
		if errors.Is(err, keyword.ErrKeywordNotFound) {
			return failNotFound(c, "Keyword not found")
		}
		s.logger.Error().Err(err).Int64("keyword_id", keywordID).Msg("remove keyword failed")
		return internalError(c, "Failed to remove keyword")
	}
	return success(c, map[string]any{"keyword_id": keywordID, "active": false})
}

func (s *Server) handleListSources(c echo.Context) error {
	activeOnly := strings.EqualFold(strings.TrimSpace(c.QueryParam("active")), "true")
	items, err := s.store.ListSources(c.Request().Context(), activeOnly)
	if err != nil {
		s.logger.Error().Err(err).Msg("list sources failed")
		return internalError(c, "Failed to load sources")
	}
	return success(c, map[string]any{"items": items})
}

func (s *Server) handleUpsertSource(c echo.Context) error {
	var req upsertSourceRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failField(c, "body", err.Error())
	}

	fieldErrors := map[string]string{}
	parsed, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		fieldErrors["url"] = "must be an absolute http(s) URL"
	}
	if req.ScrapeIntervalMinutes < 0 {
		fieldErrors["scrape_interval_minutes"] = "must be >= 0"
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	interval := req.ScrapeIntervalMinutes
	if interval == 0 {
		interval = defaultScrapeIntervalMinutes
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	record, err := s.store.UpsertSource(c.Request().Context(), db.UpsertSourceParams{
		Name:                  req.Name,
		URL:                   req.URL,
		Active:                active,
		ScrapeIntervalMinutes: interval,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("url", req.URL).Msg("upsert source failed")
		return internalError(c, "Failed to save source")
	}
	return success(c, map[string]any{"source": record})
}

func (s *Server) handleGetSubscriber(c echo.Context) error {
	userID, err := parseID(c.Param("user_id"))
	if err != nil {
		return failField(c, "user_id", err.Error())
	}
	record, err := s.store.GetSubscriber(c.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Subscriber not found")
		}
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("get subscriber failed")
		return internalError(c, "Failed to load subscriber")
	}
	return success(c, map[string]any{"subscriber": record})
}

func (s *Server) handlePutSubscriber(c echo.Context) error {
	userID, err := parseID(c.Param("user_id"))
	if err != nil {
		return failField(c, "user_id", err.Error())
	}
	var req subscriberRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failField(c, "body", err.Error())
	}
	if req.TelegramChatID == nil && (req.Email == nil || strings.TrimSpace(*req.Email) == "") {
		return failField(c, "address", "telegram_chat_id or email is required")
	}
	if req.Email != nil && strings.TrimSpace(*req.Email) != "" && !strings.Contains(*req.Email, "@") {
		return failField(c, "email", "must be an email address")
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	record, err := s.store.UpsertSubscriber(c.Request().Context(), db.SubscriberRecord{
		UserID:         userID,
		DisplayName:    strings.TrimSpace(req.DisplayName),
		TelegramChatID: req.TelegramChatID,
		Email:          req.Email,
		Active:         active,
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("upsert subscriber failed")
		return internalError(c, "Failed to save subscriber")
	}
	return success(c, map[string]any{"subscriber": record})
}

func (s *Server) handleListArticles(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failField(c, "limit", err.Error())
	}
	sourceID, err := parseOptionalID(c.QueryParam("source_id"))
	if err != nil {
		return failField(c, "source_id", err.Error())
	}
	since, err := parseTimeFilter(c.QueryParam("since"))
	if err != nil {
		return failField(c, "since", "must be RFC3339 or YYYY-MM-DD")
	}

	items, err := s.store.ListArticles(c.Request().Context(), db.ArticleFilter{
		SourceID: sourceID,
		Since:    since,
		Query:    c.QueryParam("q"),
		Limit:    limit,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("list articles failed")
		return internalError(c, "Failed to load articles")
	}
	// listings stay light; the detail endpoint carries the body
	for i := range items {
		items[i].Body = ""
		items[i].Boilerplate = nil
	}
	return success(c, map[string]any{"items": items, "limit": limit})
}

func (s *Server) handleGetArticle(c echo.Context) error {
	articleID, err := parseID(c.Param("article_id"))
	if err != nil {
		return failField(c, "article_id", err.Error())
	}
	record, err := s.store.GetArticle(c.Request().Context(), articleID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Article not found")
		}
		s.logger.Error().Err(err).Int64("article_id", articleID).Msg("get article failed")
		return internalError(c, "Failed to load article")
	}
	return success(c, map[string]any{"article": record})
}

func (s *Server) handleIngestArticle(c echo.Context) error {
	if s.ingester == nil {
		return fail(c, http.StatusServiceUnavailable, "Ingest is not configured", nil)
	}
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return failField(c, "body", "could not read request body")
	}

	result, err := s.ingester.IngestPayload(c.Request().Context(), json.RawMessage(raw))
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidArticle) {
			return failField(c, "payload", err.Error())
		}
		s.logger.Error().Err(err).Msg("ingest article failed")
		return internalError(c, "Failed to ingest article")
	}

	status := http.StatusOK
	if result.Inserted {
		status = http.StatusCreated
	}
	return respond(c, status, result)
}

func (s *Server) handleListNotifications(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failField(c, "limit", err.Error())
	}
	userID, err := parseOptionalID(c.QueryParam("user_id"))
	if err != nil {
		return failField(c, "user_id", err.Error())
	}
	articleID, err := parseOptionalID(c.QueryParam("article_id"))
	if err != nil {
		return failField(c, "article_id", err.Error())
	}
	since, err := parseTimeFilter(c.QueryParam("since"))
	if err != nil {
		return failField(c, "since", "must be RFC3339 or YYYY-MM-DD")
	}
	outcome := strings.TrimSpace(strings.ToLower(c.QueryParam("outcome")))
	if outcome != "" && !validOutcome(outcome) {
		return failField(c, "outcome", "must be delivered, permanently_failed or transiently_failed")
	}

	items, err := s.store.ListNotifications(c.Request().Context(), db.NotificationFilter{
		UserID:    userID,
		ArticleID: articleID,
		Outcome:   outcome,
		Since:     since,
		Limit:     limit,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("list notifications failed")
		return internalError(c, "Failed to load notifications")
	}
	return success(c, map[string]any{"items": items, "limit": limit})
}

func validOutcome(outcome string) bool {
	switch ledger.Outcome(outcome) {
	case ledger.OutcomeDelivered, ledger.OutcomePermanentFailure, ledger.OutcomeTransientFailure:
		return true
	}
	return false
}
