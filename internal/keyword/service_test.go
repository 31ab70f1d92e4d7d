package keyword

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/mediatrends/internal/db"
)

type memoryKeywordStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]db.KeywordRecord
}

func newMemoryKeywordStore() *memoryKeywordStore {
	return &memoryKeywordStore{records: map[int64]db.KeywordRecord{}}
}

func (m *memoryKeywordStore) InsertKeyword(_ context.Context, params db.InsertKeywordParams) (db.KeywordRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, record := range m.records {
		if record.UserID == params.UserID && strings.EqualFold(record.Canonical, params.Canonical) {
			record.Active = true
			m.records[id] = record
			return record, false, nil
		}
	}
	m.nextID++
	record := db.KeywordRecord{
		KeywordID: m.nextID,
		UserID:    params.UserID,
		Canonical: params.Canonical,
		Aliases:   params.Aliases,
		Active:    true,
	}
	m.records[record.KeywordID] = record
	return record, true, nil
}

func (m *memoryKeywordStore) GetKeyword(_ context.Context, keywordID int64) (db.KeywordRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[keywordID]
	if !ok {
		return db.KeywordRecord{}, db.ErrNoRows
	}
	return record, nil
}

func (m *memoryKeywordStore) FindKeyword(_ context.Context, userID int64, canonical string) (db.KeywordRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if record.UserID == userID && strings.EqualFold(record.Canonical, canonical) {
			return record, nil
		}
	}
	return db.KeywordRecord{}, db.ErrNoRows
}

func (m *memoryKeywordStore) ListKeywordsByUser(_ context.Context, userID int64) ([]db.KeywordRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.KeywordRecord
	for id := int64(1); id <= m.nextID; id++ {
		if record, ok := m.records[id]; ok && record.UserID == userID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (m *memoryKeywordStore) ReplaceKeywordAliases(_ context.Context, keywordID int64, aliases []string) (db.KeywordRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[keywordID]
	if !ok {
		return db.KeywordRecord{}, db.ErrNoRows
	}
	record.Aliases = aliases
	m.records[keywordID] = record
	return record, nil
}

func (m *memoryKeywordStore) DeactivateKeyword(_ context.Context, keywordID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[keywordID]
	if !ok || !record.Active {
		return false, nil
	}
	record.Active = false
	m.records[keywordID] = record
	return true, nil
}

type recordingMatcher struct {
	ids []int64
	err error
}

func (r *recordingMatcher) MatchKeyword(_ context.Context, keywordID int64) error {
	r.ids = append(r.ids, keywordID)
	return r.err
}

type recordingEmbedder struct {
	texts []string
}

func (r *recordingEmbedder) EmbedKeyword(_ context.Context, _ int64, canonical string) error {
	r.texts = append(r.texts, canonical)
	return nil
}

func TestServiceAddExpandsEmbedsAndMatches(t *testing.T) {
	t.Parallel()

	provider := &stubTranslator{replies: map[string]string{"en": "Azerbaijan", "ru": "Азербайджан"}}
	expander := NewExpander(provider, zerolog.Nop(), ExpanderOptions{Detector: fixedDetector("az")})
	store := newMemoryKeywordStore()
	matcher := &recordingMatcher{}
	embedder := &recordingEmbedder{}
	service := NewService(store, expander, embedder, matcher, zerolog.Nop())

	record, created, err := service.Add(context.Background(), 42, "  Azərbaycan ")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !created {
		t.Fatalf("expected a new keyword")
	}
	if record.Canonical != "Azərbaycan" {
		t.Fatalf("canonical = %q", record.Canonical)
	}
	want := []string{"Azərbaycan", "Azerbaijan", "Азербайджан"}
	if strings.Join(record.Aliases, "|") != strings.Join(want, "|") {
		t.Fatalf("aliases = %v, want %v", record.Aliases, want)
	}
	if len(matcher.ids) != 1 || matcher.ids[0] != record.KeywordID {
		t.Fatalf("immediate match calls = %v", matcher.ids)
	}
	if len(embedder.texts) != 1 || embedder.texts[0] != "Azərbaycan" {
		t.Fatalf("embed calls = %v", embedder.texts)
	}
}

func TestServiceAddExistingKeywordKeepsAliases(t *testing.T) {
	t.Parallel()

	store := newMemoryKeywordStore()
	first := NewService(store, NewExpander(&stubTranslator{replies: map[string]string{"en": "Baku"}}, zerolog.Nop(), ExpanderOptions{Detector: fixedDetector("az")}), nil, nil, zerolog.Nop())
	record, _, err := first.Add(context.Background(), 1, "Bakı")
	if err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if _, err := first.store.DeactivateKeyword(context.Background(), record.KeywordID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	second := NewService(store, NewExpander(&stubTranslator{replies: map[string]string{"en": "Bakou"}}, zerolog.Nop(), ExpanderOptions{Detector: fixedDetector("az")}), nil, nil, zerolog.Nop())
	again, created, err := second.Add(context.Background(), 1, "bakı")
	if err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if created || !again.Active {
		t.Fatalf("expected reactivated existing keyword, got created=%v active=%v", created, again.Active)
	}
	if strings.Join(again.Aliases, "|") != "Bakı|Baku" {
		t.Fatalf("stored aliases changed: %v", again.Aliases)
	}
}

func TestServiceAddExistingKeywordSkipsTranslation(t *testing.T) {
	t.Parallel()

	store := newMemoryKeywordStore()
	provider := &stubTranslator{replies: map[string]string{"en": "Baku", "ru": "Баку"}}
	service := NewService(store, NewExpander(provider, zerolog.Nop(), ExpanderOptions{Detector: fixedDetector("az")}), nil, nil, zerolog.Nop())

	if _, _, err := service.Add(context.Background(), 1, "Bakı"); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	afterFirst := provider.callCount()
	if afterFirst == 0 {
		t.Fatalf("new keyword was not expanded")
	}

	if _, created, err := service.Add(context.Background(), 1, "BAKI"); err != nil || created {
		t.Fatalf("second Add = created %v, %v", created, err)
	}
	if got := provider.callCount(); got != afterFirst {
		t.Fatalf("translator calls = %d after re-adding, want %d", got, afterFirst)
	}
}

func TestServiceAddRejectsBlankKeyword(t *testing.T) {
	t.Parallel()

	service := NewService(newMemoryKeywordStore(), nil, nil, nil, zerolog.Nop())
	if _, _, err := service.Add(context.Background(), 1, "   "); !errors.Is(err, ErrEmptyKeyword) {
		t.Fatalf("expected ErrEmptyKeyword, got %v", err)
	}
}

func TestServiceAddSurvivesMatchFailure(t *testing.T) {
	t.Parallel()

	matcher := &recordingMatcher{err: errors.New("database is down")}
	service := NewService(newMemoryKeywordStore(), nil, nil, matcher, zerolog.Nop())
	record, created, err := service.Add(context.Background(), 1, "SOCAR")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !created || strings.Join(record.Aliases, "|") != "SOCAR" {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestServiceRefreshReplacesAliases(t *testing.T) {
	t.Parallel()

	store := newMemoryKeywordStore()
	provider := &stubTranslator{replies: map[string]string{}}
	service := NewService(store, NewExpander(provider, zerolog.Nop(), ExpanderOptions{Detector: fixedDetector("en")}), nil, nil, zerolog.Nop())

	record, _, err := service.Add(context.Background(), 7, "Caspian Sea")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(record.Aliases) != 1 {
		t.Fatalf("aliases before refresh = %v", record.Aliases)
	}

	provider.mu.Lock()
	provider.replies = map[string]string{"az": "Xəzər dənizi", "ru": "Каспийское море"}
	provider.mu.Unlock()

	refreshed, err := service.Refresh(context.Background(), record.KeywordID)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(refreshed.Aliases) != 3 || refreshed.Aliases[0] != "Caspian Sea" {
		t.Fatalf("aliases after refresh = %v", refreshed.Aliases)
	}
}

func TestServiceUnknownKeyword(t *testing.T) {
	t.Parallel()

	service := NewService(newMemoryKeywordStore(), nil, nil, nil, zerolog.Nop())
	if _, err := service.Refresh(context.Background(), 99); !errors.Is(err, ErrKeywordNotFound) {
		t.Fatalf("Refresh err = %v", err)
	}
	if err := service.Remove(context.Background(), 99); !errors.Is(err, ErrKeywordNotFound) {
		t.Fatalf("Remove err = %v", err)
	}
}

func TestServiceRemoveDeactivates(t *testing.T) {
	t.Parallel()

	store := newMemoryKeywordStore()
	service := NewService(store, nil, nil, nil, zerolog.Nop())
	record, _, err := service.Add(context.Background(), 5, "Qarabağ")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := service.Remove(context.Background(), record.KeywordID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := service.Remove(context.Background(), record.KeywordID); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	list, err := service.List(context.Background(), 5)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Active {
		t.Fatalf("list = %+v", list)
	}
}
