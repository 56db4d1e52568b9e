package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sgescolar/sge-api/internal/models"
	appErrors "github.com/sgescolar/sge-api/pkg/errors"
)

type mockCalendarRepo struct {
	events    map[string]models.CalendarEvent
	listCalls int
}

func (m *mockCalendarRepo) List(ctx context.Context, filter models.CalendarFilter) ([]models.CalendarEvent, error) {
	m.listCalls++
	var out []models.CalendarEvent
	for _, e := range m.events {
		out = append(out, e)
	}
	return out, nil
}

func (m *mockCalendarRepo) FindByID(ctx context.Context, id string) (*models.CalendarEvent, error) {
	if e, ok := m.events[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCalendarRepo) Create(ctx context.Context, event *models.CalendarEvent) error {
	if m.events == nil {
		m.events = make(map[string]models.CalendarEvent)
	}
	if event.ID == "" {
		event.ID = "evt-new"
	}
	m.events[event.ID] = *event
	return nil
}

func (m *mockCalendarRepo) Update(ctx context.Context, event *models.CalendarEvent) error {
	m.events[event.ID] = *event
	return nil
}

func (m *mockCalendarRepo) Delete(ctx context.Context, id string) error {
	delete(m.events, id)
	return nil
}

type mockCacheStore struct {
	entries     map[string][]models.CalendarEvent
	invalidated []string
}

func (m *mockCacheStore) Get(ctx context.Context, key string, dest interface{}) error {
	events, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	out, ok := dest.(*[]models.CalendarEvent)
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*out = events
	return nil
}

func (m *mockCacheStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.entries == nil {
		m.entries = make(map[string][]models.CalendarEvent)
	}
	if events, ok := value.([]models.CalendarEvent); ok {
		m.entries[key] = events
	}
	return nil
}

func (m *mockCacheStore) Invalidate(ctx context.Context, keys ...string) {
	m.invalidated = append(m.invalidated, keys...)
	for _, k := range keys {
		delete(m.entries, k)
	}
}

func seedEvent(repo *mockCalendarRepo, id string) {
	if repo.events == nil {
		repo.events = make(map[string]models.CalendarEvent)
	}
	now := time.Now().UTC()
	repo.events[id] = models.CalendarEvent{
		ID:       id,
		Title:    "Reunião de pais",
		StartsAt: now,
		EndsAt:   now.Add(2 * time.Hour),
		Audience: models.AudienceAll,
	}
}

func TestCalendarListPopulatesAndServesCache(t *testing.T) {
	repo := &mockCalendarRepo{}
	seedEvent(repo, "evt-1")
	cache := &mockCacheStore{}
	svc := NewCalendarService(repo, cache, time.Minute, nil, nil, zap.NewNop())

	events, err := svc.List(context.Background(), models.CalendarFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, repo.listCalls)

	// Second unbounded listing is a cache hit.
	events, err = svc.List(context.Background(), models.CalendarFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, repo.listCalls)
}

func TestCalendarListWindowedBypassesCache(t *testing.T) {
	repo := &mockCalendarRepo{}
	seedEvent(repo, "evt-1")
	cache := &mockCacheStore{}
	svc := NewCalendarService(repo, cache, time.Minute, nil, nil, zap.NewNop())

	from := time.Now().UTC().Add(-24 * time.Hour)
	_, err := svc.List(context.Background(), models.CalendarFilter{From: &from})
	require.NoError(t, err)
	_, err = svc.List(context.Background(), models.CalendarFilter{From: &from})
	require.NoError(t, err)

	assert.Equal(t, 2, repo.listCalls)
	assert.Empty(t, cache.entries)
}

func TestCalendarCreateInvalidatesListings(t *testing.T) {
	repo := &mockCalendarRepo{}
	cache := &mockCacheStore{entries: map[string][]models.CalendarEvent{
		"calendar:list:any": {},
		"calendar:list:ALL": {},
	}}
	svc := NewCalendarService(repo, cache, time.Minute, nil, nil, zap.NewNop())

	now := time.Now().UTC()
	event, err := svc.Create(context.Background(), CalendarEventRequest{
		Title:    "Feriado escolar",
		StartsAt: now,
		EndsAt:   now.Add(time.Hour),
		Audience: "ALL",
	}, &models.JWTClaims{UserID: "admin-1"})
	require.NoError(t, err)

	require.NotNil(t, event.CreatedBy)
	assert.Equal(t, "admin-1", *event.CreatedBy)
	assert.Empty(t, cache.entries)
	assert.Contains(t, cache.invalidated, "calendar:list:any")
	assert.Contains(t, cache.invalidated, "calendar:list:STUDENTS")
}

func TestCalendarCreateRejectsInvertedWindow(t *testing.T) {
	repo := &mockCalendarRepo{}
	svc := NewCalendarService(repo, nil, time.Minute, nil, nil, zap.NewNop())

	now := time.Now().UTC()
	_, err := svc.Create(context.Background(), CalendarEventRequest{
		Title:    "Feriado escolar",
		StartsAt: now,
		EndsAt:   now.Add(-time.Hour),
		Audience: "ALL",
	}, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCalendarUpdateNotFound(t *testing.T) {
	repo := &mockCalendarRepo{}
	svc := NewCalendarService(repo, nil, time.Minute, nil, nil, zap.NewNop())

	now := time.Now().UTC()
	_, err := svc.Update(context.Background(), "missing", CalendarEventRequest{
		Title:    "Feriado escolar",
		StartsAt: now,
		EndsAt:   now.Add(time.Hour),
		Audience: "ALL",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCalendarDeleteInvalidatesListings(t *testing.T) {
	repo := &mockCalendarRepo{}
	seedEvent(repo, "evt-1")
	cache := &mockCacheStore{entries: map[string][]models.CalendarEvent{"calendar:list:any": {}}}
	svc := NewCalendarService(repo, cache, time.Minute, nil, nil, zap.NewNop())

	require.NoError(t, svc.Delete(context.Background(), "evt-1"))
	assert.Empty(t, repo.events)
	assert.Empty(t, cache.entries)
}
