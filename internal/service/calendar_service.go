package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sgescolar/sge-api/internal/models"
	appErrors "github.com/sgescolar/sge-api/pkg/errors"
)

type calendarRepository interface {
	List(ctx context.Context, filter models.CalendarFilter) ([]models.CalendarEvent, error)
	FindByID(ctx context.Context, id string) (*models.CalendarEvent, error)
	Create(ctx context.Context, event *models.CalendarEvent) error
	Update(ctx context.Context, event *models.CalendarEvent) error
	Delete(ctx context.Context, id string) error
}

type cacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string)
}

// CalendarEventRequest carries event creation and update payloads.
type CalendarEventRequest struct {
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"starts_at" validate:"required"`
	EndsAt      time.Time `json:"ends_at" validate:"required"`
	Audience    string    `json:"audience" validate:"required,oneof=ALL TEACHERS STUDENTS"`
}

// CalendarService manages calendar events with a read-through cache on the
// audience listings.
type CalendarService struct {
	repo      calendarRepository
	cache     cacheStore
	cacheTTL  time.Duration
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCalendarService constructs CalendarService.
func NewCalendarService(repo calendarRepository, cache cacheStore, cacheTTL time.Duration, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *CalendarService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &CalendarService{repo: repo, cache: cache, cacheTTL: cacheTTL, metrics: metrics, validator: validate, logger: logger}
}

// List returns events in the window, serving unbounded per-audience listings
// from the cache when possible.
func (s *CalendarService) List(ctx context.Context, filter models.CalendarFilter) ([]models.CalendarEvent, error) {
	cacheable := s.cache != nil && filter.From == nil && filter.To == nil
	key := s.listCacheKey(filter.Audience)

	if cacheable {
		var cached []models.CalendarEvent
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("calendar cache read failed", zap.Error(err))
		}
		s.metrics.RecordCacheOperation(false)
	}

	events, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list calendar events")
	}

	if cacheable {
		if err := s.cache.Set(ctx, key, events, s.cacheTTL); err != nil {
			s.logger.Warn("calendar cache write failed", zap.Error(err))
		}
	}
	return events, nil
}

// Get returns a single event.
func (s *CalendarService) Get(ctx context.Context, id string) (*models.CalendarEvent, error) {
	event, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "calendar event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load calendar event")
	}
	return event, nil
}

// Create persists a new event and invalidates cached listings.
func (s *CalendarService) Create(ctx context.Context, req CalendarEventRequest, actor *models.JWTClaims) (*models.CalendarEvent, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	event := &models.CalendarEvent{
		Title:       req.Title,
		Description: req.Description,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Audience:    models.CalendarAudience(req.Audience),
	}
	if actor != nil {
		event.CreatedBy = &actor.UserID
	}
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create calendar event")
	}

	s.invalidateListings(ctx)
	return event, nil
}

// Update persists mutable event fields and invalidates cached listings.
func (s *CalendarService) Update(ctx context.Context, id string, req CalendarEventRequest) (*models.CalendarEvent, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	event, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "calendar event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load calendar event")
	}

	event.Title = req.Title
	event.Description = req.Description
	event.StartsAt = req.StartsAt
	event.EndsAt = req.EndsAt
	event.Audience = models.CalendarAudience(req.Audience)

	if err := s.repo.Update(ctx, event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update calendar event")
	}

	s.invalidateListings(ctx)
	return event, nil
}

// Delete removes an event and invalidates cached listings.
func (s *CalendarService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "calendar event not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load calendar event")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete calendar event")
	}
	s.invalidateListings(ctx)
	return nil
}

func (s *CalendarService) validateRequest(req CalendarEventRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid calendar payload")
	}
	if req.EndsAt.Before(req.StartsAt) {
		return appErrors.Clone(appErrors.ErrValidation, "ends_at must not be before starts_at")
	}
	return nil
}

func (s *CalendarService) invalidateListings(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx,
		s.listCacheKey(""),
		s.listCacheKey(models.AudienceAll),
		s.listCacheKey(models.AudienceTeachers),
		s.listCacheKey(models.AudienceStudents),
	)
}

func (s *CalendarService) listCacheKey(audience models.CalendarAudience) string {
	if audience == "" {
		return "calendar:list:any"
	}
	return fmt.Sprintf("calendar:list:%s", audience)
}
