// Package businessflow contains the core business logic of the newsletter dashboard
package businessflow

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/amirphl/newsletter-dashboard/app/dto"
	"github.com/amirphl/newsletter-dashboard/app/services"
	"github.com/amirphl/newsletter-dashboard/config"
	"github.com/amirphl/newsletter-dashboard/logger"
	"github.com/amirphl/newsletter-dashboard/models"
	"github.com/amirphl/newsletter-dashboard/repository"
	"github.com/amirphl/newsletter-dashboard/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubscriberFlow keeps the local subscriber table and the provider audience consistent
type SubscriberFlow interface {
	ListSubscribers(ctx context.Context, req *dto.ListSubscribersRequest) (*dto.ListSubscribersResponse, error)
	GetSubscriber(ctx context.Context, id string) (*dto.SubscriberDTO, error)
	CreateSubscriber(ctx context.Context, req *dto.CreateSubscriberRequest) (*dto.SubscriberDTO, error)
	UpdateSubscriber(ctx context.Context, id string, req *dto.UpdateSubscriberRequest) (*dto.SubscriberDTO, error)
	DeleteSubscriber(ctx context.Context, id string) (*dto.SubscriberDTO, error)
	DeleteManySubscribers(ctx context.Context, req *dto.BulkDeleteRequest) (*dto.BulkDeleteResponse, error)
	GetCategoryStats(ctx context.Context) (*dto.CategoryStatsResponse, error)
	RefreshCategoryStats(ctx context.Context) error
	ImportSubscribers(ctx context.Context, req *dto.ImportSubscribersRequest, file io.Reader) (*dto.ImportSubscribersResponse, error)
	ExportSubscribers(ctx context.Context, req *dto.ExportSubscribersRequest) (*dto.ExportSubscribersResponse, error)
	Unsubscribe(ctx context.Context, token string) (*dto.UnsubscribeResponse, error)
}

// SubscriberFlowImpl implements the subscriber business flow
type SubscriberFlowImpl struct {
	subscriberRepo repository.SubscriberRepository
	provider       services.EmailProvider
	statsCache     CategoryStatsCache
	providerConfig config.ProviderConfig
	logger         *zap.Logger
}

// NewSubscriberFlow creates a new subscriber flow instance; statsCache may be nil
func NewSubscriberFlow(
	subscriberRepo repository.SubscriberRepository,
	provider services.EmailProvider,
	statsCache CategoryStatsCache,
	providerConfig config.ProviderConfig,
	log *zap.Logger,
) SubscriberFlow {
	if log == nil {
		log = zap.NewNop()
	}
	return &SubscriberFlowImpl{
		subscriberRepo: subscriberRepo,
		provider:       provider,
		statsCache:     statsCache,
		providerConfig: providerConfig,
		logger:         log.Named("subscriber_flow"),
	}
}

// ListSubscribers returns a page of subscribers, newest first
func (s *SubscriberFlowImpl) ListSubscribers(ctx context.Context, req *dto.ListSubscribersRequest) (*dto.ListSubscribersResponse, error) {
	if err := validatePage(req.Page, req.Limit); err != nil {
		return nil, err
	}

	filter := models.SubscriberFilter{}
	if req.Category != nil && *req.Category != "" {
		category := models.SubscriberCategory(*req.Category)
		if !category.Valid() {
			return nil, newBadRequest("INVALID_CATEGORY", "Invalid category: "+*req.Category, ErrInvalidCategory)
		}
		filter.Category = &category
	}
	if req.Status != nil && *req.Status != "" {
		status := models.SubscriberStatus(*req.Status)
		if !status.Valid() {
			return nil, newBadRequest("INVALID_STATUS", "Invalid status: "+*req.Status, ErrInvalidStatus)
		}
		filter.Status = &status
	}

	total, err := s.subscriberRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_SUBSCRIBERS_FAILED", "Failed to list subscribers", err)
	}

	offset := (req.Page - 1) * req.Limit
	rows, err := s.subscriberRepo.ByFilter(ctx, filter, repository.OrderNewestFirst, req.Limit, offset)
	if err != nil {
		return nil, NewBusinessError("LIST_SUBSCRIBERS_FAILED", "Failed to list subscribers", err)
	}

	items := make([]dto.SubscriberDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, ToSubscriberDTO(*row))
	}

	return &dto.ListSubscribersResponse{
		Subscribers: items,
		Pagination:  paginationInfo(total, req.Page, req.Limit),
	}, nil
}

// GetSubscriber returns one subscriber
func (s *SubscriberFlowImpl) GetSubscriber(ctx context.Context, id string) (*dto.SubscriberDTO, error) {
	subscriber, err := s.getSubscriber(ctx, id)
	if err != nil {
		return nil, err
	}
	out := ToSubscriberDTO(*subscriber)
	return &out, nil
}

// CreateSubscriber registers the email with the provider, then stores it locally
func (s *SubscriberFlowImpl) CreateSubscriber(ctx context.Context, req *dto.CreateSubscriberRequest) (*dto.SubscriberDTO, error) {
	category := models.SubscriberCategoryGeneral
	if req.Category != "" {
		category = models.SubscriberCategory(req.Category)
	}

	subscriber, err := s.createSubscriber(ctx, req.Email, category, models.SubscriberSourceAPI)
	if err != nil {
		return nil, err
	}

	s.invalidateStats(ctx)
	logger.WithContext(ctx, s.logger).Info("subscriber created",
		zap.String("subscriber_id", subscriber.ID.String()),
		zap.String("category", subscriber.Category.String()),
	)

	out := ToSubscriberDTO(*subscriber)
	return &out, nil
}

// createSubscriber is the single creation path shared by the API and imports.
// Provider errors propagate and no local row is written.
func (s *SubscriberFlowImpl) createSubscriber(ctx context.Context, rawEmail string, category models.SubscriberCategory, source string) (*models.Subscriber, error) {
	email := utils.NormalizeEmail(rawEmail)
	if !utils.IsValidEmail(email) {
		return nil, newBadRequest("INVALID_EMAIL", "Invalid email address", ErrInvalidEmail)
	}
	if !category.Valid() {
		return nil, newBadRequest("INVALID_CATEGORY", "Invalid category: "+category.String(), ErrInvalidCategory)
	}

	// The unique index decides; this only saves a provider call in the common case
	existing, err := s.subscriberRepo.ByEmail(ctx, email)
	if err != nil {
		return nil, NewBusinessError("SUBSCRIBER_LOOKUP_FAILED", "Failed to create subscriber", err)
	}
	if existing != nil {
		return nil, newConflict("EMAIL_ALREADY_SUBSCRIBED", "Email already subscribed", ErrEmailAlreadySubscribed)
	}

	contactID, err := s.provider.CreateContact(ctx, services.ContactInput{
		Email:      email,
		AudienceID: s.providerConfig.AudienceID,
	})
	if err != nil {
		return nil, NewBusinessError("PROVIDER_CONTACT_CREATION_FAILED", "Failed to add contact to email provider", err)
	}

	subscriber := &models.Subscriber{
		Email:            email,
		Status:           models.SubscriberStatusActive,
		Category:         category,
		UnsubscribeToken: uuid.NewString(),
		Source:           source,
	}
	if contactID != "" {
		subscriber.ProviderContactID = &contactID
	}

	if err := s.subscriberRepo.Save(ctx, subscriber); err != nil {
		if repository.IsDuplicateKey(err) {
			return nil, newConflict("EMAIL_ALREADY_SUBSCRIBED", "Email already subscribed", ErrEmailAlreadySubscribed)
		}
		return nil, NewBusinessError("SUBSCRIBER_CREATION_FAILED", "Failed to create subscriber", err)
	}

	return subscriber, nil
}

// UpdateSubscriber changes only the supplied fields
func (s *SubscriberFlowImpl) UpdateSubscriber(ctx context.Context, id string, req *dto.UpdateSubscriberRequest) (*dto.SubscriberDTO, error) {
	subscriberID, err := parseSubscriberID(id)
	if err != nil {
		return nil, err
	}

	var update repository.SubscriberUpdate
	if req.Status != nil {
		status := models.SubscriberStatus(*req.Status)
		if !status.Valid() {
			return nil, newBadRequest("INVALID_STATUS", "Invalid status: "+*req.Status, ErrInvalidStatus)
		}
		update.Status = &status
	}
	if req.Category != nil {
		category := models.SubscriberCategory(*req.Category)
		if !category.Valid() {
			return nil, newBadRequest("INVALID_CATEGORY", "Invalid category: "+*req.Category, ErrInvalidCategory)
		}
		update.Category = &category
	}

	subscriber, err := s.subscriberRepo.Update(ctx, subscriberID, update)
	if err != nil {
		return nil, NewBusinessError("SUBSCRIBER_UPDATE_FAILED", "Failed to update subscriber", err)
	}
	if subscriber == nil {
		return nil, newNotFound("SUBSCRIBER_NOT_FOUND", "Subscriber not found", ErrSubscriberNotFound)
	}

	s.invalidateStats(ctx)

	out := ToSubscriberDTO(*subscriber)
	return &out, nil
}

// DeleteSubscriber removes the provider contact on a best-effort basis, then the local row
func (s *SubscriberFlowImpl) DeleteSubscriber(ctx context.Context, id string) (*dto.SubscriberDTO, error) {
	subscriber, err := s.getSubscriber(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.removeContact(ctx, subscriber); err != nil {
		logger.WithContext(ctx, s.logger).Warn("failed to remove contact from email provider",
			zap.String("subscriber_id", subscriber.ID.String()),
			zap.Error(err),
		)
	}

	if _, err := s.subscriberRepo.Delete(ctx, subscriber.ID); err != nil {
		return nil, NewBusinessError("SUBSCRIBER_DELETION_FAILED", "Failed to delete subscriber", err)
	}

	s.invalidateStats(ctx)

	out := ToSubscriberDTO(*subscriber)
	return &out, nil
}

// DeleteManySubscribers removes provider contacts one by one under the provider
// rate limit, then deletes every matched row in one statement
func (s *SubscriberFlowImpl) DeleteManySubscribers(ctx context.Context, req *dto.BulkDeleteRequest) (*dto.BulkDeleteResponse, error) {
	ids, err := parseIDs(req.IDs)
	if err != nil {
		return nil, err
	}

	subscribers, err := s.subscriberRepo.ByFilter(ctx, models.SubscriberFilter{IDs: ids}, repository.OrderNewestFirst, 0, 0)
	if err != nil {
		return nil, NewBusinessError("SUBSCRIBER_LOOKUP_FAILED", "Failed to delete subscribers", err)
	}
	if len(subscribers) == 0 {
		return nil, newNotFound("SUBSCRIBERS_NOT_FOUND", "No subscribers found", ErrNoSubscribersMatched)
	}

	// Provider removal and the local delete run to completion once started, so no
	// contact is orphaned because the request ended mid-batch
	ctx = context.WithoutCancel(ctx)
	log := logger.WithContext(ctx, s.logger)
	results := RunRateLimited(ctx, subscribers, s.providerConfig.ContactRemovalInterval, func(ctx context.Context, sub *models.Subscriber) error {
		err := s.removeContact(ctx, sub)
		if err != nil && !errors.Is(err, services.ErrProviderNotFound) {
			log.Warn("failed to remove contact from email provider",
				zap.String("subscriber_id", sub.ID.String()),
				zap.Error(err),
			)
			return err
		}
		return nil
	})
	summary := Summarize(results)

	matched := make([]uuid.UUID, 0, len(subscribers))
	for _, sub := range subscribers {
		matched = append(matched, sub.ID)
	}
	deleted, err := s.subscriberRepo.DeleteByIDs(ctx, matched)
	if err != nil {
		return nil, NewBusinessError("SUBSCRIBER_DELETION_FAILED", "Failed to delete subscribers", err)
	}

	s.invalidateStats(ctx)
	log.Info("subscribers deleted",
		zap.Int64("deleted", deleted),
		zap.Int("provider_successful", summary.Successful),
		zap.Int("provider_failed", summary.Failed),
	)

	return &dto.BulkDeleteResponse{
		Deleted:  deleted,
		Provider: providerResults(summary),
	}, nil
}

// GetCategoryStats returns active subscriber counts for every category
func (s *SubscriberFlowImpl) GetCategoryStats(ctx context.Context) (*dto.CategoryStatsResponse, error) {
	if s.statsCache != nil {
		stats, ok, err := s.statsCache.Get(ctx)
		if err != nil {
			logger.WithContext(ctx, s.logger).Warn("category stats cache read failed", zap.Error(err))
		}
		if ok {
			return categoryStatsResponse(stats), nil
		}
	}

	stats, err := s.loadCategoryStats(ctx)
	if err != nil {
		return nil, err
	}
	return categoryStatsResponse(stats), nil
}

// RefreshCategoryStats recomputes the stats and stores them in the cache
func (s *SubscriberFlowImpl) RefreshCategoryStats(ctx context.Context) error {
	_, err := s.loadCategoryStats(ctx)
	return err
}

func (s *SubscriberFlowImpl) loadCategoryStats(ctx context.Context) (map[models.SubscriberCategory]int64, error) {
	log := logger.WithContext(ctx, s.logger)

	// The version is taken before counting so a concurrent invalidation voids the write
	cacheable := s.statsCache != nil
	var version int64
	if cacheable {
		v, err := s.statsCache.Version(ctx)
		if err != nil {
			log.Warn("category stats cache version read failed", zap.Error(err))
			cacheable = false
		}
		version = v
	}

	stats, err := s.subscriberRepo.CountActiveByCategory(ctx)
	if err != nil {
		return nil, NewBusinessError("CATEGORY_STATS_FAILED", "Failed to load category stats", err)
	}

	if cacheable {
		stored, err := s.statsCache.Set(ctx, version, stats)
		switch {
		case err != nil:
			log.Warn("category stats cache write failed", zap.Error(err))
		case !stored:
			log.Debug("category stats changed while counting; cache write skipped")
		}
	}
	return stats, nil
}

func categoryStatsResponse(stats map[models.SubscriberCategory]int64) *dto.CategoryStatsResponse {
	out := &dto.CategoryStatsResponse{Stats: make(map[string]int64, len(models.SubscriberCategories))}
	for _, category := range models.SubscriberCategories {
		n := stats[category]
		out.Stats[category.String()] = n
		out.TotalActive += n
	}
	return out
}

// Unsubscribe marks the subscriber owning token as unsubscribed; repeating it is harmless
func (s *SubscriberFlowImpl) Unsubscribe(ctx context.Context, token string) (*dto.UnsubscribeResponse, error) {
	if token == "" {
		return nil, newNotFound("UNSUBSCRIBE_TOKEN_NOT_FOUND", "Unsubscribe link is invalid", ErrUnknownUnsubscribe)
	}

	subscriber, err := s.subscriberRepo.ByUnsubscribeToken(ctx, token)
	if err != nil {
		return nil, NewBusinessError("UNSUBSCRIBE_FAILED", "Failed to unsubscribe", err)
	}
	if subscriber == nil {
		return nil, newNotFound("UNSUBSCRIBE_TOKEN_NOT_FOUND", "Unsubscribe link is invalid", ErrUnknownUnsubscribe)
	}

	if subscriber.Status != models.SubscriberStatusUnsubscribed {
		status := models.SubscriberStatusUnsubscribed
		updated, err := s.subscriberRepo.Update(ctx, subscriber.ID, repository.SubscriberUpdate{Status: &status})
		if err != nil {
			return nil, NewBusinessError("UNSUBSCRIBE_FAILED", "Failed to unsubscribe", err)
		}
		if updated == nil {
			return nil, newNotFound("UNSUBSCRIBE_TOKEN_NOT_FOUND", "Unsubscribe link is invalid", ErrUnknownUnsubscribe)
		}
		subscriber = updated
		s.invalidateStats(ctx)
		logger.WithContext(ctx, s.logger).Info("subscriber unsubscribed", zap.String("subscriber_id", subscriber.ID.String()))
	}

	return &dto.UnsubscribeResponse{
		Email:  subscriber.Email,
		Status: subscriber.Status.String(),
	}, nil
}

func (s *SubscriberFlowImpl) getSubscriber(ctx context.Context, id string) (*models.Subscriber, error) {
	subscriberID, err := parseSubscriberID(id)
	if err != nil {
		return nil, err
	}

	subscriber, err := s.subscriberRepo.ByID(ctx, subscriberID)
	if err != nil {
		return nil, NewBusinessError("SUBSCRIBER_LOOKUP_FAILED", "Failed to get subscriber", err)
	}
	if subscriber == nil {
		return nil, newNotFound("SUBSCRIBER_NOT_FOUND", "Subscriber not found", ErrSubscriberNotFound)
	}
	return subscriber, nil
}

// removeContact addresses the contact by provider id when known, else by email
func (s *SubscriberFlowImpl) removeContact(ctx context.Context, sub *models.Subscriber) error {
	ref := services.ContactRef{
		ID:         utils.Deref(sub.ProviderContactID),
		Email:      sub.Email,
		AudienceID: s.providerConfig.AudienceID,
	}
	if err := s.provider.RemoveContact(ctx, ref); err != nil {
		return fmt.Errorf("remove contact %s: %w", ref.Key(), err)
	}
	return nil
}

func (s *SubscriberFlowImpl) invalidateStats(ctx context.Context) {
	if s.statsCache == nil {
		return
	}
	if err := s.statsCache.Invalidate(context.WithoutCancel(ctx)); err != nil {
		logger.WithContext(ctx, s.logger).Warn("category stats cache invalidation failed", zap.Error(err))
	}
}

func parseSubscriberID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, newNotFound("SUBSCRIBER_NOT_FOUND", "Subscriber not found", ErrSubscriberNotFound)
	}
	return parsed, nil
}
