package businessflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/newsletter-dashboard/app/dto"
	"github.com/amirphl/newsletter-dashboard/app/services"
	"github.com/amirphl/newsletter-dashboard/config"
	"github.com/amirphl/newsletter-dashboard/logger"
	"github.com/amirphl/newsletter-dashboard/models"
	"github.com/amirphl/newsletter-dashboard/repository"
	"github.com/amirphl/newsletter-dashboard/utils"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	dispatchPathAudience = "audience"
	dispatchPathCategory = "category"
)

var (
	// Recipients reached by dispatches, partitioned by send path and outcome
	broadcastRecipientsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_recipients_total",
			Help: "Total number of broadcast recipients processed by dispatches",
		},
		[]string{"path", "result"},
	)

	// Dispatch attempts partitioned by final broadcast status
	broadcastDispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_dispatches_total",
			Help: "Total number of broadcast dispatch attempts",
		},
		[]string{"status"},
	)
)

// BroadcastFlow composes broadcasts and dispatches them through the email provider
type BroadcastFlow interface {
	ListBroadcasts(ctx context.Context, req *dto.ListBroadcastsRequest) (*dto.ListBroadcastsResponse, error)
	GetBroadcast(ctx context.Context, id string) (*dto.BroadcastDTO, error)
	CreateBroadcast(ctx context.Context, req *dto.CreateBroadcastRequest) (*dto.BroadcastDTO, error)
	SendBroadcast(ctx context.Context, id string, req *dto.SendBroadcastRequest) (*dto.SendBroadcastResponse, error)
	UpdateBroadcast(ctx context.Context, id string, req *dto.UpdateBroadcastRequest) (*dto.BroadcastDTO, error)
	DeleteBroadcast(ctx context.Context, id string) (*dto.BroadcastDTO, error)
	DeleteManyBroadcasts(ctx context.Context, req *dto.BulkDeleteRequest) (*dto.BulkDeleteResponse, error)
	PreviewBroadcast(ctx context.Context, id string) (*dto.PreviewBroadcastResponse, error)
}

// BroadcastFlowImpl implements the broadcast business flow
type BroadcastFlowImpl struct {
	broadcastRepo  repository.BroadcastRepository
	subscriberRepo repository.SubscriberRepository
	provider       services.EmailProvider
	renderer       *services.EmailRenderer
	providerConfig config.ProviderConfig
	logger         *zap.Logger
}

// NewBroadcastFlow creates a new broadcast flow instance
func NewBroadcastFlow(
	broadcastRepo repository.BroadcastRepository,
	subscriberRepo repository.SubscriberRepository,
	provider services.EmailProvider,
	renderer *services.EmailRenderer,
	providerConfig config.ProviderConfig,
	log *zap.Logger,
) BroadcastFlow {
	if log == nil {
		log = zap.NewNop()
	}
	return &BroadcastFlowImpl{
		broadcastRepo:  broadcastRepo,
		subscriberRepo: subscriberRepo,
		provider:       provider,
		renderer:       renderer,
		providerConfig: providerConfig,
		logger:         log.Named("broadcast_flow"),
	}
}

// ListBroadcasts returns a page of broadcasts, newest first
func (s *BroadcastFlowImpl) ListBroadcasts(ctx context.Context, req *dto.ListBroadcastsRequest) (*dto.ListBroadcastsResponse, error) {
	if err := validatePage(req.Page, req.Limit); err != nil {
		return nil, err
	}

	filter := models.BroadcastFilter{}
	if req.Status != nil && *req.Status != "" {
		status := models.BroadcastStatus(*req.Status)
		if !status.Valid() {
			return nil, newBadRequest("INVALID_BROADCAST_STATUS", "Invalid status: "+*req.Status, ErrInvalidBroadcastStatus)
		}
		filter.Status = &status
	}

	total, err := s.broadcastRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_BROADCASTS_FAILED", "Failed to list broadcasts", err)
	}

	offset := (req.Page - 1) * req.Limit
	rows, err := s.broadcastRepo.ByFilter(ctx, filter, repository.OrderNewestFirst, req.Limit, offset)
	if err != nil {
		return nil, NewBusinessError("LIST_BROADCASTS_FAILED", "Failed to list broadcasts", err)
	}

	items := make([]dto.BroadcastDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, ToBroadcastDTO(*row))
	}

	return &dto.ListBroadcastsResponse{
		Broadcasts: items,
		Pagination: paginationInfo(total, req.Page, req.Limit),
	}, nil
}

// GetBroadcast returns one broadcast
func (s *BroadcastFlowImpl) GetBroadcast(ctx context.Context, id string) (*dto.BroadcastDTO, error) {
	broadcast, err := s.getBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}
	out := ToBroadcastDTO(*broadcast)
	return &out, nil
}

// CreateBroadcast stores a new broadcast. Audience-wide broadcasts are created on the
// provider first; category broadcasts are sent as individual emails at dispatch time.
func (s *BroadcastFlowImpl) CreateBroadcast(ctx context.Context, req *dto.CreateBroadcastRequest) (*dto.BroadcastDTO, error) {
	target := models.BroadcastTargetAll
	if req.TargetCategory != "" {
		target = models.BroadcastTarget(req.TargetCategory)
	}
	if !target.Valid() {
		return nil, newBadRequest("INVALID_BROADCAST_TARGET", "Invalid target category: "+req.TargetCategory, ErrInvalidBroadcastTarget)
	}
	// Only audience broadcasts are ever scheduled, at creation or at send. A category
	// broadcast is delivered as paced individual emails with nothing on the provider
	// side to hold a schedule, so it never reaches scheduled; the send path rejects
	// a schedule for the same reason.
	if !target.IsAll() && req.ScheduledAt != nil {
		return nil, newBadRequest("CATEGORY_SCHEDULE_NOT_ALLOWED", "Category broadcasts cannot be scheduled", ErrCategoryScheduleNotAllowed)
	}

	recipients, err := s.resolveRecipients(ctx, target)
	if err != nil {
		return nil, err
	}

	broadcast := &models.Broadcast{
		Title:          req.Title,
		Subject:        req.Subject,
		Content:        req.Content,
		FromEmail:      s.fromEmail(req.FromEmail),
		AudienceID:     s.providerConfig.AudienceID,
		TargetCategory: target,
		Status:         models.BroadcastStatusDraft,
	}
	if req.ScheduledAt != nil {
		broadcast.ScheduledAt = utils.TimeToUTCPtr(req.ScheduledAt)
		if utils.IsValidPtr(broadcast.ScheduledAt) {
			broadcast.Status = models.BroadcastStatusScheduled
		}
	}

	log := logger.WithContext(ctx, s.logger)

	if target.IsAll() {
		html, err := s.renderer.Render(services.EmailContent{
			Title:          broadcast.Title,
			Content:        broadcast.Content,
			PreviewText:    broadcast.Subject,
			UnsubscribeURL: services.ProviderUnsubscribeURL,
		})
		if err != nil {
			return nil, NewBusinessError("BROADCAST_RENDER_FAILED", "Failed to render broadcast", err)
		}

		providerID, err := s.provider.CreateBroadcast(ctx, services.BroadcastInput{
			AudienceID: broadcast.AudienceID,
			From:       broadcast.FromEmail,
			Subject:    broadcast.Subject,
			HTML:       html,
			Name:       broadcast.Title,
		})
		if err != nil {
			return nil, NewBusinessError("PROVIDER_BROADCAST_CREATION_FAILED", "Failed to create broadcast in provider", err)
		}
		if providerID == "" {
			return nil, NewBusinessError("PROVIDER_BROADCAST_CREATION_FAILED", "Failed to create broadcast in provider", ErrProviderBroadcastIDMissing)
		}
		broadcast.ProviderBroadcastID = &providerID
	}

	if err := s.broadcastRepo.Save(ctx, broadcast); err != nil {
		if broadcast.ProviderBroadcastID != nil {
			s.removeProviderBroadcast(ctx, broadcast)
		}
		return nil, NewBusinessError("BROADCAST_CREATION_FAILED", "Failed to create broadcast", err)
	}

	log.Info("broadcast created",
		zap.String("broadcast_id", broadcast.ID.String()),
		zap.String("target", target.String()),
		zap.String("status", broadcast.Status.String()),
		zap.Int("active_recipients", len(recipients)),
	)

	out := ToBroadcastDTO(*broadcast)
	return &out, nil
}

// SendBroadcast dispatches a broadcast. A missing broadcast and a scheduled category send
// are rejected without touching the stored status; every other failure marks it failed.
func (s *BroadcastFlowImpl) SendBroadcast(ctx context.Context, id string, req *dto.SendBroadcastRequest) (*dto.SendBroadcastResponse, error) {
	var scheduledAt *time.Time
	if req != nil {
		scheduledAt = utils.TimeToUTCPtr(req.ScheduledAt)
	}

	broadcast, err := s.getBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}
	if !broadcast.TargetCategory.IsAll() && scheduledAt != nil {
		return nil, newBadRequest("CATEGORY_SCHEDULE_NOT_ALLOWED", "Category broadcasts cannot be scheduled", ErrCategoryScheduleNotAllowed)
	}

	resp, err := s.dispatch(ctx, broadcast, scheduledAt)
	if err != nil {
		s.markFailed(ctx, broadcast.ID, err)
		broadcastDispatchesTotal.WithLabelValues(models.BroadcastStatusFailed.String()).Inc()
		return nil, NewBusinessError("BROADCAST_SEND_FAILED", "Failed to send broadcast", fmt.Errorf("%w: %w", ErrBroadcastSendFailed, err))
	}

	broadcastDispatchesTotal.WithLabelValues(resp.Broadcast.Status).Inc()
	return resp, nil
}

func (s *BroadcastFlowImpl) dispatch(ctx context.Context, broadcast *models.Broadcast, scheduledAt *time.Time) (*dto.SendBroadcastResponse, error) {
	recipients, err := s.resolveRecipients(ctx, broadcast.TargetCategory)
	if err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx, s.logger).With(zap.String("broadcast_id", broadcast.ID.String()))

	var delivery *dto.ProviderResults
	if broadcast.TargetCategory.IsAll() {
		if broadcast.ProviderBroadcastID == nil || *broadcast.ProviderBroadcastID == "" {
			return nil, newNotFound("BROADCAST_NOT_CREATED_IN_PROVIDER", "Broadcast not properly created in provider", ErrBroadcastNotCreatedInProvider)
		}
		if err := s.provider.SendBroadcast(ctx, *broadcast.ProviderBroadcastID, scheduledAt); err != nil {
			return nil, fmt.Errorf("provider broadcast send: %w", err)
		}
		if scheduledAt == nil {
			broadcastRecipientsTotal.WithLabelValues(dispatchPathAudience, "sent").Add(float64(len(recipients)))
		}
	} else {
		// Emails already sent cannot be recalled, so the batch runs to completion
		// whatever happens to the request; each provider call keeps its own timeout
		ctx = context.WithoutCancel(ctx)
		summary, err := s.sendToRecipients(ctx, broadcast, recipients)
		if err != nil {
			return nil, err
		}
		results := providerResults(summary)
		delivery = &results
		log.Info("category broadcast delivered",
			zap.Int("successful", summary.Successful),
			zap.Int("failed", summary.Failed),
		)
	}

	result := repository.DispatchResult{
		Status:         models.BroadcastStatusSent,
		RecipientCount: len(recipients),
	}
	if scheduledAt != nil {
		result.Status = models.BroadcastStatusScheduled
		result.ScheduledAt = scheduledAt
	} else {
		result.SentAt = utils.UTCNowPtr()
	}

	// The provider has accepted the send; record it even if the request has ended
	updated, err := s.broadcastRepo.MarkDispatched(context.WithoutCancel(ctx), broadcast.ID, result)
	if err != nil {
		return nil, fmt.Errorf("mark dispatched: %w", err)
	}
	if updated == nil {
		return nil, fmt.Errorf("mark dispatched: %w", ErrBroadcastNotFound)
	}

	log.Info("broadcast dispatched",
		zap.String("status", updated.Status.String()),
		zap.Int("recipient_count", updated.RecipientCount),
	)

	return &dto.SendBroadcastResponse{
		Broadcast: ToBroadcastDTO(*updated),
		Delivery:  delivery,
	}, nil
}

// sendToRecipients renders the body once and emails every recipient in turn.
// Individual failures are counted and never stop the batch.
func (s *BroadcastFlowImpl) sendToRecipients(ctx context.Context, broadcast *models.Broadcast, recipients []*models.Subscriber) (BatchSummary, error) {
	html, err := s.renderer.Render(services.EmailContent{
		Title:          broadcast.Title,
		Content:        broadcast.Content,
		PreviewText:    broadcast.Subject,
		UnsubscribeURL: services.RecipientUnsubscribePlaceholder,
	})
	if err != nil {
		return BatchSummary{}, fmt.Errorf("render broadcast: %w", err)
	}

	log := logger.WithContext(ctx, s.logger)
	results := RunRateLimited(ctx, recipients, s.providerConfig.SendInterval, func(ctx context.Context, sub *models.Subscriber) error {
		err := s.provider.SendEmail(ctx, services.EmailInput{
			From:    broadcast.FromEmail,
			To:      sub.Email,
			Subject: broadcast.Subject,
			HTML:    services.PersonalizeUnsubscribe(html, s.renderer.UnsubscribeURL(sub.UnsubscribeToken)),
		})
		if err != nil {
			log.Warn("failed to send broadcast email",
				zap.String("broadcast_id", broadcast.ID.String()),
				zap.String("subscriber_id", sub.ID.String()),
				zap.Error(err),
			)
		}
		return err
	})

	summary := Summarize(results)
	broadcastRecipientsTotal.WithLabelValues(dispatchPathCategory, "sent").Add(float64(summary.Successful))
	broadcastRecipientsTotal.WithLabelValues(dispatchPathCategory, "failed").Add(float64(summary.Failed))

	return summary, nil
}

// UpdateBroadcast changes only the supplied fields
func (s *BroadcastFlowImpl) UpdateBroadcast(ctx context.Context, id string, req *dto.UpdateBroadcastRequest) (*dto.BroadcastDTO, error) {
	broadcastID, err := parseBroadcastID(id)
	if err != nil {
		return nil, err
	}

	update := repository.BroadcastUpdate{
		Title:     req.Title,
		Subject:   req.Subject,
		Content:   req.Content,
		FromEmail: req.FromEmail,
	}
	if req.Status != nil {
		status := models.BroadcastStatus(*req.Status)
		if !status.Valid() {
			return nil, newBadRequest("INVALID_BROADCAST_STATUS", "Invalid status: "+*req.Status, ErrInvalidBroadcastStatus)
		}
		update.Status = &status
	}
	if req.TargetCategory != nil {
		target := models.BroadcastTarget(*req.TargetCategory)
		if !target.Valid() {
			return nil, newBadRequest("INVALID_BROADCAST_TARGET", "Invalid target category: "+*req.TargetCategory, ErrInvalidBroadcastTarget)
		}
		update.TargetCategory = &target
	}

	broadcast, err := s.broadcastRepo.Update(ctx, broadcastID, update)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_UPDATE_FAILED", "Failed to update broadcast", err)
	}
	if broadcast == nil {
		return nil, newNotFound("BROADCAST_NOT_FOUND", "Broadcast not found", ErrBroadcastNotFound)
	}

	out := ToBroadcastDTO(*broadcast)
	return &out, nil
}

// DeleteBroadcast removes the provider campaign on a best-effort basis, then the local row
func (s *BroadcastFlowImpl) DeleteBroadcast(ctx context.Context, id string) (*dto.BroadcastDTO, error) {
	broadcast, err := s.getBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}

	if broadcast.ProviderBroadcastID != nil && *broadcast.ProviderBroadcastID != "" {
		s.removeProviderBroadcast(ctx, broadcast)
	}

	if _, err := s.broadcastRepo.Delete(ctx, broadcast.ID); err != nil {
		return nil, NewBusinessError("BROADCAST_DELETION_FAILED", "Failed to delete broadcast", err)
	}

	out := ToBroadcastDTO(*broadcast)
	return &out, nil
}

// DeleteManyBroadcasts removes provider campaigns sequentially under the provider rate
// limit, then deletes every matched row in one statement
func (s *BroadcastFlowImpl) DeleteManyBroadcasts(ctx context.Context, req *dto.BulkDeleteRequest) (*dto.BulkDeleteResponse, error) {
	ids, err := parseIDs(req.IDs)
	if err != nil {
		return nil, err
	}

	broadcasts, err := s.broadcastRepo.ByFilter(ctx, models.BroadcastFilter{IDs: ids}, repository.OrderNewestFirst, 0, 0)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_LOOKUP_FAILED", "Failed to delete broadcasts", err)
	}
	if len(broadcasts) == 0 {
		return nil, newNotFound("BROADCASTS_NOT_FOUND", "No broadcasts found", ErrNoBroadcastsMatched)
	}

	remote := make([]*models.Broadcast, 0, len(broadcasts))
	matched := make([]uuid.UUID, 0, len(broadcasts))
	for _, b := range broadcasts {
		matched = append(matched, b.ID)
		if b.ProviderBroadcastID != nil && *b.ProviderBroadcastID != "" {
			remote = append(remote, b)
		}
	}

	// Provider removal and the local delete run to completion once started, so no
	// local row outlives its campaign because the request ended mid-batch
	ctx = context.WithoutCancel(ctx)
	log := logger.WithContext(ctx, s.logger)
	results := RunRateLimited(ctx, remote, s.providerConfig.ContactRemovalInterval, func(ctx context.Context, b *models.Broadcast) error {
		err := s.provider.RemoveBroadcast(ctx, *b.ProviderBroadcastID)
		if err != nil && !errors.Is(err, services.ErrProviderNotFound) {
			log.Warn("failed to remove broadcast from email provider",
				zap.String("broadcast_id", b.ID.String()),
				zap.Error(err),
			)
			return err
		}
		return nil
	})
	summary := Summarize(results)

	deleted, err := s.broadcastRepo.DeleteByIDs(ctx, matched)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_DELETION_FAILED", "Failed to delete broadcasts", err)
	}

	log.Info("broadcasts deleted",
		zap.Int64("deleted", deleted),
		zap.Int("provider_successful", summary.Successful),
		zap.Int("provider_failed", summary.Failed),
	)

	return &dto.BulkDeleteResponse{
		Deleted:  deleted,
		Provider: providerResults(summary),
	}, nil
}

// PreviewBroadcast renders the stored broadcast through the newsletter layout
func (s *BroadcastFlowImpl) PreviewBroadcast(ctx context.Context, id string) (*dto.PreviewBroadcastResponse, error) {
	broadcast, err := s.getBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}

	html, err := s.renderer.Render(services.EmailContent{
		Title:          broadcast.Title,
		Content:        broadcast.Content,
		PreviewText:    broadcast.Subject,
		UnsubscribeURL: "#",
	})
	if err != nil {
		return nil, NewBusinessError("BROADCAST_RENDER_FAILED", "Failed to render broadcast", err)
	}

	return &dto.PreviewBroadcastResponse{Subject: broadcast.Subject, HTML: html}, nil
}

// resolveRecipients lists the active subscribers a target reaches; an empty set is a BadRequest
func (s *BroadcastFlowImpl) resolveRecipients(ctx context.Context, target models.BroadcastTarget) ([]*models.Subscriber, error) {
	recipients, err := s.subscriberRepo.ListActive(ctx, target.Category())
	if err != nil {
		return nil, NewBusinessError("RECIPIENT_LOOKUP_FAILED", "Failed to resolve recipients", err)
	}
	if len(recipients) == 0 {
		name := target.String()
		if target.IsAll() {
			name = models.BroadcastTargetAll.String()
		}
		return nil, newBadRequest("NO_ACTIVE_SUBSCRIBERS", "No active subscribers found in category: "+name, ErrNoActiveSubscribers)
	}
	return recipients, nil
}

func (s *BroadcastFlowImpl) getBroadcast(ctx context.Context, id string) (*models.Broadcast, error) {
	broadcastID, err := parseBroadcastID(id)
	if err != nil {
		return nil, err
	}

	broadcast, err := s.broadcastRepo.ByID(ctx, broadcastID)
	if err != nil {
		return nil, NewBusinessError("BROADCAST_LOOKUP_FAILED", "Failed to get broadcast", err)
	}
	if broadcast == nil {
		return nil, newNotFound("BROADCAST_NOT_FOUND", "Broadcast not found", ErrBroadcastNotFound)
	}
	return broadcast, nil
}

// markFailed is fire-and-forget; the caller already has an error to report
func (s *BroadcastFlowImpl) markFailed(ctx context.Context, id uuid.UUID, cause error) {
	log := logger.WithContext(ctx, s.logger)
	log.Error("broadcast send failed", zap.String("broadcast_id", id.String()), zap.Error(cause))

	if err := s.broadcastRepo.UpdateStatus(context.WithoutCancel(ctx), id, models.BroadcastStatusFailed); err != nil {
		log.Warn("failed to mark broadcast as failed", zap.String("broadcast_id", id.String()), zap.Error(err))
	}
}

func (s *BroadcastFlowImpl) removeProviderBroadcast(ctx context.Context, broadcast *models.Broadcast) {
	if err := s.provider.RemoveBroadcast(ctx, *broadcast.ProviderBroadcastID); err != nil {
		logger.WithContext(ctx, s.logger).Warn("failed to remove broadcast from email provider",
			zap.String("broadcast_id", broadcast.ID.String()),
			zap.String("provider_broadcast_id", *broadcast.ProviderBroadcastID),
			zap.Error(err),
		)
	}
}

func (s *BroadcastFlowImpl) fromEmail(requested string) string {
	if requested != "" {
		return utils.NormalizeEmail(requested)
	}
	if s.providerConfig.DefaultFromEmail != "" {
		return s.providerConfig.DefaultFromEmail
	}
	return utils.DefaultFromEmail
}

func parseBroadcastID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, newNotFound("BROADCAST_NOT_FOUND", "Broadcast not found", ErrBroadcastNotFound)
	}
	return parsed, nil
}
