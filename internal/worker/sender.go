package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nftecnologia/mailgenius/internal/domain"
	"github.com/nftecnologia/mailgenius/internal/mailing"
	"github.com/nftecnologia/mailgenius/internal/metrics"
	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
	"github.com/nftecnologia/mailgenius/internal/progress"
	"github.com/nftecnologia/mailgenius/internal/queue"
	"github.com/nftecnologia/mailgenius/internal/ratelimit"
)

// SendQueue is the queue name the email pipeline runs on.
const SendQueue = "email-send"

// Pacing defaults.
const (
	DefaultBatchSize       = 100
	DefaultRateLimitDelay  = time.Second
	DefaultIntraBatchDelay = 100 * time.Millisecond
)

// SendRepo is the durable campaign-send accounting store.
type SendRepo interface {
	CreateSend(ctx context.Context, s *domain.Send) error
	GetSend(ctx context.Context, id string) (*domain.Send, error)
	UpdateSendStatus(ctx context.Context, id, status string, finishedAt *time.Time) error
	UpsertBatch(ctx context.Context, b *domain.SendBatch) error
	CountBatches(ctx context.Context, sendID string) (int, error)
	InsertDelivery(ctx context.Context, d *domain.Delivery) error
}

// sendBatch is the payload of one batch job.
type sendBatch struct {
	SendID          string             `json:"send_id"`
	CampaignID      string             `json:"campaign_id"`
	OwnerID         string             `json:"owner_id"`
	BatchIndex      int                `json:"batch_index"`
	TotalBatches    int                `json:"total_batches"`
	TotalRecipients int                `json:"total_recipients"`
	Recipients      []domain.Recipient `json:"recipients"`
	Template        domain.Template    `json:"template"`
	Sender          domain.Sender      `json:"sender"`
}

// Sender fans a campaign out to recipients with pacing and per-recipient
// delivery accounting.
type Sender struct {
	queue     *queue.Queue
	tracker   *progress.Tracker
	sends     SendRepo
	transport mailing.Transport
	limiter   *ratelimit.Limiter
	metrics   *metrics.Collector

	batchSize       int
	rateLimitDelay  time.Duration
	intraBatchDelay time.Duration

	mu       sync.Mutex
	counters map[string]*runCounters
}

// NewSender registers the batch handler on the email-send queue.
func NewSender(q *queue.Queue, tracker *progress.Tracker, sends SendRepo, transport mailing.Transport, limiter *ratelimit.Limiter, collector *metrics.Collector) *Sender {
	s := &Sender{
		queue:           q,
		tracker:         tracker,
		sends:           sends,
		transport:       transport,
		limiter:         limiter,
		metrics:         collector,
		batchSize:       DefaultBatchSize,
		rateLimitDelay:  DefaultRateLimitDelay,
		intraBatchDelay: DefaultIntraBatchDelay,
		counters:        make(map[string]*runCounters),
	}
	q.Process(s.handleBatch)
	return s
}

// Start creates the send record and enqueues one job per recipient batch.
// The send id is stable across job retries; it is generated exactly once
// here.
func (s *Sender) Start(ctx context.Context, ownerID, campaignID string, recipients []domain.Recipient, tpl domain.Template, from domain.Sender) (string, error) {
	if ownerID == "" || from.Email == "" {
		return "", domain.E(domain.KindValidation, "SEND_INVALID", "ownerId and sender email are required")
	}
	if len(recipients) == 0 {
		return "", domain.E(domain.KindValidation, "SEND_EMPTY", "no recipients supplied")
	}
	if tpl.Subject == "" || tpl.HTML == "" {
		return "", domain.E(domain.KindValidation, "SEND_TEMPLATE", "subject and html body are required")
	}

	sendID := uuid.New().String()
	totalBatches := (len(recipients) + s.batchSize - 1) / s.batchSize

	if err := s.sends.CreateSend(ctx, &domain.Send{
		ID:              sendID,
		CampaignID:      campaignID,
		OwnerID:         ownerID,
		TotalRecipients: len(recipients),
		TotalBatches:    totalBatches,
		Status:          "processing",
		CreatedAt:       time.Now(),
	}); err != nil {
		return "", domain.Wrap(domain.KindTransientDependency, "SEND_CREATE", "send record persist failed", err)
	}
	if _, err := s.tracker.Create(ctx, sendID, progress.KindEmail, ownerID, len(recipients), map[string]interface{}{
		"campaign_id":   campaignID,
		"total_batches": totalBatches,
	}); err != nil {
		return "", err
	}

	items := make([]queue.BulkItem, 0, totalBatches)
	for i := 0; i < totalBatches; i++ {
		start := i * s.batchSize
		end := start + s.batchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		opts := queue.Options{
			Priority: -i,
			Delay:    time.Duration(i) * s.rateLimitDelay,
			GroupID:  sendID,
		}
		items = append(items, queue.BulkItem{
			Name: fmt.Sprintf("send:%s:batch:%d", sendID, i),
			Payload: sendBatch{
				SendID:          sendID,
				CampaignID:      campaignID,
				OwnerID:         ownerID,
				BatchIndex:      i,
				TotalBatches:    totalBatches,
				TotalRecipients: len(recipients),
				Recipients:      recipients[start:end],
				Template:        tpl,
				Sender:          from,
			},
			Opts: &opts,
		})
	}
	if _, err := s.queue.AddBulk(items); err != nil {
		now := time.Now()
		_ = s.sends.UpdateSendStatus(ctx, sendID, "failed", &now)
		return "", err
	}

	s.metrics.RecordCampaignEvent(metrics.CampaignSent, campaignID)
	logger.Info("campaign send started",
		"send_id", sendID, "campaign_id", campaignID, "owner_id", ownerID,
		"recipients", fmt.Sprintf("%d", len(recipients)), "batches", fmt.Sprintf("%d", totalBatches))
	return sendID, nil
}

// Cancel removes the run's pending and active jobs and marks the send
// cancelled.
func (s *Sender) Cancel(ctx context.Context, sendID string) error {
	snd, err := s.sends.GetSend(ctx, sendID)
	if err != nil {
		return domain.Wrap(domain.KindTransientDependency, "SEND_LOOKUP", "send lookup failed", err)
	}
	if snd == nil {
		return domain.ErrNotFound
	}

	removed := s.queue.RemoveGroup(sendID)
	now := time.Now()
	if err := s.sends.UpdateSendStatus(ctx, sendID, "cancelled", &now); err != nil {
		return err
	}
	cancelled := progress.StatusCancelled
	if _, err := s.tracker.Update(ctx, sendID, progress.Patch{Status: &cancelled}); err != nil {
		logger.Warn("cancel progress update failed", "send_id", sendID, "error", err.Error())
	}

	s.dropCounters(sendID)
	logger.Info("campaign send cancelled", "send_id", sendID, "jobs_removed", fmt.Sprintf("%d", removed))
	return nil
}

func (s *Sender) handleBatch(ctx context.Context, job *queue.Job, report queue.ProgressFunc) error {
	var batch sendBatch
	if err := json.Unmarshal(job.Payload, &batch); err != nil {
		return domain.Wrap(domain.KindValidation, "SEND_PAYLOAD", "malformed batch payload", err)
	}

	// Tenant pacing gate. A denied window is a transient condition; the
	// retry backoff re-schedules the whole batch.
	if s.limiter != nil {
		if res := s.limiter.Check(ctx, batch.OwnerID, ratelimit.EmailSending); !res.Allowed {
			return domain.E(domain.KindTransientDependency, "SEND_THROTTLED",
				fmt.Sprintf("tenant email quota exhausted, retry after %ds", res.RetryAfterSec))
		}
	}

	counters := s.countersFor(batch.SendID)
	var failures []string
	sent := 0
	counters.set(batch.BatchIndex, 0, 0)

	for i, rcpt := range batch.Recipients {
		if err := ctx.Err(); err != nil {
			return err
		}

		rendered := mailing.Render(batch.Template, rcpt)
		msgID, err := s.transport.Send(ctx, mailing.Outgoing{
			From:     batch.Sender,
			To:       rcpt,
			Subject:  rendered.Subject,
			HTML:     rendered.HTML,
			Text:     rendered.Text,
			OwnerID:  batch.OwnerID,
			SendID:   batch.SendID,
			Campaign: batch.CampaignID,
		})

		delivery := &domain.Delivery{
			ID:          uuid.New().String(),
			SendID:      batch.SendID,
			CampaignID:  batch.CampaignID,
			OwnerID:     batch.OwnerID,
			RecipientID: rcpt.ID,
			Email:       rcpt.Email,
			CreatedAt:   time.Now(),
		}
		if err != nil {
			delivery.Status = "failed"
			delivery.Error = err.Error()
			failures = append(failures, fmt.Sprintf("%s: %v", rcpt.Email, err))
		} else {
			delivery.Status = "sent"
			delivery.MessageID = msgID
			sent++
			s.metrics.RecordEmailEvent(metrics.EmailSent, batch.OwnerID)
		}
		counters.set(batch.BatchIndex, sent, len(failures))
		if derr := s.sends.InsertDelivery(ctx, delivery); derr != nil {
			logger.Warn("delivery row persist failed", "send_id", batch.SendID, "email", rcpt.Email, "error", derr.Error())
		}

		s.reportProgress(ctx, batch, counters, report)

		if i < len(batch.Recipients)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.intraBatchDelay):
			}
		}
	}

	if err := s.sends.UpsertBatch(ctx, &domain.SendBatch{
		SendID:     batch.SendID,
		BatchID:    job.ID,
		BatchIndex: batch.BatchIndex,
		Sent:       sent,
		Failed:     len(failures),
		Failures:   failures,
		UpdatedAt:  time.Now(),
	}); err != nil {
		return domain.Wrap(domain.KindTransientDependency, "SEND_BATCH", "batch upsert failed", err)
	}

	done, err := s.sends.CountBatches(ctx, batch.SendID)
	if err != nil {
		return domain.Wrap(domain.KindTransientDependency, "SEND_COUNT", "batch count failed", err)
	}
	if done >= batch.TotalBatches {
		s.finish(ctx, batch)
	}
	return nil
}

func (s *Sender) reportProgress(ctx context.Context, batch sendBatch, counters *runCounters, report queue.ProgressFunc) {
	processed, totalFailed := counters.totals()

	pct := 0
	if batch.TotalRecipients > 0 {
		pct = (processed + totalFailed) * 100 / batch.TotalRecipients
	}
	msg := fmt.Sprintf("sent %d/%d", processed+totalFailed, batch.TotalRecipients)
	report(pct, msg, map[string]interface{}{
		"current_batch": batch.BatchIndex,
		"total_batches": batch.TotalBatches,
	})

	processing := progress.StatusProcessing
	if _, err := s.tracker.Update(ctx, batch.SendID, progress.Patch{
		Status:    &processing,
		Processed: &processed,
		Failed:    &totalFailed,
		Message:   &msg,
	}); err != nil {
		logger.Debug("send progress update failed", "send_id", batch.SendID, "error", err.Error())
	}
}

func (s *Sender) finish(ctx context.Context, batch sendBatch) {
	now := time.Now()
	if err := s.sends.UpdateSendStatus(ctx, batch.SendID, "completed", &now); err != nil {
		logger.Warn("send completion persist failed", "send_id", batch.SendID, "error", err.Error())
	}

	completed := progress.StatusCompleted
	msg := "campaign send finished"
	if _, err := s.tracker.Update(ctx, batch.SendID, progress.Patch{
		Status:  &completed,
		Message: &msg,
	}); err != nil {
		logger.Warn("send progress completion failed", "send_id", batch.SendID, "error", err.Error())
	}

	s.metrics.RecordCampaignEvent(metrics.CampaignCompleted, batch.CampaignID)
	s.dropCounters(batch.SendID)
	logger.Info("campaign send completed", "send_id", batch.SendID, "campaign_id", batch.CampaignID)
}

func (s *Sender) countersFor(sendID string) *runCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[sendID]
	if !ok {
		c = newRunCounters()
		s.counters[sendID] = c
	}
	return c
}

func (s *Sender) dropCounters(sendID string) {
	s.mu.Lock()
	delete(s.counters, sendID)
	s.mu.Unlock()
}
