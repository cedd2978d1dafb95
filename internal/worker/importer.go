// Package worker runs the import and email-send pipelines on top of the
// queue engine, and the supervisor that owns their lifecycle.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nftecnologia/mailgenius/internal/domain"
	"github.com/nftecnologia/mailgenius/internal/metrics"
	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
	"github.com/nftecnologia/mailgenius/internal/progress"
	"github.com/nftecnologia/mailgenius/internal/queue"
)

// ImportQueue is the queue name the import pipeline runs on.
const ImportQueue = "imports"

// DefaultChunkSize is how many records one import job carries.
const DefaultChunkSize = 1000

// progressThrottle is the record interval between progress updates.
const progressThrottle = 100

// chunkSmoothingDelay spaces chunk jobs to soften enqueue bursts.
const chunkSmoothingDelay = 100 * time.Millisecond

// ContactRepo is the durable contact store consumed by the import handler.
type ContactRepo interface {
	FindByEmail(ctx context.Context, ownerID, email string) (*domain.Contact, error)
	Insert(ctx context.Context, c *domain.Contact) error
	Update(ctx context.Context, c *domain.Contact) error
}

// ImportRepo is the durable import accounting store.
type ImportRepo interface {
	CreateImport(ctx context.Context, imp *domain.Import) error
	GetImport(ctx context.Context, id string) (*domain.Import, error)
	UpdateImportStatus(ctx context.Context, id, status string, finishedAt *time.Time) error
	UpsertBatch(ctx context.Context, b *domain.ImportBatch) error
	CountBatches(ctx context.Context, importID string) (int, error)
}

// importChunk is the payload of one chunk job.
type importChunk struct {
	ImportID     string                `json:"import_id"`
	OwnerID      string                `json:"owner_id"`
	BatchIndex   int                   `json:"batch_index"`
	TotalBatches int                   `json:"total_batches"`
	TotalRecords int                   `json:"total_records"`
	Records      []domain.ImportRecord `json:"records"`
}

// runCounters hold the per-batch tallies of one run. Entries are keyed by
// batch index and overwritten whole, so a retried batch replaces its
// earlier contribution instead of adding to it and processed+failed can
// never exceed the run total.
type runCounters struct {
	mu      sync.Mutex
	batches map[int]batchTally
}

type batchTally struct {
	processed int
	failed    int
}

func newRunCounters() *runCounters {
	return &runCounters{batches: make(map[int]batchTally)}
}

// set records the batch's current tally, replacing any earlier attempt.
func (c *runCounters) set(batchIndex, processed, failed int) {
	c.mu.Lock()
	c.batches[batchIndex] = batchTally{processed: processed, failed: failed}
	c.mu.Unlock()
}

// totals sums every batch's latest tally.
func (c *runCounters) totals() (processed, failed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.batches {
		processed += t.processed
		failed += t.failed
	}
	return processed, failed
}

// Importer validates and upserts contacts in chunked background jobs.
type Importer struct {
	queue    *queue.Queue
	tracker  *progress.Tracker
	contacts ContactRepo
	imports  ImportRepo
	metrics  *metrics.Collector

	chunkSize int

	mu       sync.Mutex
	counters map[string]*runCounters
}

// NewImporter registers the chunk handler on the imports queue.
func NewImporter(q *queue.Queue, tracker *progress.Tracker, contacts ContactRepo, imports ImportRepo, collector *metrics.Collector) *Importer {
	im := &Importer{
		queue:     q,
		tracker:   tracker,
		contacts:  contacts,
		imports:   imports,
		metrics:   collector,
		chunkSize: DefaultChunkSize,
		counters:  make(map[string]*runCounters),
	}
	q.Process(im.handleChunk)
	return im
}

// Start validates the request, creates the run records and fans the
// records out into chunk jobs. It returns the import id immediately.
func (im *Importer) Start(ctx context.Context, ownerID string, records []domain.ImportRecord) (string, error) {
	if ownerID == "" {
		return "", domain.E(domain.KindValidation, "IMPORT_INVALID", "ownerId is required")
	}
	if len(records) == 0 {
		return "", domain.E(domain.KindValidation, "IMPORT_EMPTY", "no records supplied")
	}

	importID := uuid.New().String()
	totalBatches := (len(records) + im.chunkSize - 1) / im.chunkSize

	imp := &domain.Import{
		ID:           importID,
		OwnerID:      ownerID,
		TotalRecords: len(records),
		TotalBatches: totalBatches,
		Status:       "processing",
		CreatedAt:    time.Now(),
	}
	if err := im.imports.CreateImport(ctx, imp); err != nil {
		return "", domain.Wrap(domain.KindTransientDependency, "IMPORT_CREATE", "import record persist failed", err)
	}
	if _, err := im.tracker.Create(ctx, importID, progress.KindImport, ownerID, len(records), map[string]interface{}{
		"total_batches": totalBatches,
	}); err != nil {
		return "", err
	}

	items := make([]queue.BulkItem, 0, totalBatches)
	for i := 0; i < totalBatches; i++ {
		start := i * im.chunkSize
		end := start + im.chunkSize
		if end > len(records) {
			end = len(records)
		}
		opts := queue.Options{
			Priority: -i,
			Delay:    time.Duration(i) * chunkSmoothingDelay,
			GroupID:  importID,
		}
		items = append(items, queue.BulkItem{
			Name: fmt.Sprintf("import:%s:chunk:%d", importID, i),
			Payload: importChunk{
				ImportID:     importID,
				OwnerID:      ownerID,
				BatchIndex:   i,
				TotalBatches: totalBatches,
				TotalRecords: len(records),
				Records:      records[start:end],
			},
			Opts: &opts,
		})
	}
	if _, err := im.queue.AddBulk(items); err != nil {
		now := time.Now()
		_ = im.imports.UpdateImportStatus(ctx, importID, "failed", &now)
		return "", err
	}

	im.mu.Lock()
	im.counters[importID] = newRunCounters()
	im.mu.Unlock()

	logger.Info("import started",
		"import_id", importID, "owner_id", ownerID,
		"records", fmt.Sprintf("%d", len(records)), "batches", fmt.Sprintf("%d", totalBatches))
	return importID, nil
}

// Cancel removes the run's pending and active jobs and marks the import
// cancelled.
func (im *Importer) Cancel(ctx context.Context, importID string) error {
	imp, err := im.imports.GetImport(ctx, importID)
	if err != nil {
		return domain.Wrap(domain.KindTransientDependency, "IMPORT_LOOKUP", "import lookup failed", err)
	}
	if imp == nil {
		return domain.ErrNotFound
	}

	removed := im.queue.RemoveGroup(importID)
	now := time.Now()
	if err := im.imports.UpdateImportStatus(ctx, importID, "cancelled", &now); err != nil {
		return err
	}
	cancelled := progress.StatusCancelled
	if _, err := im.tracker.Update(ctx, importID, progress.Patch{Status: &cancelled}); err != nil {
		logger.Warn("cancel progress update failed", "import_id", importID, "error", err.Error())
	}
	im.dropCounters(importID)

	logger.Info("import cancelled", "import_id", importID, "jobs_removed", fmt.Sprintf("%d", removed))
	return nil
}

func (im *Importer) handleChunk(ctx context.Context, job *queue.Job, report queue.ProgressFunc) error {
	var chunk importChunk
	if err := json.Unmarshal(job.Payload, &chunk); err != nil {
		return domain.Wrap(domain.KindValidation, "IMPORT_PAYLOAD", "malformed chunk payload", err)
	}

	counters := im.countersFor(chunk.ImportID)
	var batchErrors []string
	batchProcessed := 0
	counters.set(chunk.BatchIndex, 0, 0)

	for i, rec := range chunk.Records {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := im.upsertRecord(ctx, chunk.OwnerID, rec); err != nil {
			if domain.CodeOf(err) == "EMAIL_INVALID" {
				batchErrors = append(batchErrors, "Invalid email format: "+rec.Email)
			} else {
				batchErrors = append(batchErrors, fmt.Sprintf("%s: %v", rec.Email, err))
			}
		} else {
			batchProcessed++
		}
		counters.set(chunk.BatchIndex, batchProcessed, len(batchErrors))

		if (i+1)%progressThrottle == 0 || i == len(chunk.Records)-1 {
			im.reportProgress(ctx, chunk, counters, report)
		}
	}

	if err := im.imports.UpsertBatch(ctx, &domain.ImportBatch{
		ImportID:   chunk.ImportID,
		BatchID:    job.ID,
		BatchIndex: chunk.BatchIndex,
		Processed:  batchProcessed,
		Failed:     len(batchErrors),
		Errors:     batchErrors,
		UpdatedAt:  time.Now(),
	}); err != nil {
		return domain.Wrap(domain.KindTransientDependency, "IMPORT_BATCH", "batch upsert failed", err)
	}

	done, err := im.imports.CountBatches(ctx, chunk.ImportID)
	if err != nil {
		return domain.Wrap(domain.KindTransientDependency, "IMPORT_COUNT", "batch count failed", err)
	}
	if done >= chunk.TotalBatches {
		im.finish(ctx, chunk, counters)
	}
	return nil
}

func (im *Importer) upsertRecord(ctx context.Context, ownerID string, rec domain.ImportRecord) error {
	email := strings.ToLower(strings.TrimSpace(rec.Email))
	if !validEmail(email) {
		return domain.E(domain.KindValidation, "EMAIL_INVALID", "invalid email format")
	}

	existing, err := im.contacts.FindByEmail(ctx, ownerID, email)
	if err != nil {
		return err
	}
	now := time.Now()
	if existing != nil {
		if rec.Name != "" {
			existing.Name = rec.Name
		}
		if rec.Phone != "" {
			existing.Phone = rec.Phone
		}
		if len(rec.Tags) > 0 {
			existing.Tags = rec.Tags
		}
		if len(rec.Metadata) > 0 {
			if existing.Metadata == nil {
				existing.Metadata = make(map[string]string, len(rec.Metadata))
			}
			for k, v := range rec.Metadata {
				existing.Metadata[k] = v
			}
		}
		existing.UpdatedAt = now
		return im.contacts.Update(ctx, existing)
	}

	return im.contacts.Insert(ctx, &domain.Contact{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Email:     email,
		Name:      rec.Name,
		Phone:     rec.Phone,
		Tags:      rec.Tags,
		Metadata:  rec.Metadata,
		Source:    "import",
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (im *Importer) reportProgress(ctx context.Context, chunk importChunk, counters *runCounters, report queue.ProgressFunc) {
	processed, failed := counters.totals()

	pct := 0
	if chunk.TotalRecords > 0 {
		pct = (processed + failed) * 100 / chunk.TotalRecords
	}
	msg := fmt.Sprintf("processed %d/%d", processed+failed, chunk.TotalRecords)
	report(pct, msg, map[string]interface{}{
		"current_batch": chunk.BatchIndex,
		"total_batches": chunk.TotalBatches,
	})

	processing := progress.StatusProcessing
	if _, err := im.tracker.Update(ctx, chunk.ImportID, progress.Patch{
		Status:    &processing,
		Processed: &processed,
		Failed:    &failed,
		Message:   &msg,
	}); err != nil {
		logger.Debug("import progress update failed", "import_id", chunk.ImportID, "error", err.Error())
	}
}

func (im *Importer) finish(ctx context.Context, chunk importChunk, counters *runCounters) {
	now := time.Now()
	if err := im.imports.UpdateImportStatus(ctx, chunk.ImportID, "completed", &now); err != nil {
		logger.Warn("import completion persist failed", "import_id", chunk.ImportID, "error", err.Error())
	}

	processed, failed := counters.totals()
	completed := progress.StatusCompleted
	msg := fmt.Sprintf("import finished, %d ok, %d failed", processed, failed)
	if _, err := im.tracker.Update(ctx, chunk.ImportID, progress.Patch{
		Status:    &completed,
		Processed: &processed,
		Failed:    &failed,
		Message:   &msg,
	}); err != nil {
		logger.Warn("import progress completion failed", "import_id", chunk.ImportID, "error", err.Error())
	}

	im.metrics.Record(metrics.UserActive, 1, map[string]string{"owner_id": chunk.OwnerID})
	im.dropCounters(chunk.ImportID)
	logger.Info("import completed",
		"import_id", chunk.ImportID, "processed", fmt.Sprintf("%d", processed), "failed", fmt.Sprintf("%d", failed))
}

func (im *Importer) countersFor(importID string) *runCounters {
	im.mu.Lock()
	defer im.mu.Unlock()
	c, ok := im.counters[importID]
	if !ok {
		c = newRunCounters()
		im.counters[importID] = c
	}
	return c
}

func (im *Importer) dropCounters(importID string) {
	im.mu.Lock()
	delete(im.counters, importID)
	im.mu.Unlock()
}

// validEmail is a syntax gate, not a deliverability check.
func validEmail(email string) bool {
	if email == "" || len(email) > 254 || strings.ContainsAny(email, " \t\n") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}
