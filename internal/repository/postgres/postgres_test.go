package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftecnologia/mailgenius/internal/apikey"
	"github.com/nftecnologia/mailgenius/internal/domain"
	"github.com/nftecnologia/mailgenius/internal/progress"
)

func TestContactFindByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT id, owner_id, email`).
		WithArgs("tenant-a", "a@x.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_id", "email", "name", "phone", "tags", "metadata",
			"source", "status", "created_at", "updated_at",
		}).AddRow("c-1", "tenant-a", "a@x.com", "Ana", "", pq.Array([]string{"vip"}),
			[]byte(`{"plan":"pro"}`), "import", "active", now, now))

	repo := NewContactRepo(db)
	c, err := repo.FindByEmail(context.Background(), "tenant-a", "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Ana", c.Name)
	assert.Equal(t, []string{"vip"}, c.Tags)
	assert.Equal(t, "pro", c.Metadata["plan"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContactFindByEmailMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, owner_id, email`).
		WithArgs("tenant-a", "nobody@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := NewContactRepo(db)
	c, err := repo.FindByEmail(context.Background(), "tenant-a", "nobody@x.com")
	require.NoError(t, err)
	assert.Nil(t, c)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContactInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO contacts`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewContactRepo(db)
	require.NoError(t, repo.Insert(context.Background(), &domain.Contact{
		ID: "c-2", OwnerID: "tenant-a", Email: "b@x.com", Source: "import", Status: "active",
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContactUpdateMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE contacts`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewContactRepo(db)
	err = repo.Update(context.Background(), &domain.Contact{OwnerID: "tenant-a", Email: "gone@x.com"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportBatchUpsertAndCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO import_batches`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM import_batches`).
		WithArgs("imp-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	repo := NewImportRepo(db)
	require.NoError(t, repo.UpsertBatch(context.Background(), &domain.ImportBatch{
		ImportID: "imp-1", BatchID: "job-1", BatchIndex: 0, Processed: 998, Failed: 2,
		Errors: []string{"x@: invalid email syntax"},
	}))

	n, err := repo.CountBatches(context.Background(), "imp-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSendGetAndDelivery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT id, campaign_id, owner_id`).
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "campaign_id", "owner_id", "total_recipients", "total_batches",
			"status", "created_at", "finished_at",
		}).AddRow("s-1", "camp-1", "tenant-a", 250, 3, "processing", now, nil))
	mock.ExpectExec(`INSERT INTO deliveries`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewSendRepo(db)
	s, err := repo.GetSend(context.Background(), "s-1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 3, s.TotalBatches)
	assert.Nil(t, s.FinishedAt)

	require.NoError(t, repo.InsertDelivery(context.Background(), &domain.Delivery{
		ID: "d-1", SendID: "s-1", Email: "a@x.com", Status: "sent", MessageID: "m-1",
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressSaveAndGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectExec(`INSERT INTO progress_records`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, kind, owner_id`).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "kind", "owner_id", "status", "progress", "total", "processed",
			"failed", "message", "started_at", "ended_at", "metadata", "errors",
		}).AddRow("p-1", "import", "tenant-a", "processing", 40, 100, 38, 2,
			"working", now, nil, []byte(`{"file":"leads.csv"}`), pq.Array([]string{"row 7 bad"})))

	repo := NewProgressRepo(db)
	require.NoError(t, repo.Save(context.Background(), &progress.Record{
		ID: "p-1", Kind: progress.KindImport, OwnerID: "tenant-a",
		Status: progress.StatusProcessing, Total: 100, StartedAt: now,
	}))

	rec, err := repo.Get(context.Background(), "p-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 40, rec.Progress)
	assert.Equal(t, "leads.csv", rec.Metadata["file"])
	assert.Equal(t, []string{"row 7 bad"}, rec.Errors)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyGetByHashMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, owner_id, name, key_hash`).
		WithArgs("deadbeef").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := NewAPIKeyRepo(db)
	k, err := repo.GetByHash(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, k)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyInsertAndAudit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO api_keys`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO api_key_audits`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewAPIKeyRepo(db)
	require.NoError(t, repo.Insert(context.Background(), &apikey.APIKey{
		ID: "k-1", OwnerID: "tenant-a", Name: "ci", KeyHash: "hash",
		Status: apikey.StatusActive, ExpiresAt: time.Now().AddDate(0, 0, 90),
	}))
	require.NoError(t, repo.AppendAudit(context.Background(), &apikey.AuditLog{
		ID: "a-1", KeyID: "k-1", Action: "created",
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}
