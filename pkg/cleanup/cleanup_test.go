package cleanup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportd/reportd/pkg/models"
	"github.com/reportd/reportd/pkg/persistence/file"
	"github.com/reportd/reportd/pkg/storage"
)

type fakeRemote struct {
	files     map[string][]byte
	deleteErr error

	deletedDirs []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{files: map[string][]byte{}}
}

func (b *fakeRemote) Upload(_ context.Context, path string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	b.files[path] = data

	return nil
}

func (b *fakeRemote) Open(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := b.files[path]
	if !ok {
		return nil, storage.ErrNotExist
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeRemote) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.files[path]

	return ok, nil
}

func (b *fakeRemote) Size(_ context.Context, path string) (int64, error) {
	data, ok := b.files[path]
	if !ok {
		return 0, storage.ErrNotExist
	}

	return int64(len(data)), nil
}

func (b *fakeRemote) Delete(_ context.Context, path string) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}

	if _, ok := b.files[path]; !ok {
		return storage.ErrNotExist
	}

	delete(b.files, path)

	return nil
}

func (b *fakeRemote) List(_ context.Context, dir string) ([]string, error) {
	names := make([]string, 0)

	for path := range b.files {
		if strings.HasPrefix(path, dir+"/") {
			names = append(names, strings.TrimPrefix(path, dir+"/"))
		}
	}

	return names, nil
}

func (b *fakeRemote) MakeDirectory(_ context.Context, _ string) error {
	return nil
}

func (b *fakeRemote) DeleteDirectory(_ context.Context, dir string) error {
	b.deletedDirs = append(b.deletedDirs, dir)

	return nil
}

func (b *fakeRemote) Close() error {
	return nil
}

type sweeperFixture struct {
	sweeper *Sweeper
	persist *file.Persistence
	source  *storage.LocalBackend
	remote  *fakeRemote
}

func newSweeperFixture(t *testing.T) *sweeperFixture {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	source := storage.NewLocalBackend(t.TempDir())
	remote := newFakeRemote()

	sweeper := NewSweeper(slog.Default(), persist, source).
		WithBackendFactory(func(_ context.Context, _ *models.FTPServer) (storage.Backend, error) {
			return remote, nil
		})

	return &sweeperFixture{sweeper: sweeper, persist: persist, source: source, remote: remote}
}

func (f *sweeperFixture) seedRetentionReport(t *testing.T, days int) {
	t.Helper()

	require.NoError(t, f.persist.SaveReport(context.Background(), &models.Report{
		ID:            "report-1",
		Name:          "Daily Revenue",
		RetentionDays: days,
		IsActive:      true,
	}))
}

func TestRetentionPurge_PrunesExpiredExecutions(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t)
	f.seedRetentionReport(t, 7)

	now := time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)
	artifact := "old.csv"
	require.NoError(t, f.source.Upload(ctx, artifact, strings.NewReader("a,b\n")))

	require.NoError(t, f.persist.CreateExecution(ctx, &models.Execution{
		ID:         "exec-old",
		ReportID:   "report-1",
		Status:     models.ExecutionStatusCompleted,
		OutputPath: &artifact,
		CreatedAt:  now.AddDate(0, 0, -10),
	}))

	fresh := "fresh.csv"
	require.NoError(t, f.source.Upload(ctx, fresh, strings.NewReader("a,b\n")))
	require.NoError(t, f.persist.CreateExecution(ctx, &models.Execution{
		ID:         "exec-fresh",
		ReportID:   "report-1",
		Status:     models.ExecutionStatusCompleted,
		OutputPath: &fresh,
		CreatedAt:  now.AddDate(0, 0, -2),
	}))

	stats, err := f.sweeper.RetentionPurge(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 1, stats.Pruned)

	pruned, err := f.persist.ExecutionByID(ctx, "exec-old")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPruned, pruned.Status)
	assert.Nil(t, pruned.OutputPath)

	exists, err := f.source.Exists(ctx, artifact)
	require.NoError(t, err)
	assert.False(t, exists)

	kept, err := f.persist.ExecutionByID(ctx, "exec-fresh")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, kept.Status)
}

func TestRetentionPurge_MissingLocalArtifactIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t)
	f.seedRetentionReport(t, 7)

	now := time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)
	artifact := "vanished.csv"

	require.NoError(t, f.persist.CreateExecution(ctx, &models.Execution{
		ID:         "exec-old",
		ReportID:   "report-1",
		Status:     models.ExecutionStatusCompleted,
		OutputPath: &artifact,
		CreatedAt:  now.AddDate(0, 0, -10),
	}))

	stats, err := f.sweeper.RetentionPurge(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NotFound)
	assert.Equal(t, 1, stats.Pruned)

	pruned, err := f.persist.ExecutionByID(ctx, "exec-old")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPruned, pruned.Status)
}

func TestRetentionPurge_RemoteCopyDeletedWithEmptyFolder(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t)
	f.seedRetentionReport(t, 7)

	require.NoError(t, f.persist.SaveFTPServer(ctx, &models.FTPServer{
		ID: "ftp-1", Name: "Backup", Host: "ftp.example.com",
	}))

	now := time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)
	artifact := "old.csv"
	require.NoError(t, f.source.Upload(ctx, artifact, strings.NewReader("a,b\n")))
	f.remote.files["2026-03-05-Daily_Revenue/old.csv"] = []byte("a,b\n")

	require.NoError(t, f.persist.CreateExecution(ctx, &models.Execution{
		ID:          "exec-old",
		ReportID:    "report-1",
		Status:      models.ExecutionStatusCompleted,
		OutputPath:  &artifact,
		FTPServerID: "ftp-1",
		FTPPath:     "2026-03-05-Daily_Revenue/old.csv",
		CreatedAt:   now.AddDate(0, 0, -10),
	}))

	stats, err := f.sweeper.RetentionPurge(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pruned)

	pruned, err := f.persist.ExecutionByID(ctx, "exec-old")
	require.NoError(t, err)
	assert.Equal(t, models.RemoteDeleteSuccess, pruned.FTPDeleteStatus)
	assert.NotNil(t, pruned.FTPDeletedAt)

	assert.Empty(t, f.remote.files)
	assert.Contains(t, f.remote.deletedDirs, "2026-03-05-Daily_Revenue")
}

func TestRetentionPurge_OrphanedServerRecorded(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t)
	f.seedRetentionReport(t, 7)

	now := time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)
	artifact := "old.csv"
	require.NoError(t, f.source.Upload(ctx, artifact, strings.NewReader("a,b\n")))

	require.NoError(t, f.persist.CreateExecution(ctx, &models.Execution{
		ID:          "exec-old",
		ReportID:    "report-1",
		Status:      models.ExecutionStatusCompleted,
		OutputPath:  &artifact,
		FTPServerID: "ftp-gone",
		FTPPath:     "somewhere/old.csv",
		CreatedAt:   now.AddDate(0, 0, -10),
	}))

	stats, err := f.sweeper.RetentionPurge(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Orphaned)
	assert.Equal(t, 1, stats.Pruned)

	pruned, err := f.persist.ExecutionByID(ctx, "exec-old")
	require.NoError(t, err)
	assert.Equal(t, models.RemoteDeleteOrphaned, pruned.FTPDeleteStatus)
	assert.NotNil(t, pruned.FTPDeletedAt)
}

func TestRemoteExpiryPurge_SetsDeletedAtExceptOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t)

	require.NoError(t, f.persist.SaveFTPServer(ctx, &models.FTPServer{
		ID: "ftp-1", Name: "Backup", Host: "ftp.example.com",
	}))

	now := time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)
	artifact := "engine/out.csv"
	f.remote.files["uploads/out.csv"] = []byte("a,b\n")

	require.NoError(t, f.persist.CreateExecution(ctx, &models.Execution{
		ID:          "exec-1",
		ReportID:    "report-1",
		Status:      models.ExecutionStatusCompleted,
		OutputPath:  &artifact,
		FTPServerID: "ftp-1",
		FTPPath:     "uploads/out.csv",
		ExpiresAt:   &expired,
	}))

	stats, err := f.sweeper.RemoteExpiryPurge(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pruned)

	stored, err := f.persist.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.RemoteDeleteSuccess, stored.FTPDeleteStatus)
	assert.NotNil(t, stored.DeletedAt)
	// The execution status is untouched; only the remote copy went away.
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
}

func TestRemoteExpiryPurge_FailedDeleteStaysEligible(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t)

	require.NoError(t, f.persist.SaveFTPServer(ctx, &models.FTPServer{
		ID: "ftp-1", Name: "Backup", Host: "ftp.example.com",
	}))
	f.remote.deleteErr = errors.New("connection reset")
	f.remote.files["uploads/out.csv"] = []byte("a,b\n")

	now := time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)
	artifact := "engine/out.csv"

	require.NoError(t, f.persist.CreateExecution(ctx, &models.Execution{
		ID:          "exec-1",
		ReportID:    "report-1",
		Status:      models.ExecutionStatusCompleted,
		OutputPath:  &artifact,
		FTPServerID: "ftp-1",
		FTPPath:     "uploads/out.csv",
		ExpiresAt:   &expired,
	}))

	stats, err := f.sweeper.RemoteExpiryPurge(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Pruned)

	stored, err := f.persist.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.RemoteDeleteFailed, stored.FTPDeleteStatus)
	assert.Nil(t, stored.DeletedAt, "failed deletes stay in the next sweep's candidate set")

	// The row is still a candidate on the next run.
	candidates, err := f.persist.ExpiredRemoteArtifacts(ctx, now)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestDownloadExpiryPurge_LastDownloadExtendsWindow(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t)
	f.seedRetentionReport(t, 7)

	now := time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)

	expiredArtifact := "expired.csv"
	require.NoError(t, f.source.Upload(ctx, expiredArtifact, strings.NewReader("a\n")))
	require.NoError(t, f.persist.CreateExecution(ctx, &models.Execution{
		ID:         "exec-expired",
		ReportID:   "report-1",
		Status:     models.ExecutionStatusCompleted,
		OutputPath: &expiredArtifact,
		CreatedAt:  now.AddDate(0, 0, -10),
	}))

	// Same age, but downloaded recently: the window restarted.
	downloadedArtifact := "downloaded.csv"
	downloaded := now.AddDate(0, 0, -2)
	require.NoError(t, f.source.Upload(ctx, downloadedArtifact, strings.NewReader("a\n")))
	require.NoError(t, f.persist.CreateExecution(ctx, &models.Execution{
		ID:               "exec-downloaded",
		ReportID:         "report-1",
		Status:           models.ExecutionStatusCompleted,
		OutputPath:       &downloadedArtifact,
		CreatedAt:        now.AddDate(0, 0, -10),
		LastDownloadedAt: &downloaded,
	}))

	stats, err := f.sweeper.DownloadExpiryPurge(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pruned)

	expired, err := f.persist.ExecutionByID(ctx, "exec-expired")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPruned, expired.Status)

	kept, err := f.persist.ExecutionByID(ctx, "exec-downloaded")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, kept.Status)
}
