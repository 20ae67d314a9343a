// Package cleanup removes expired report artifacts from local and
// remote storage and soft-terminates the owning executions.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/reportd/reportd/pkg/models"
	"github.com/reportd/reportd/pkg/persistence"
	"github.com/reportd/reportd/pkg/storage"
)

// Stats summarizes one sweep run.
type Stats struct {
	Scanned  int
	Pruned   int
	NotFound int
	Orphaned int
	Failed   int
}

// BackendFactory builds a storage backend for a remote-transfer target.
type BackendFactory func(ctx context.Context, server *models.FTPServer) (storage.Backend, error)

// Sweeper runs the retention and expiry purge jobs.
type Sweeper struct {
	persistence    persistence.Persistence
	source         storage.Backend
	backendFactory BackendFactory
	logger         *slog.Logger
}

func NewSweeper(logger *slog.Logger, persist persistence.Persistence, source storage.Backend) *Sweeper {
	return &Sweeper{
		persistence: persist,
		source:      source,
		backendFactory: func(ctx context.Context, server *models.FTPServer) (storage.Backend, error) {
			return storage.NewFTPBackend(ctx, server)
		},
		logger: logger.With("module", "cleanup"),
	}
}

// WithBackendFactory overrides how remote backends are constructed.
func (s *Sweeper) WithBackendFactory(factory BackendFactory) *Sweeper {
	s.backendFactory = factory

	return s
}

// RetentionPurge prunes executions older than their report's retention
// window: local and remote copies are removed, the artifact reference is
// cleared and the execution moves to pruned.
func (s *Sweeper) RetentionPurge(ctx context.Context, now time.Time) (*Stats, error) {
	reports, err := s.persistence.ReportsWithRetention(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load reports with retention: %w", err)
	}

	stats := &Stats{}

	for _, report := range reports {
		cutoff := now.AddDate(0, 0, -report.RetentionDays)

		executions, err := s.persistence.ExecutionsOlderThan(ctx, report.ID, cutoff)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to load retention candidates",
				"report_id", report.ID,
				"error", err,
			)

			stats.Failed++

			continue
		}

		for _, execution := range executions {
			stats.Scanned++
			s.prune(ctx, execution, stats)
		}
	}

	return stats, nil
}

// DownloadExpiryPurge prunes completed executions whose download window
// has lapsed. The window restarts on every download: last_downloaded_at
// plus retention wins over created_at plus retention.
func (s *Sweeper) DownloadExpiryPurge(ctx context.Context, now time.Time) (*Stats, error) {
	executions, err := s.persistence.CompletedWithArtifacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load completed executions: %w", err)
	}

	stats := &Stats{}

	for _, execution := range executions {
		report, err := s.persistence.ReportByID(ctx, execution.ReportID)
		if err != nil || report.RetentionDays <= 0 {
			continue
		}

		if execution.ExpiryAt(report.RetentionDays).After(now) {
			continue
		}

		stats.Scanned++
		s.prune(ctx, execution, stats)
	}

	return stats, nil
}

// prune removes local and remote copies independently, then clears the
// artifact reference. A missing file counts as already deleted.
func (s *Sweeper) prune(ctx context.Context, execution *models.Execution, stats *Stats) {
	localOK := s.deleteLocal(ctx, execution, stats)
	remoteOK := s.deleteRemote(ctx, execution, time.Now().UTC(), stats)

	if !localOK || !remoteOK {
		stats.Failed++

		return
	}

	execution.OutputPath = nil
	execution.Status = models.ExecutionStatusPruned

	err := s.persistence.UpdateExecution(ctx, execution)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist pruned execution",
			"execution_id", execution.ID,
			"error", err,
		)

		stats.Failed++

		return
	}

	stats.Pruned++
}

func (s *Sweeper) deleteLocal(ctx context.Context, execution *models.Execution, stats *Stats) bool {
	if !execution.HasArtifact() {
		return true
	}

	err := s.source.Delete(ctx, *execution.OutputPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			stats.NotFound++

			return true
		}

		s.logger.ErrorContext(ctx, "Failed to delete local artifact",
			"execution_id", execution.ID,
			"path", *execution.OutputPath,
			"error", err,
		)

		return false
	}

	return true
}

func (s *Sweeper) deleteRemote(ctx context.Context, execution *models.Execution, now time.Time, stats *Stats) bool {
	if execution.FTPServerID == "" || execution.FTPPath == "" || execution.FTPDeletedAt != nil {
		return true
	}

	server, err := s.persistence.FTPServerByID(ctx, execution.FTPServerID)
	if err != nil {
		if errors.Is(err, persistence.ErrFTPServerNotFound) {
			// The linked server no longer exists; record and move on.
			execution.FTPDeletedAt = &now
			execution.FTPDeleteStatus = models.RemoteDeleteOrphaned
			stats.Orphaned++

			return true
		}

		s.logger.ErrorContext(ctx, "Failed to load ftp server",
			"execution_id", execution.ID,
			"server_id", execution.FTPServerID,
			"error", err,
		)

		execution.FTPDeleteStatus = models.RemoteDeleteFailed

		return false
	}

	backend, err := s.backendFactory(ctx, server)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to connect to ftp server",
			"execution_id", execution.ID,
			"server", server.Name,
			"error", err,
		)

		execution.FTPDeleteStatus = models.RemoteDeleteFailed

		return false
	}

	defer func() {
		_ = backend.Close()
	}()

	err = backend.Delete(ctx, execution.FTPPath)

	switch {
	case err == nil:
		execution.FTPDeleteStatus = models.RemoteDeleteSuccess
	case errors.Is(err, storage.ErrNotExist):
		execution.FTPDeleteStatus = models.RemoteDeleteNotFound
		stats.NotFound++
	default:
		s.logger.ErrorContext(ctx, "Failed to delete remote artifact",
			"execution_id", execution.ID,
			"server", server.Name,
			"path", execution.FTPPath,
			"error", err,
		)

		execution.FTPDeleteStatus = models.RemoteDeleteFailed

		return false
	}

	execution.FTPDeletedAt = &now

	s.removeEmptyParent(ctx, backend, execution.FTPPath)

	return true
}

// RemoteExpiryPurge sweeps executions whose artifact expiry has passed
// and removes only the remote copy, leaving the execution status alone.
// The compute engine owns the local copy in this flow.
func (s *Sweeper) RemoteExpiryPurge(ctx context.Context, now time.Time) (*Stats, error) {
	executions, err := s.persistence.ExpiredRemoteArtifacts(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load expired artifacts: %w", err)
	}

	stats := &Stats{}

	for _, execution := range executions {
		stats.Scanned++

		ok := s.deleteRemote(ctx, execution, now, stats)
		if !ok {
			stats.Failed++
		}

		// DeletedAt marks the sweep outcome so the row leaves the
		// candidate set; failed deletes stay eligible for the next run.
		if execution.FTPDeleteStatus != models.RemoteDeleteFailed {
			execution.DeletedAt = &now
			stats.Pruned++
		}

		err := s.persistence.UpdateExecution(ctx, execution)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to persist swept execution",
				"execution_id", execution.ID,
				"error", err,
			)
		}
	}

	return stats, nil
}

// removeEmptyParent deletes the artifact's parent directory when the
// delete left it empty. Best effort only.
func (s *Sweeper) removeEmptyParent(ctx context.Context, backend storage.Backend, remotePath string) {
	parent := path.Dir(remotePath)
	if parent == "." || parent == "/" || parent == "" {
		return
	}

	entries, err := backend.List(ctx, parent)
	if err != nil || len(entries) > 0 {
		return
	}

	_ = backend.DeleteDirectory(ctx, parent)
}
