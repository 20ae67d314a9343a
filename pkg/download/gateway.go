// Package download gates artifact access behind single-use one-time
// codes and streams validated downloads.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/reportd/reportd/pkg/models"
	"github.com/reportd/reportd/pkg/persistence"
	"github.com/reportd/reportd/pkg/storage"
)

var (
	// ErrOTPInvalid means the submitted code does not match.
	ErrOTPInvalid = errors.New("one-time code is invalid")

	// ErrOTPNeedsReissue means the code was already used or expired and a
	// fresh one must be requested.
	ErrOTPNeedsReissue = errors.New("one-time code must be reissued")

	// ErrOTPRequired means the artifact is gated and no validated,
	// unused code exists.
	ErrOTPRequired = errors.New("one-time code validation required")

	// ErrRateLimited throttles reissue requests per origin.
	ErrRateLimited = errors.New("too many reissue requests")

	// ErrNoArtifact means the execution has nothing to download.
	ErrNoArtifact = errors.New("execution has no artifact")
)

// LinkMailer re-sends the download email after a reissue. Implemented by
// the delivery package; injected to keep this package mail-agnostic.
type LinkMailer interface {
	SendDownloadLink(ctx context.Context, execution *models.Execution, otp string) error
}

// FileInfo describes a streamed artifact.
type FileInfo struct {
	Name        string
	ContentType string
	Size        int64
}

// Gateway manages code validation and artifact streaming.
type Gateway struct {
	persistence persistence.Persistence
	source      storage.Backend
	mailer      LinkMailer
	logger      *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewGateway(logger *slog.Logger, persist persistence.Persistence, source storage.Backend, mailer LinkMailer) *Gateway {
	return &Gateway{
		persistence: persist,
		source:      source,
		mailer:      mailer,
		logger:      logger.With("module", "download"),
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Validate checks a submitted code against an execution. Checks run in a
// fixed order: ungated artifacts pass, used or expired codes demand a
// reissue, mismatches are invalid, a match marks the code validated.
func (g *Gateway) Validate(ctx context.Context, executionID, otp string) error {
	execution, err := g.persistence.ExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.OTPHash == "" {
		return nil
	}

	if execution.OTPUsedAt != nil {
		return ErrOTPNeedsReissue
	}

	if execution.OTPExpiresAt != nil && execution.OTPExpiresAt.Before(time.Now().UTC()) {
		return ErrOTPNeedsReissue
	}

	if !CheckOTP(execution.OTPHash, otp) {
		return ErrOTPInvalid
	}

	execution.OTPValidated = true

	err = g.persistence.UpdateExecution(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to persist validation: %w", err)
	}

	return nil
}

// Reissue replaces the execution's code with a fresh one, extends both
// the code and artifact expiry by 24 hours and re-sends the download
// email. Origin-keyed rate limiting allows one reissue per minute.
func (g *Gateway) Reissue(ctx context.Context, executionID, origin string) error {
	if !g.limiter(origin).Allow() {
		return ErrRateLimited
	}

	execution, err := g.persistence.ExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}

	if !execution.HasArtifact() {
		return ErrNoArtifact
	}

	otp, err := GenerateOTP()
	if err != nil {
		return err
	}

	hash, err := HashOTP(otp)
	if err != nil {
		return err
	}

	expiry := time.Now().UTC().Add(24 * time.Hour)
	execution.OTPHash = hash
	execution.OTPExpiresAt = &expiry
	execution.OTPValidated = false
	execution.OTPUsedAt = nil
	execution.ExpiresAt = &expiry

	err = g.persistence.UpdateExecution(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to persist reissued code: %w", err)
	}

	if g.mailer != nil {
		err = g.mailer.SendDownloadLink(ctx, execution, otp)
		if err != nil {
			g.logger.WarnContext(ctx, "Failed to re-send download link",
				"execution_id", execution.ID,
				"error", err,
			)
		}
	}

	g.logger.InfoContext(ctx, "Reissued one-time code", "execution_id", execution.ID)

	return nil
}

// Stream opens the artifact for a validated download. The code is
// consumed before any bytes flow: used-at set, validation cleared and
// the download counters bumped.
func (g *Gateway) Stream(ctx context.Context, executionID string) (io.ReadCloser, *FileInfo, error) {
	execution, err := g.persistence.ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}

	if !execution.HasArtifact() {
		return nil, nil, ErrNoArtifact
	}

	gated := execution.OTPHash != ""
	if gated && (!execution.OTPValidated || execution.OTPUsedAt != nil) {
		return nil, nil, ErrOTPRequired
	}

	size, err := g.source.Size(ctx, *execution.OutputPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, nil, ErrNoArtifact
		}

		return nil, nil, err
	}

	now := time.Now().UTC()

	if gated {
		// The consume is a conditional write so a second concurrent
		// request for the same link loses the race and gets refused.
		err = g.persistence.ConsumeOTP(ctx, execution.ID, now)
		if err != nil {
			if errors.Is(err, persistence.ErrOTPConsumed) {
				return nil, nil, ErrOTPRequired
			}

			return nil, nil, fmt.Errorf("failed to consume one-time code: %w", err)
		}

		execution.OTPUsedAt = &now
		execution.OTPValidated = false
	}

	execution.DownloadCount++
	execution.LastDownloadedAt = &now

	err = g.persistence.UpdateExecution(ctx, execution)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to persist download state: %w", err)
	}

	reader, err := g.source.Open(ctx, *execution.OutputPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, nil, ErrNoArtifact
		}

		return nil, nil, err
	}

	name := path.Base(*execution.OutputPath)

	return reader, &FileInfo{
		Name:        name,
		ContentType: ContentTypeFor(name),
		Size:        size,
	}, nil
}

func (g *Gateway) limiter(origin string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	limiter, ok := g.limiters[origin]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute), 1)
		g.limiters[origin] = limiter
	}

	return limiter
}

// ContentTypeFor maps an artifact filename onto its download MIME type.
func ContentTypeFor(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
