package download

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportd/reportd/pkg/models"
	"github.com/reportd/reportd/pkg/persistence/file"
	"github.com/reportd/reportd/pkg/storage"
)

type capturingMailer struct {
	executions []*models.Execution
	codes      []string
}

func (m *capturingMailer) SendDownloadLink(_ context.Context, execution *models.Execution, otp string) error {
	m.executions = append(m.executions, execution)
	m.codes = append(m.codes, otp)

	return nil
}

type gatewayFixture struct {
	gateway *Gateway
	persist *file.Persistence
	source  *storage.LocalBackend
	mailer  *capturingMailer
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	source := storage.NewLocalBackend(t.TempDir())
	mailer := &capturingMailer{}

	return &gatewayFixture{
		gateway: NewGateway(slog.Default(), persist, source, mailer),
		persist: persist,
		source:  source,
		mailer:  mailer,
	}
}

func (f *gatewayFixture) seedExecution(t *testing.T, mutate func(*models.Execution)) *models.Execution {
	t.Helper()
	ctx := context.Background()

	artifact := "out.csv"
	require.NoError(t, f.source.Upload(ctx, artifact, strings.NewReader("a,b\n1,2\n")))

	execution := &models.Execution{
		ID:         "exec-1",
		ReportID:   "report-1",
		Status:     models.ExecutionStatusCompleted,
		OutputPath: &artifact,
	}

	if mutate != nil {
		mutate(execution)
	}

	require.NoError(t, f.persist.CreateExecution(ctx, execution))

	return execution
}

func gatedExecution(t *testing.T, otp string) func(*models.Execution) {
	t.Helper()

	hash, err := HashOTP(otp)
	require.NoError(t, err)

	expiry := time.Now().UTC().Add(time.Hour)

	return func(execution *models.Execution) {
		execution.OTPHash = hash
		execution.OTPExpiresAt = &expiry
	}
}

func TestValidate_UngatedArtifactPasses(t *testing.T) {
	f := newGatewayFixture(t)
	f.seedExecution(t, nil)

	require.NoError(t, f.gateway.Validate(context.Background(), "exec-1", "anything"))
}

func TestValidate_UsedCodeNeedsReissue(t *testing.T) {
	f := newGatewayFixture(t)
	used := time.Now().UTC()
	f.seedExecution(t, func(e *models.Execution) {
		gatedExecution(t, "123456")(e)
		e.OTPUsedAt = &used
	})

	err := f.gateway.Validate(context.Background(), "exec-1", "123456")
	assert.ErrorIs(t, err, ErrOTPNeedsReissue)
}

func TestValidate_ExpiredCodeNeedsReissue(t *testing.T) {
	f := newGatewayFixture(t)
	expired := time.Now().UTC().Add(-time.Minute)
	f.seedExecution(t, func(e *models.Execution) {
		gatedExecution(t, "123456")(e)
		e.OTPExpiresAt = &expired
	})

	err := f.gateway.Validate(context.Background(), "exec-1", "123456")
	assert.ErrorIs(t, err, ErrOTPNeedsReissue)
}

func TestValidate_MismatchIsInvalid(t *testing.T) {
	f := newGatewayFixture(t)
	f.seedExecution(t, gatedExecution(t, "123456"))

	err := f.gateway.Validate(context.Background(), "exec-1", "000000")
	assert.ErrorIs(t, err, ErrOTPInvalid)
}

func TestValidate_MatchMarksValidated(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t)
	f.seedExecution(t, gatedExecution(t, "123456"))

	require.NoError(t, f.gateway.Validate(ctx, "exec-1", "123456"))

	stored, err := f.persist.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.True(t, stored.OTPValidated)
}

func TestStream_UngatedDownload(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t)
	f.seedExecution(t, nil)

	reader, info, err := f.gateway.Stream(ctx, "exec-1")
	require.NoError(t, err)

	defer func() {
		_ = reader.Close()
	}()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
	assert.Equal(t, "out.csv", info.Name)
	assert.Equal(t, "text/csv", info.ContentType)
	assert.Equal(t, int64(len(data)), info.Size)

	stored, err := f.persist.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.DownloadCount)
	assert.NotNil(t, stored.LastDownloadedAt)
}

func TestStream_GatedDownloadConsumesCode(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t)
	f.seedExecution(t, gatedExecution(t, "123456"))

	// Unvalidated access is refused.
	_, _, err := f.gateway.Stream(ctx, "exec-1")
	assert.ErrorIs(t, err, ErrOTPRequired)

	require.NoError(t, f.gateway.Validate(ctx, "exec-1", "123456"))

	reader, _, err := f.gateway.Stream(ctx, "exec-1")
	require.NoError(t, err)
	require.NoError(t, reader.Close())

	stored, err := f.persist.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.NotNil(t, stored.OTPUsedAt)
	assert.False(t, stored.OTPValidated)

	// The code is single use.
	_, _, err = f.gateway.Stream(ctx, "exec-1")
	assert.ErrorIs(t, err, ErrOTPRequired)
}

func TestStream_ConcurrentDownloadsConsumeCodeOnce(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t)
	f.seedExecution(t, gatedExecution(t, "123456"))

	require.NoError(t, f.gateway.Validate(ctx, "exec-1", "123456"))

	var wg sync.WaitGroup

	results := make(chan error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			reader, _, err := f.gateway.Stream(ctx, "exec-1")
			if err == nil {
				_ = reader.Close()
			}

			results <- err
		}()
	}

	wg.Wait()
	close(results)

	var succeeded, refused int

	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrOTPRequired):
			refused++
		default:
			t.Fatalf("unexpected stream error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded, "exactly one request may stream the artifact")
	assert.Equal(t, 1, refused, "the losing request is refused")
}

func TestStream_MissingArtifact(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t)
	f.seedExecution(t, func(e *models.Execution) {
		e.OutputPath = nil
	})

	_, _, err := f.gateway.Stream(ctx, "exec-1")
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestReissue_ReplacesCodeAndExtendsExpiry(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t)

	used := time.Now().UTC().Add(-time.Hour)
	execution := f.seedExecution(t, func(e *models.Execution) {
		gatedExecution(t, "123456")(e)
		e.OTPUsedAt = &used
		e.OTPValidated = false
	})
	oldHash := execution.OTPHash

	require.NoError(t, f.gateway.Reissue(ctx, "exec-1", "10.0.0.1"))

	stored, err := f.persist.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, stored.OTPHash)
	assert.False(t, stored.OTPValidated)
	assert.Nil(t, stored.OTPUsedAt)
	require.NotNil(t, stored.OTPExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), *stored.OTPExpiresAt, time.Minute)
	require.NotNil(t, stored.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), *stored.ExpiresAt, time.Minute)

	// The new plaintext went out by email and matches the stored hash.
	require.Len(t, f.mailer.codes, 1)
	assert.True(t, CheckOTP(stored.OTPHash, f.mailer.codes[0]))
}

func TestReissue_RateLimitedPerOrigin(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t)
	f.seedExecution(t, gatedExecution(t, "123456"))

	require.NoError(t, f.gateway.Reissue(ctx, "exec-1", "10.0.0.1"))

	err := f.gateway.Reissue(ctx, "exec-1", "10.0.0.1")
	assert.ErrorIs(t, err, ErrRateLimited)

	// Another origin is not throttled by the first one.
	require.NoError(t, f.gateway.Reissue(ctx, "exec-1", "10.0.0.2"))
}

func TestGenerateOTP_SixDigits(t *testing.T) {
	for i := 0; i < 20; i++ {
		otp, err := GenerateOTP()
		require.NoError(t, err)
		require.Len(t, otp, 6)

		for _, r := range otp {
			assert.GreaterOrEqual(t, r, '0')
			assert.LessOrEqual(t, r, '9')
		}
	}
}

func TestContentTypeFor(t *testing.T) {
	testCases := []struct {
		filename string
		expected string
	}{
		{filename: "report.pdf", expected: "application/pdf"},
		{filename: "report.XLSX", expected: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
		{filename: "report.xls", expected: "application/vnd.ms-excel"},
		{filename: "report.csv", expected: "text/csv"},
		{filename: "report.bin", expected: "application/octet-stream"},
		{filename: "report", expected: "application/octet-stream"},
	}

	for _, tc := range testCases {
		t.Run(tc.filename, func(t *testing.T) {
			assert.Equal(t, tc.expected, ContentTypeFor(tc.filename))
		})
	}
}
