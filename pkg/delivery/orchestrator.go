// Package delivery fans completed report artifacts out to their
// configured channels: templated email with a gated download link, and
// uploads to linked FTP servers.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/reportd/reportd/pkg/download"
	"github.com/reportd/reportd/pkg/models"
	"github.com/reportd/reportd/pkg/persistence"
	"github.com/reportd/reportd/pkg/storage"
)

// Email channel statuses recorded on the execution.
const (
	EmailStatusSent   = "sent"
	EmailStatusFailed = "failed"
)

// Result aggregates the per-channel outcome of one delivery run.
type Result struct {
	Email  string            `json:"email,omitempty"`
	FTP    map[string]string `json:"ftp,omitempty"`
	Errors []string          `json:"errors,omitempty"`
}

// Log converts the result into the execution's delivery log shape.
func (r *Result) Log() map[string]any {
	log := map[string]any{}

	if r.Email != "" {
		log["email"] = r.Email
	}

	if len(r.FTP) > 0 {
		ftp := make(map[string]any, len(r.FTP))
		for name, status := range r.FTP {
			ftp[name] = status
		}

		log["ftp"] = ftp
	}

	if len(r.Errors) > 0 {
		errs := make([]any, 0, len(r.Errors))
		for _, e := range r.Errors {
			errs = append(errs, e)
		}

		log["errors"] = errs
	}

	return log
}

// BackendFactory builds a storage backend for a remote-transfer target.
// Injectable so tests run without a live FTP server.
type BackendFactory func(ctx context.Context, server *models.FTPServer) (storage.Backend, error)

// Orchestrator runs deliveries for completed executions. It mutates the
// execution's delivery-tracking fields; the caller persists them.
type Orchestrator struct {
	persistence    persistence.Persistence
	source         storage.Backend
	sender         EmailSender
	backendFactory BackendFactory
	baseURL        string
	logger         *slog.Logger
}

// NewOrchestrator creates a delivery orchestrator reading artifacts from
// the given source backend. baseURL prefixes generated download links.
func NewOrchestrator(
	logger *slog.Logger,
	persist persistence.Persistence,
	source storage.Backend,
	sender EmailSender,
	baseURL string,
) *Orchestrator {
	return &Orchestrator{
		persistence: persist,
		source:      source,
		sender:      sender,
		backendFactory: func(ctx context.Context, server *models.FTPServer) (storage.Backend, error) {
			return storage.NewFTPBackend(ctx, server)
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("module", "delivery"),
	}
}

// WithBackendFactory overrides how remote backends are constructed.
func (o *Orchestrator) WithBackendFactory(factory BackendFactory) *Orchestrator {
	o.backendFactory = factory

	return o
}

// ExecuteDelivery delivers a scheduled execution's artifact over every
// channel its schedule enables. Channel failures are collected into the
// result rather than aborting the run; the only hard failures are a
// missing schedule or report.
func (o *Orchestrator) ExecuteDelivery(ctx context.Context, execution *models.Execution) (*Result, error) {
	schedule, err := o.persistence.ScheduleByID(ctx, execution.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule %s: %w", execution.ScheduleID, err)
	}

	report, err := o.persistence.ReportByID(ctx, execution.ReportID)
	if err != nil {
		return nil, fmt.Errorf("failed to load report %s: %w", execution.ReportID, err)
	}

	result := &Result{FTP: map[string]string{}}
	mode := schedule.DeliveryMode

	o.logger.InfoContext(ctx, "Starting delivery",
		"execution_id", execution.ID,
		"schedule_id", schedule.ID,
		"mode", string(mode),
	)

	if mode.SendsEmail() {
		o.deliverEmail(ctx, execution, schedule, report, result)
	}

	if mode.SendsFTP() {
		o.deliverFTP(ctx, execution, schedule, report, result)
	}

	return result, nil
}

// DeliverViaEmail handles the manual-trigger path: no schedule, the
// report's own transport and defaults, recipients merged with the
// execution's notification list.
func (o *Orchestrator) DeliverViaEmail(ctx context.Context, execution *models.Execution, report *models.Report) error {
	if report.EmailServerID == "" {
		return fmt.Errorf("report %s has no email server configured", report.ID)
	}

	server, err := o.persistence.EmailServerByID(ctx, report.EmailServerID)
	if err != nil {
		return fmt.Errorf("failed to load email server: %w", err)
	}

	template, err := o.resolveTemplate(ctx, report.EmailTemplateID)
	if err != nil {
		return err
	}

	recipients := normalizeRecipients(report.DefaultRecipients, execution.NotificationEmails)
	if len(recipients) == 0 {
		return fmt.Errorf("no delivery recipients for execution %s", execution.ID)
	}

	otp, err := o.ensureOTP(execution, template)
	if err != nil {
		return err
	}

	message := o.renderMessage(execution, report, template, recipients, otp)

	closeAttachments := o.attachArtifact(ctx, execution, message)
	defer closeAttachments()

	now := time.Now().UTC()
	execution.EmailSentAt = &now

	err = o.sender.Send(ctx, server, message)
	if err != nil {
		execution.EmailStatus = EmailStatusFailed
		execution.EmailFailureReason = err.Error()

		return err
	}

	execution.EmailStatus = EmailStatusSent
	execution.EmailFailureReason = ""

	return nil
}

// SendDownloadLink re-sends the download email carrying a freshly
// issued one-time code. Used by the download gateway's reissue flow.
func (o *Orchestrator) SendDownloadLink(ctx context.Context, execution *models.Execution, otp string) error {
	report, err := o.persistence.ReportByID(ctx, execution.ReportID)
	if err != nil {
		return fmt.Errorf("failed to load report %s: %w", execution.ReportID, err)
	}

	serverID := report.EmailServerID
	templateID := report.EmailTemplateID
	recipientLists := [][]string{report.DefaultRecipients, execution.NotificationEmails}

	if execution.ScheduleID != "" {
		schedule, err := o.persistence.ScheduleByID(ctx, execution.ScheduleID)
		if err == nil {
			if schedule.EmailServerID != "" {
				serverID = schedule.EmailServerID
			}

			if schedule.EmailTemplateID != "" {
				templateID = schedule.EmailTemplateID
			}

			if len(schedule.Recipients) > 0 {
				recipientLists[0] = schedule.Recipients
			}
		}
	}

	if serverID == "" {
		return fmt.Errorf("execution %s has no email server for reissue", execution.ID)
	}

	server, err := o.persistence.EmailServerByID(ctx, serverID)
	if err != nil {
		return fmt.Errorf("failed to load email server: %w", err)
	}

	template, err := o.resolveTemplate(ctx, templateID)
	if err != nil {
		return err
	}

	recipients := normalizeRecipients(recipientLists...)
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients for execution %s", execution.ID)
	}

	message := o.renderMessage(execution, report, template, recipients, otp)

	return o.sender.Send(ctx, server, message)
}

func (o *Orchestrator) deliverEmail(
	ctx context.Context,
	execution *models.Execution,
	schedule *models.Schedule,
	report *models.Report,
	result *Result,
) {
	serverID := schedule.EmailServerID
	if serverID == "" {
		serverID = report.EmailServerID
	}

	if serverID == "" {
		result.Email = EmailStatusFailed
		result.Errors = append(result.Errors, "email: no email server configured")

		return
	}

	server, err := o.persistence.EmailServerByID(ctx, serverID)
	if err != nil {
		result.Email = EmailStatusFailed
		result.Errors = append(result.Errors, "email: "+err.Error())

		return
	}

	templateID := schedule.EmailTemplateID
	if templateID == "" {
		templateID = report.EmailTemplateID
	}

	template, err := o.resolveTemplate(ctx, templateID)
	if err != nil {
		result.Email = EmailStatusFailed
		result.Errors = append(result.Errors, "email: "+err.Error())

		return
	}

	recipientLists := [][]string{schedule.Recipients, execution.NotificationEmails}
	if len(schedule.Recipients) == 0 {
		recipientLists[0] = report.DefaultRecipients
	}

	recipients := normalizeRecipients(recipientLists...)
	if len(recipients) == 0 {
		result.Email = EmailStatusFailed
		result.Errors = append(result.Errors, "email: no recipients configured")

		return
	}

	otp, err := o.ensureOTP(execution, template)
	if err != nil {
		result.Email = EmailStatusFailed
		result.Errors = append(result.Errors, "email: "+err.Error())

		return
	}

	message := o.renderMessage(execution, report, template, recipients, otp)

	closeAttachments := o.attachArtifact(ctx, execution, message)
	defer closeAttachments()

	now := time.Now().UTC()
	execution.EmailSentAt = &now

	err = o.sender.Send(ctx, server, message)
	if err != nil {
		execution.EmailStatus = EmailStatusFailed
		execution.EmailFailureReason = err.Error()
		result.Email = EmailStatusFailed
		result.Errors = append(result.Errors, "email: "+err.Error())

		return
	}

	execution.EmailStatus = EmailStatusSent
	execution.EmailFailureReason = ""
	result.Email = EmailStatusSent
}

func (o *Orchestrator) deliverFTP(
	ctx context.Context,
	execution *models.Execution,
	schedule *models.Schedule,
	report *models.Report,
	result *Result,
) {
	if !execution.HasArtifact() {
		result.Errors = append(result.Errors, "ftp: execution has no artifact")

		return
	}

	serverIDs := schedule.FTPServerIDs
	if len(serverIDs) == 0 && report.FTPServerID != "" {
		serverIDs = []string{report.FTPServerID}
	}

	if len(serverIDs) == 0 {
		result.Errors = append(result.Errors, "ftp: no ftp servers linked")

		return
	}

	folder := remoteFolder(report.Name, time.Now().UTC())
	filename := path.Base(*execution.OutputPath)
	remotePath := path.Join(folder, filename)

	for _, serverID := range serverIDs {
		server, err := o.persistence.FTPServerByID(ctx, serverID)
		if err != nil {
			result.FTP[serverID] = "failed: " + err.Error()
			result.Errors = append(result.Errors, "ftp "+serverID+": "+err.Error())

			continue
		}

		err = o.uploadTo(ctx, server, execution, folder, remotePath)
		if err != nil {
			result.FTP[server.Name] = "failed: " + err.Error()
			result.Errors = append(result.Errors, "ftp "+server.Name+": "+err.Error())

			continue
		}

		result.FTP[server.Name] = "success"

		if execution.UploadedAt == nil {
			now := time.Now().UTC()
			execution.FTPServerID = server.ID
			execution.FTPPath = remotePath
			execution.UploadedAt = &now
		}
	}
}

func (o *Orchestrator) uploadTo(
	ctx context.Context,
	server *models.FTPServer,
	execution *models.Execution,
	folder, remotePath string,
) error {
	backend, err := o.backendFactory(ctx, server)
	if err != nil {
		return err
	}

	defer func() {
		err := backend.Close()
		if err != nil {
			o.logger.WarnContext(ctx, "Failed to close storage backend", "server", server.Name, "error", err)
		}
	}()

	artifact, err := o.source.Open(ctx, *execution.OutputPath)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}

	defer func() {
		_ = artifact.Close()
	}()

	err = backend.MakeDirectory(ctx, folder)
	if err != nil {
		return err
	}

	return backend.Upload(ctx, remotePath, artifact)
}

// ensureOTP generates and stores a hashed one-time code when the
// template demands one, returning the plaintext for template rendering.
// A code already issued by the compute engine's status callback is kept
// as-is; its plaintext is unknown here, so the rendered code is empty.
func (o *Orchestrator) ensureOTP(execution *models.Execution, template *models.EmailTemplate) (string, error) {
	if !template.RequireOTP || execution.OTPHash != "" {
		return "", nil
	}

	otp, err := download.GenerateOTP()
	if err != nil {
		return "", err
	}

	hash, err := download.HashOTP(otp)
	if err != nil {
		return "", err
	}

	expiry := time.Now().UTC().Add(24 * time.Hour)
	execution.OTPHash = hash
	execution.OTPExpiresAt = &expiry
	execution.OTPValidated = false
	execution.OTPUsedAt = nil

	return otp, nil
}

// attachArtifact adds the artifact file to the outgoing message. When
// the source cannot be opened the email goes out link-only instead of
// failing the whole send. The returned func closes the opened reader
// and must run after the send.
func (o *Orchestrator) attachArtifact(ctx context.Context, execution *models.Execution, message *EmailMessage) func() {
	if !execution.HasArtifact() {
		return func() {}
	}

	artifact, err := o.source.Open(ctx, *execution.OutputPath)
	if err != nil {
		o.logger.WarnContext(ctx, "Failed to open artifact for attachment",
			"execution_id", execution.ID,
			"error", err,
		)

		return func() {}
	}

	message.Attachments = append(message.Attachments, Attachment{
		Name: path.Base(*execution.OutputPath),
		Body: artifact,
	})

	return func() {
		_ = artifact.Close()
	}
}

func (o *Orchestrator) renderMessage(
	execution *models.Execution,
	report *models.Report,
	template *models.EmailTemplate,
	recipients []string,
	otp string,
) *EmailMessage {
	now := time.Now().UTC()

	filename := ""
	if execution.HasArtifact() {
		filename = path.Base(*execution.OutputPath)
	}

	variables := map[string]string{
		"date":          now.Format("2006-01-02"),
		"datetime":      now.Format("2006-01-02 15:04:05"),
		"filename":      filename,
		"report_name":   report.Name,
		"otp_code":      otp,
		"download_link": o.baseURL + "/dl/" + execution.ID,
	}

	message := &EmailMessage{
		Recipients: recipients,
		Subject:    RenderTemplate(template.Subject, variables),
		BodyHTML:   RenderTemplate(template.BodyHTML, variables),
	}

	if template.BodyText != "" {
		message.BodyText = RenderTemplate(template.BodyText, variables)
	}

	return message
}

// resolveTemplate loads the configured template or falls back to the
// built-in download-link notice.
func (o *Orchestrator) resolveTemplate(ctx context.Context, templateID string) (*models.EmailTemplate, error) {
	if templateID == "" {
		return defaultTemplate(), nil
	}

	template, err := o.persistence.EmailTemplateByID(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load email template: %w", err)
	}

	return template, nil
}

func defaultTemplate() *models.EmailTemplate {
	return &models.EmailTemplate{
		Subject: "Report ready: {{report_name}}",
		BodyHTML: `<p>Your report <strong>{{report_name}}</strong> generated on {{datetime}} is ready.</p>` +
			`<p><a href="{{download_link}}">Download {{filename}}</a></p>`,
		BodyText: "Your report {{report_name}} generated on {{datetime}} is ready.\n" +
			"Download: {{download_link}}\n",
	}
}

// normalizeRecipients merges, trims and deduplicates address lists,
// dropping entries without an @.
func normalizeRecipients(lists ...[]string) []string {
	seen := make(map[string]struct{})
	recipients := make([]string, 0)

	for _, list := range lists {
		for _, address := range list {
			address = strings.TrimSpace(address)
			if address == "" || !strings.Contains(address, "@") {
				continue
			}

			key := strings.ToLower(address)
			if _, ok := seen[key]; ok {
				continue
			}

			seen[key] = struct{}{}

			recipients = append(recipients, address)
		}
	}

	return recipients
}

// remoteFolder names the per-run upload directory.
func remoteFolder(reportName string, now time.Time) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, reportName)

	return now.Format("2006-01-02") + "-" + sanitized
}
