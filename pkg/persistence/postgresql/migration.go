package postgresql

// migrations returns the ordered schema migrations applied at startup.
func migrations() map[int]string {
	return map[int]string{
		1: migrationInitialSchema,
	}
}

const migrationInitialSchema = `
	CREATE TABLE IF NOT EXISTS reports (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'sql',
		data_source_id UUID,
		sql_definition TEXT NOT NULL DEFAULT '',
		visual_definition JSONB,
		retention_days INTEGER NOT NULL DEFAULT 0,
		delivery_mode TEXT NOT NULL DEFAULT 'none',
		timeout_seconds INTEGER NOT NULL DEFAULT 0,
		is_critical BOOLEAN NOT NULL DEFAULT FALSE,
		email_server_id UUID,
		email_template_id UUID,
		ftp_server_id UUID,
		default_recipients JSONB,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id UUID PRIMARY KEY,
		report_id UUID NOT NULL REFERENCES reports(id),
		frequency TEXT NOT NULL,
		frequency_options JSONB,
		start_date TIMESTAMP WITH TIME ZONE,
		start_hour TEXT NOT NULL DEFAULT '',
		delivery_mode TEXT NOT NULL DEFAULT 'none',
		email_server_id UUID,
		email_template_id UUID,
		ftp_server_ids JSONB,
		recipients JSONB,
		parameters JSONB,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_active ON schedules(is_active);

	CREATE TABLE IF NOT EXISTS executions (
		id UUID PRIMARY KEY,
		report_id UUID NOT NULL REFERENCES reports(id),
		schedule_id UUID,
		triggered_by TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		started_at TIMESTAMP WITH TIME ZONE,
		finished_at TIMESTAMP WITH TIME ZONE,
		output_path TEXT,
		file_size BIGINT NOT NULL DEFAULT 0,
		error_log TEXT NOT NULL DEFAULT '',
		parameters JSONB,
		notification_emails JSONB,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		priority TEXT NOT NULL DEFAULT '',
		last_retry_at TIMESTAMP WITH TIME ZONE,
		next_retry_at TIMESTAMP WITH TIME ZONE,
		ftp_server_id TEXT NOT NULL DEFAULT '',
		ftp_path TEXT NOT NULL DEFAULT '',
		uploaded_at TIMESTAMP WITH TIME ZONE,
		ftp_deleted_at TIMESTAMP WITH TIME ZONE,
		ftp_delete_status TEXT NOT NULL DEFAULT '',
		email_sent_at TIMESTAMP WITH TIME ZONE,
		email_status TEXT NOT NULL DEFAULT '',
		email_failure_reason TEXT NOT NULL DEFAULT '',
		otp_hash TEXT NOT NULL DEFAULT '',
		otp_expires_at TIMESTAMP WITH TIME ZONE,
		otp_validated BOOLEAN NOT NULL DEFAULT FALSE,
		otp_used_at TIMESTAMP WITH TIME ZONE,
		download_count INTEGER NOT NULL DEFAULT 0,
		last_downloaded_at TIMESTAMP WITH TIME ZONE,
		expires_at TIMESTAMP WITH TIME ZONE,
		deleted_at TIMESTAMP WITH TIME ZONE,
		delivery_log JSONB,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_executions_schedule_created ON executions(schedule_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_executions_report_created ON executions(report_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_executions_next_retry ON executions(status, next_retry_at);
	CREATE INDEX IF NOT EXISTS idx_executions_expires ON executions(expires_at) WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS ftp_servers (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		host TEXT NOT NULL,
		port INTEGER NOT NULL DEFAULT 21,
		username TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL DEFAULT '',
		root_path TEXT NOT NULL DEFAULT '',
		passive_mode BOOLEAN NOT NULL DEFAULT TRUE,
		status TEXT NOT NULL DEFAULT '',
		last_check_at TIMESTAMP WITH TIME ZONE
	);

	CREATE TABLE IF NOT EXISTS email_servers (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		host TEXT NOT NULL,
		port INTEGER NOT NULL DEFAULT 587,
		username TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL DEFAULT '',
		encryption TEXT NOT NULL DEFAULT '',
		from_address TEXT NOT NULL,
		from_name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS email_templates (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL,
		body_html TEXT NOT NULL,
		body_text TEXT NOT NULL DEFAULT '',
		require_otp BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS data_sources (
		id UUID PRIMARY KEY,
		type TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE
	);
`
