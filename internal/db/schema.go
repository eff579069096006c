package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Migrate creates the sync schema if it does not exist. All statements are
// idempotent; the engine runs this on every start.
//
// The two partial unique indexes are load-bearing: they enforce the
// "one pending row per key" contracts of the outbound queue and the
// conflict log at the database level, not just in code.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS sync_metadata (
		content_type         text        NOT NULL,
		entity_id            text        NOT NULL,
		sync_version         bigint      NOT NULL DEFAULT 0,
		modified_by_location text        NOT NULL DEFAULT '',
		last_synced_at       timestamptz,
		sync_status          text        NOT NULL DEFAULT 'pending',
		conflict_flag        boolean     NOT NULL DEFAULT false,
		PRIMARY KEY (content_type, entity_id)
	)`,

	`CREATE TABLE IF NOT EXISTS sync_queue (
		id            bigserial   PRIMARY KEY,
		queue         text        NOT NULL,
		ship_id       text        NOT NULL,
		content_type  text        NOT NULL,
		content_id    text        NOT NULL,
		operation     text        NOT NULL,
		local_version bigint      NOT NULL DEFAULT 0,
		data          jsonb,
		locale        text,
		status        text        NOT NULL DEFAULT 'pending',
		retry_count   integer     NOT NULL DEFAULT 0,
		error_message text,
		created_at    timestamptz NOT NULL DEFAULT now(),
		sent_at       timestamptz
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS sync_queue_pending_key
		ON sync_queue (queue, content_type, content_id, COALESCE(locale, ''))
		WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS sync_queue_status_created
		ON sync_queue (queue, status, created_at)`,

	`CREATE TABLE IF NOT EXISTS conflict_log (
		id                 bigserial   PRIMARY KEY,
		content_type       text        NOT NULL,
		entity_id          text        NOT NULL,
		local_data         jsonb,
		remote_data        jsonb,
		conflicting_fields jsonb       NOT NULL DEFAULT '[]',
		conflict_type      text        NOT NULL,
		status             text        NOT NULL DEFAULT 'pending',
		resolution         text,
		merged_data        jsonb,
		created_at         timestamptz NOT NULL DEFAULT now(),
		resolved_at        timestamptz,
		resolved_by        text
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS conflict_log_pending_key
		ON conflict_log (content_type, entity_id)
		WHERE status = 'pending'`,

	`CREATE TABLE IF NOT EXISTS peer_session (
		peer_id          text        PRIMARY KEY,
		last_seen_at     timestamptz NOT NULL,
		is_online        boolean     NOT NULL DEFAULT true,
		last_sync_at     timestamptz,
		last_sync_status text,
		total_syncs      bigint      NOT NULL DEFAULT 0,
		metadata         jsonb
	)`,

	`CREATE TABLE IF NOT EXISTS processed_message (
		message_id   text        PRIMARY KEY,
		processed_at timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS dead_letter (
		id          bigserial   PRIMARY KEY,
		message_id  text        NOT NULL,
		payload     jsonb,
		reason      text        NOT NULL,
		created_at  timestamptz NOT NULL DEFAULT now(),
		resolved_at timestamptz
	)`,

	// Reference document store backing cms.PGClient. Deployments that
	// embed a real CMS do not use these tables.
	`CREATE TABLE IF NOT EXISTS cms_document (
		content_type text        NOT NULL,
		entity_id    text        NOT NULL,
		data         jsonb       NOT NULL,
		published_at timestamptz,
		created_at   timestamptz NOT NULL DEFAULT now(),
		updated_at   timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (content_type, entity_id)
	)`,
	`CREATE INDEX IF NOT EXISTS cms_document_updated
		ON cms_document (updated_at)`,

	`CREATE TABLE IF NOT EXISTS cms_file (
		id               text        PRIMARY KEY,
		document_id      text        NOT NULL DEFAULT '',
		name             text        NOT NULL,
		hash             text        NOT NULL UNIQUE,
		ext              text        NOT NULL DEFAULT '',
		mime             text        NOT NULL DEFAULT '',
		size             bigint      NOT NULL DEFAULT 0,
		url              text        NOT NULL,
		preview_url      text,
		width            integer     NOT NULL DEFAULT 0,
		height           integer     NOT NULL DEFAULT 0,
		formats          jsonb,
		provider         text        NOT NULL DEFAULT '',
		provider_metadata jsonb,
		folder_path      text        NOT NULL DEFAULT '/',
		alternative_text text,
		caption          text,
		created_at       timestamptz NOT NULL DEFAULT now()
	)`,
}

// Migrate applies the idempotent schema bootstrap.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	log.Info().Int("statements", len(statements)).Msg("schema bootstrap complete")
	return nil
}
