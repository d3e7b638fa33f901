package scoringmigrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Creating scoring tables...")

		return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS scoring_participants (
					id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
					name VARCHAR(50) NOT NULL,
					normalized_name VARCHAR(50) NOT NULL,
					stored_total INTEGER NOT NULL DEFAULT 0,
					completed_tasks TEXT[] NOT NULL DEFAULT '{}',
					is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
					last_recalculated_at TIMESTAMPTZ,
					recalculation_reason TEXT,
					previous_stored_total INTEGER,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);
				CREATE INDEX IF NOT EXISTS idx_scoring_participants_normalized_name
					ON scoring_participants(normalized_name) WHERE NOT is_deleted;
			`); err != nil {
				return fmt.Errorf("failed to create scoring_participants table: %w", err)
			}

			if _, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS scoring_activity_records (
					id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
					participant_id UUID NOT NULL REFERENCES scoring_participants(id),
					activity_id VARCHAR(64) NOT NULL,
					category VARCHAR(32) NOT NULL,
					multiplier_ids TEXT[] NOT NULL DEFAULT '{}',
					quantity INTEGER NOT NULL DEFAULT 1 CHECK (quantity >= 1),
					competition_result VARCHAR(8),
					penalty_caught BOOLEAN NOT NULL DEFAULT FALSE,
					risk_outcome VARCHAR(16),
					points BIGINT,
					one_time BOOLEAN NOT NULL DEFAULT FALSE,
					notes TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);
				CREATE INDEX IF NOT EXISTS idx_scoring_activity_records_participant
					ON scoring_activity_records(participant_id) WHERE deleted_at IS NULL;
				CREATE INDEX IF NOT EXISTS idx_scoring_activity_records_activity
					ON scoring_activity_records(activity_id) WHERE deleted_at IS NULL;
			`); err != nil {
				return fmt.Errorf("failed to create scoring_activity_records table: %w", err)
			}

			if _, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS scoring_repair_annotations (
					id BIGSERIAL PRIMARY KEY,
					participant_id UUID NOT NULL REFERENCES scoring_participants(id),
					previous_total INTEGER NOT NULL,
					new_total INTEGER NOT NULL,
					reason TEXT NOT NULL,
					repaired_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_scoring_repair_annotations_participant
					ON scoring_repair_annotations(participant_id, repaired_at DESC);
			`); err != nil {
				return fmt.Errorf("failed to create scoring_repair_annotations table: %w", err)
			}

			return nil
		})
	}, func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Dropping scoring tables...")

		_, err := db.ExecContext(ctx, `
			DROP TABLE IF EXISTS scoring_repair_annotations;
			DROP TABLE IF EXISTS scoring_activity_records;
			DROP TABLE IF EXISTS scoring_participants;
		`)
		if err != nil {
			return fmt.Errorf("failed to drop scoring tables: %w", err)
		}
		return nil
	})
}
