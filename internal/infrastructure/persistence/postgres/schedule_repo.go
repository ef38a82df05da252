package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/studyhub/schedule-sync/internal/domain/schedule"
	"github.com/studyhub/schedule-sync/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE DAY REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ScheduleRepository implements schedule.DayRepository for PostgreSQL.
type ScheduleRepository struct {
	conn *Connection
}

// NewScheduleRepository creates a new ScheduleRepository.
func NewScheduleRepository(conn *Connection) *ScheduleRepository {
	return &ScheduleRepository{conn: conn}
}

// Hashes returns the stored hash per date in one query.
func (r *ScheduleRepository) Hashes(ctx context.Context, schoolID, studentID string, dates []string) (map[string]string, error) {
	query := `
		SELECT to_char(date, 'YYYY-MM-DD'), hash
		FROM schedule_days
		WHERE school_id = $1 AND student_id = $2 AND date = ANY($3::text[]::date[])
	`

	rows, err := r.conn.Query(ctx, query, schoolID, studentID, dates)
	if err != nil {
		return nil, fmt.Errorf("failed to query day hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string, len(dates))
	for rows.Next() {
		var date, hash string
		if err := rows.Scan(&date, &hash); err != nil {
			return nil, fmt.Errorf("failed to scan day hash: %w", err)
		}
		hashes[date] = hash
	}
	return hashes, rows.Err()
}

// ReplaceDays upserts every day in one transaction, sent as a single batch.
// Duplicate deliveries for one student can deadlock on the same rows, so a
// deadlock or serialization failure reruns the whole transaction.
func (r *ScheduleRepository) ReplaceDays(ctx context.Context, days []*schedule.Day) error {
	if len(days) == 0 {
		return nil
	}

	query := `
		INSERT INTO schedule_days (school_id, student_id, date, week_key, hash, events, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		ON CONFLICT (school_id, student_id, date) DO UPDATE SET
			week_key = EXCLUDED.week_key,
			hash = EXCLUDED.hash,
			events = EXCLUDED.events,
			updated_at = EXCLUDED.updated_at
	`

	batch := &pgx.Batch{}
	for _, day := range days {
		date, err := time.Parse(schedule.DateLayout, day.Date)
		if err != nil {
			return fmt.Errorf("invalid day date %q: %w", day.Date, err)
		}
		events, err := json.Marshal(day.Events)
		if err != nil {
			return fmt.Errorf("failed to marshal events of %s: %w", day.Date, err)
		}
		batch.Queue(query, day.SchoolID, day.StudentID, date, day.WeekKey, day.Hash, events, day.UpdatedAt)
	}

	return retry.DatabaseRetrier().Do(ctx, func(ctx context.Context) error {
		err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			results := tx.SendBatch(ctx, batch)
			for i := range days {
				if _, err := results.Exec(); err != nil {
					_ = results.Close()
					return fmt.Errorf("failed to write day %s: %w", days[i].Date, err)
				}
			}
			return results.Close()
		})
		if IsSerializationFailure(err) {
			return retry.Retryable(err)
		}
		return err
	})
}

// Day returns one stored day, or nil when absent.
func (r *ScheduleRepository) Day(ctx context.Context, key schedule.DayKey) (*schedule.Day, error) {
	query := `
		SELECT week_key, hash, events, updated_at
		FROM schedule_days
		WHERE school_id = $1 AND student_id = $2 AND date = $3::text::date
	`

	day := &schedule.Day{SchoolID: key.SchoolID, StudentID: key.StudentID, Date: key.Date}
	var events []byte
	err := r.conn.QueryRow(ctx, query, key.SchoolID, key.StudentID, key.Date).Scan(
		&day.WeekKey, &day.Hash, &events, &day.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query day: %w", err)
	}
	if err := json.Unmarshal(events, &day.Events); err != nil {
		return nil, fmt.Errorf("failed to unmarshal events: %w", err)
	}
	return day, nil
}
