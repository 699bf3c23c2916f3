package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

// RecordRepository stores attendance records keyed by (date, identity).
type RecordRepository struct {
	pool *Pool
}

// NewRecordRepository creates a new PostgreSQL attendance record repository.
func NewRecordRepository(pool *Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

// UpsertRecord inserts rec or replaces the stored record with the same key.
// A replaced row keeps its seq, so load order follows first insertion.
func (r *RecordRepository) UpsertRecord(ctx context.Context, rec attendance.Record) error {
	query := `
		INSERT INTO attendance_records (date, identity, check_in, check_out, break_start, total_break_minutes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (date, identity) DO UPDATE SET
			check_in = EXCLUDED.check_in,
			check_out = EXCLUDED.check_out,
			break_start = EXCLUDED.break_start,
			total_break_minutes = EXCLUDED.total_break_minutes,
			updated_at = NOW()
	`

	_, err := r.pool.Exec(ctx, query,
		rec.Date,
		rec.Identity,
		nullTimeOfDay(rec.CheckIn),
		nullTimeOfDay(rec.CheckOut),
		nullBreakStart(rec),
		rec.TotalBreakMinutes,
	)
	if err != nil {
		return fmt.Errorf("upsert attendance record %s: %w", rec.Key(), err)
	}
	return nil
}

// LoadRecords returns all records newest date first, most recently inserted
// first within a date.
func (r *RecordRepository) LoadRecords(ctx context.Context) ([]attendance.Record, error) {
	query := `
		SELECT date, identity, check_in, check_out, break_start, total_break_minutes
		FROM attendance_records
		ORDER BY date DESC, seq DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query attendance records: %w", err)
	}
	defer rows.Close()

	var records []attendance.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance records: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records.
func (r *RecordRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM attendance_records").Scan(&count); err != nil {
		return 0, fmt.Errorf("count attendance records: %w", err)
	}
	return count, nil
}

func scanRecord(scanner interface{ Scan(...any) error }) (attendance.Record, error) {
	var rec attendance.Record
	var checkIn, checkOut sql.NullString
	var breakStart sql.NullTime

	if err := scanner.Scan(&rec.Date, &rec.Identity, &checkIn, &checkOut, &breakStart, &rec.TotalBreakMinutes); err != nil {
		return rec, fmt.Errorf("scan attendance record: %w", err)
	}

	var err error
	if rec.CheckIn, err = parseTimeOfDay(checkIn); err != nil {
		return rec, fmt.Errorf("record %s check_in: %w", rec.Key(), err)
	}
	if rec.CheckOut, err = parseTimeOfDay(checkOut); err != nil {
		return rec, fmt.Errorf("record %s check_out: %w", rec.Key(), err)
	}
	if breakStart.Valid {
		t := breakStart.Time
		rec.BreakStart = &t
	}
	return rec, nil
}

func nullTimeOfDay(t *attendance.TimeOfDay) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.String(), Valid: true}
}

func nullBreakStart(rec attendance.Record) sql.NullTime {
	if rec.BreakStart == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *rec.BreakStart, Valid: true}
}

func parseTimeOfDay(s sql.NullString) (*attendance.TimeOfDay, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := attendance.ParseTimeOfDay(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
