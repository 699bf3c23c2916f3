package mariadb

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

// NewRecordRepository creates a new MariaDB attendance record repository.
func NewRecordRepository(pool *Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

// UpsertRecord inserts rec or replaces the stored record with the same key.
func (r *RecordRepository) UpsertRecord(ctx context.Context, rec attendance.Record) error {
	query := `
		INSERT INTO attendance_records (date, identity, check_in, check_out, break_start, total_break_minutes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			check_in = VALUES(check_in),
			check_out = VALUES(check_out),
			break_start = VALUES(break_start),
			total_break_minutes = VALUES(total_break_minutes)
	`

	var checkIn, checkOut sql.NullString
	if rec.CheckIn != nil {
		checkIn = sql.NullString{String: rec.CheckIn.String(), Valid: true}
	}
	if rec.CheckOut != nil {
		checkOut = sql.NullString{String: rec.CheckOut.String(), Valid: true}
	}
	var breakStart sql.NullTime
	if rec.BreakStart != nil {
		breakStart = sql.NullTime{Time: rec.BreakStart.UTC(), Valid: true}
	}

	if _, err := r.pool.db.ExecContext(ctx, query,
		rec.Date, rec.Identity, checkIn, checkOut, breakStart, rec.TotalBreakMinutes,
	); err != nil {
		return fmt.Errorf("upsert attendance record %s: %w", rec.Key(), err)
	}
	return nil
}

// LoadRecords returns all records newest date first, most recently inserted
// first within a date.
func (r *RecordRepository) LoadRecords(ctx context.Context) ([]attendance.Record, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT date, identity, check_in, check_out, break_start, total_break_minutes
		FROM attendance_records
		ORDER BY date DESC, seq DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query attendance records: %w", err)
	}
	defer rows.Close()

	var records []attendance.Record
	for rows.Next() {
		var rec attendance.Record
		var checkIn, checkOut sql.NullString
		var breakStart sql.NullTime
		if err := rows.Scan(&rec.Date, &rec.Identity, &checkIn, &checkOut, &breakStart, &rec.TotalBreakMinutes); err != nil {
			return nil, fmt.Errorf("scan attendance record: %w", err)
		}
		if rec.CheckIn, err = optionalTimeOfDay(checkIn); err != nil {
			return nil, fmt.Errorf("record %s check_in: %w", rec.Key(), err)
		}
		if rec.CheckOut, err = optionalTimeOfDay(checkOut); err != nil {
			return nil, fmt.Errorf("record %s check_out: %w", rec.Key(), err)
		}
		if breakStart.Valid {
			t := breakStart.Time
			rec.BreakStart = &t
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance records: %w", err)
	}
	return records, nil
}

func optionalTimeOfDay(s sql.NullString) (*attendance.TimeOfDay, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := attendance.ParseTimeOfDay(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
