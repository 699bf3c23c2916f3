package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/identity"
	"github.com/pgvector/pgvector-go"
)

// ProfileRepository stores identity profiles with their descriptors as
// pgvector columns.
type ProfileRepository struct {
	pool *Pool
}

// NewProfileRepository creates a new PostgreSQL profile repository.
func NewProfileRepository(pool *Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// UpsertProfile creates the profile on first sight and inserts samples not
// stored yet. Samples are append-only, so existing rows are left alone. A new
// sample whose position is already taken by another sample is an error.
func (r *ProfileRepository) UpsertProfile(ctx context.Context, p identity.Profile) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO identity_profiles (identity, enrolled_at)
		VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE SET updated_at = NOW()
	`, p.Identity, p.EnrolledAt); err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.Identity, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO profile_samples (id, identity, position, descriptor, captured_at)
		VALUES ($1, $2, $3, $4::vector, $5)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for i, s := range p.Samples {
		id := s.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := stmt.ExecContext(ctx, id, p.Identity, i, pgvector.NewVector(s.Descriptor), s.CapturedAt); err != nil {
			return fmt.Errorf("insert sample %d of %s: %w", i, p.Identity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LoadProfiles returns every profile with at least one sample, in enrollment order.
func (r *ProfileRepository) LoadProfiles(ctx context.Context) ([]identity.Profile, error) {
	query := `
		SELECT p.identity, p.enrolled_at, s.id, s.descriptor, s.captured_at
		FROM identity_profiles p
		JOIN profile_samples s ON s.identity = p.identity
		ORDER BY p.enrolled_at, p.identity, s.position
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []identity.Profile
	for rows.Next() {
		var (
			name       string
			enrolledAt time.Time
			sample     identity.Sample
			vec        pgvector.Vector
		)
		if err := rows.Scan(&name, &enrolledAt, &sample.ID, &vec, &sample.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan profile sample: %w", err)
		}
		sample.Descriptor = identity.Descriptor(vec.Slice())

		if n := len(profiles); n == 0 || profiles[n-1].Identity != name {
			profiles = append(profiles, identity.Profile{Identity: name, EnrolledAt: enrolledAt})
		}
		last := &profiles[len(profiles)-1]
		last.Samples = append(last.Samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return profiles, nil
}
