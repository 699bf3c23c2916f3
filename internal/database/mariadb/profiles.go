package mariadb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/identity"
)

// ProfileRepository stores each identity profile as one row with its samples
// encoded as JSON.
type ProfileRepository struct {
	pool *Pool
}

// NewProfileRepository creates a new MariaDB profile repository.
func NewProfileRepository(pool *Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// UpsertProfile writes p, replacing the stored samples.
func (r *ProfileRepository) UpsertProfile(ctx context.Context, p identity.Profile) error {
	data, err := json.Marshal(p.Samples)
	if err != nil {
		return fmt.Errorf("marshal samples: %w", err)
	}

	query := `
		INSERT INTO identity_profiles (identity, enrolled_at, samples)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE samples = VALUES(samples)
	`
	if _, err := r.pool.db.ExecContext(ctx, query, p.Identity, p.EnrolledAt.UTC(), data); err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.Identity, err)
	}
	return nil
}

// LoadProfiles returns every stored profile in enrollment order.
func (r *ProfileRepository) LoadProfiles(ctx context.Context) ([]identity.Profile, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT identity, enrolled_at, samples
		FROM identity_profiles
		ORDER BY enrolled_at, identity
	`)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []identity.Profile
	for rows.Next() {
		var p identity.Profile
		var data []byte
		if err := rows.Scan(&p.Identity, &p.EnrolledAt, &data); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		if err := json.Unmarshal(data, &p.Samples); err != nil {
			return nil, fmt.Errorf("decode samples of %s: %w", p.Identity, err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return profiles, nil
}
