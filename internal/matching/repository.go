package matching

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/joao-fontenele/artisanflow/internal/domain"
)

type ArtisanRepository struct {
	db *sql.DB
}

func NewArtisanRepository(db *sql.DB) *ArtisanRepository {
	return &ArtisanRepository{db: db}
}

func (r *ArtisanRepository) UpsertArtisan(ctx context.Context, a domain.Artisan) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO artisans (id, latitude, longitude, services, subservices, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			services = EXCLUDED.services,
			subservices = EXCLUDED.subservices,
			active = EXCLUDED.active,
			updated_at = NOW()
	`, a.ID, a.Latitude, a.Longitude, pq.Array(a.Services), pq.Array(a.Subservices), a.Active)
	return err
}

// FindEligibleProviders returns active, unblocked artisans offering the
// service within radiusKm, nearest first.
func (r *ArtisanRepository) FindEligibleProviders(ctx context.Context, loc domain.Location, service, subservice string, radiusKm float64, maxCount int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM (
			SELECT a.id,
				2 * 6371 * asin(sqrt(
					power(sin(radians(a.latitude - $1) / 2), 2) +
					cos(radians($1)) * cos(radians(a.latitude)) *
					power(sin(radians(a.longitude - $2) / 2), 2)
				)) AS distance_km
			FROM artisans a
			WHERE a.active
				AND $3 = ANY(a.services)
				AND ($4 = '' OR $4 = ANY(a.subservices))
				AND NOT EXISTS (
					SELECT 1 FROM account_blocks b
					WHERE b.subject_kind = 'artisan' AND b.subject_id = a.id
						AND b.unblocked_at IS NULL
						AND (b.block_until IS NULL OR b.block_until > NOW())
				)
		) candidates
		WHERE distance_km <= $5
		ORDER BY distance_km, id
		LIMIT $6
	`, loc.Latitude, loc.Longitude, service, subservice, radiusKm, maxCount)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}
