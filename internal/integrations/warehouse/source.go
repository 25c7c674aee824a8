// Package warehouse reads pre-ingested hourly observations from Postgres.
// It backs deployments that mirror forecast data into a warehouse instead of
// calling the upstream API from the serving path.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ride-agent/internal/domain"
)

// nearestRadiusDeg bounds the location match. Roughly 25 km at mid
// latitudes; warehouse rows are keyed to ingest grid points, not exact
// user coordinates.
const nearestRadiusDeg = 0.25

// Source implements domain.ForecastSource over an observations table.
type Source struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func New(pool *pgxpool.Pool) (*Source, error) {
	if pool == nil {
		return nil, errors.New("warehouse: pool must not be nil")
	}
	return &Source{pool: pool, now: time.Now}, nil
}

// Fetch returns the hourly rows nearest the requested location within the
// window. Row ingest freshness is the caller's concern; this source reports
// what the warehouse holds.
func (s *Source) Fetch(ctx context.Context, lat, lon float64, window domain.TimeWindow) (domain.ObservationSet, error) {
	query := `
		SELECT observed_at, temperature_c, apparent_temperature_c,
			   precip_probability, wind_speed_kph, wind_gust_kph,
			   visibility_km, aqi, is_day, timezone
		FROM hourly_observations
		WHERE latitude BETWEEN $1 AND $2
		  AND longitude BETWEEN $3 AND $4
		  AND observed_at >= $5 AND observed_at < $6
		ORDER BY observed_at ASC
	`

	rows, err := s.pool.Query(ctx, query,
		lat-nearestRadiusDeg, lat+nearestRadiusDeg,
		lon-nearestRadiusDeg, lon+nearestRadiusDeg,
		window.Start, window.End,
	)
	if err != nil {
		return domain.ObservationSet{}, fmt.Errorf("%w: query observations: %v", domain.ErrSourceUnavailable, err)
	}
	defer rows.Close()

	var (
		obs      []domain.Observation
		timezone string
	)
	for rows.Next() {
		var (
			o  domain.Observation
			tz *string
		)
		err := rows.Scan(
			&o.Time, &o.TemperatureC, &o.ApparentTemperatureC,
			&o.PrecipProbability, &o.WindSpeedKph, &o.WindGustKph,
			&o.VisibilityKm, &o.AQI, &o.IsDay, &tz,
		)
		if err != nil {
			return domain.ObservationSet{}, fmt.Errorf("warehouse: scan observation row: %w", err)
		}
		if tz != nil && timezone == "" {
			timezone = *tz
		}
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return domain.ObservationSet{}, fmt.Errorf("%w: read observations: %v", domain.ErrSourceUnavailable, err)
	}
	if len(obs) == 0 {
		return domain.ObservationSet{}, fmt.Errorf("%w: no warehouse rows for location and window", domain.ErrNoData)
	}

	return domain.ObservationSet{
		Latitude:     lat,
		Longitude:    lon,
		Timezone:     timezone,
		Source:       "warehouse",
		FetchedAt:    s.now().UTC(),
		Observations: obs,
	}, nil
}
