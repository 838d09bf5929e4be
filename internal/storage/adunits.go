// Package storage provides database access for mediation ad-unit configuration
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
)

// AdUnit is a mediation ad unit: one network placement with its server parameters
type AdUnit struct {
	ID               string                    `json:"id"`
	Network          string                    `json:"network"`
	Format           adapters.Format           `json:"format"`
	ServerParameters adapters.ServerParameters `json:"server_parameters"`
	Enabled          bool                      `json:"enabled"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}

// AdUnitStore provides database operations for ad units
type AdUnitStore struct {
	db *sql.DB
}

// NewAdUnitStore creates a new ad unit store
func NewAdUnitStore(db *sql.DB) *AdUnitStore {
	return &AdUnitStore{db: db}
}

const adUnitColumns = `id, network, format, server_parameters, enabled, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAdUnit(row rowScanner) (*AdUnit, error) {
	var u AdUnit
	var format string
	var paramsJSON []byte

	if err := row.Scan(&u.ID, &u.Network, &format, &paramsJSON, &u.Enabled, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Format = adapters.Format(format)

	// Parse JSONB server_parameters; values are kept as strings the way the SDKs receive them
	if len(paramsJSON) > 0 {
		var raw map[string]interface{}
		if err := json.Unmarshal(paramsJSON, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse server_parameters of %s: %w", u.ID, err)
		}
		u.ServerParameters = make(adapters.ServerParameters, len(raw))
		for k, v := range raw {
			switch val := v.(type) {
			case string:
				u.ServerParameters[k] = val
			case nil:
			default:
				encoded, _ := json.Marshal(val)
				u.ServerParameters[k] = string(encoded)
			}
		}
	}
	return &u, nil
}

// Get retrieves an enabled ad unit by ID. It returns nil, nil when none exists.
func (s *AdUnitStore) Get(ctx context.Context, id string) (*AdUnit, error) {
	query := `SELECT ` + adUnitColumns + `
		FROM ad_units
		WHERE id = $1 AND enabled = true`

	u, err := scanAdUnit(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ad unit: %w", err)
	}
	return u, nil
}

// ListActive retrieves all enabled ad units ordered by network then ID
func (s *AdUnitStore) ListActive(ctx context.Context) ([]*AdUnit, error) {
	query := `SELECT ` + adUnitColumns + `
		FROM ad_units
		WHERE enabled = true
		ORDER BY network, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ad units: %w", err)
	}
	defer rows.Close()

	units := make([]*AdUnit, 0, 64)
	for rows.Next() {
		u, err := scanAdUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ad unit row: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// ServerParametersByNetwork groups the server parameters of active ad units by network
func (s *AdUnitStore) ServerParametersByNetwork(ctx context.Context) (map[string][]adapters.ServerParameters, error) {
	units, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]adapters.ServerParameters)
	for _, u := range units {
		grouped[u.Network] = append(grouped[u.Network], u.ServerParameters)
	}
	return grouped, nil
}

// Upsert creates or replaces an ad unit
func (s *AdUnitStore) Upsert(ctx context.Context, u *AdUnit) error {
	if u.ID == "" || u.Network == "" {
		return fmt.Errorf("ad unit requires id and network")
	}
	if !u.Format.Valid() {
		return fmt.Errorf("ad unit %s has invalid format %q", u.ID, u.Format)
	}

	paramsJSON, err := json.Marshal(u.ServerParameters)
	if err != nil {
		return fmt.Errorf("failed to marshal server_parameters: %w", err)
	}

	query := `
		INSERT INTO ad_units (id, network, format, server_parameters, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET network = EXCLUDED.network, format = EXCLUDED.format,
		    server_parameters = EXCLUDED.server_parameters, enabled = EXCLUDED.enabled,
		    updated_at = NOW()
		RETURNING created_at, updated_at`

	err = s.db.QueryRowContext(ctx, query, u.ID, u.Network, string(u.Format), paramsJSON, u.Enabled).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert ad unit: %w", err)
	}
	return nil
}

// Disable turns an ad unit off without deleting it
func (s *AdUnitStore) Disable(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE ad_units SET enabled = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to disable ad unit: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("ad unit not found: %s", id)
	}
	return nil
}

// NewDBConnection creates a new database connection
func NewDBConnection(host, port, user, password, dbname, sslmode string) (*sql.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Ad-unit lookups are small and read-mostly
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
