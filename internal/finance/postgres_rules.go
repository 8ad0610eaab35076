package finance

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"
)

// PostgresRules reads wage bands and the over-limit formula from the
// finance schema owned by the back office.
type PostgresRules struct {
	db *sql.DB
}

func NewPostgresRules(dsn string) (*PostgresRules, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresRules{db: db}, nil
}

func (p *PostgresRules) Close() error { return p.db.Close() }

func (p *PostgresRules) TierWage(ctx context.Context, ceilKm int) (float64, bool, error) {
	var wage float64
	err := p.db.QueryRowContext(ctx, `SELECT wage FROM driver_wage_tiers WHERE tier_km = $1`, ceilKm).Scan(&wage)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return wage, true, nil
}

func (p *PostgresRules) WageFormula(ctx context.Context) (string, error) {
	var formula string
	err := p.db.QueryRowContext(ctx, `SELECT formula FROM driver_wage_rules ORDER BY updated_at DESC LIMIT 1`).Scan(&formula)
	if err != nil {
		return "", err
	}
	return formula, nil
}
