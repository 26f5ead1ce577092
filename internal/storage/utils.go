package storage

import "github.com/pkg/errors"

// InitStore opens and pings the Postgres store. Migrations are applied
// separately (phaseflow-migrate).
func InitStore(dbConnStr string) (*PostgresStore, error) {
	store, err := NewPostgresStore(dbConnStr)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}
	return store, nil
}
