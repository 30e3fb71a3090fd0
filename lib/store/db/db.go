// Package db implements the opening and graceful closing of database connections.
package db

import (
	"fmt"

	"github.com/tarancss/capgw/lib/store"
	"github.com/tarancss/capgw/lib/store/mongo"
	"github.com/tarancss/capgw/lib/store/postgres"
	"github.com/tarancss/capgw/lib/store/redis"
)

const (
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
	REDIS    string = "redis"
)

// New returns a new database connection according to the options (database type).
func New(options, connection string) (store.DB, error) {
	switch options {
	case MONGODB:
		return mongo.New(connection)
	case POSTGRES:
		return postgres.New(connection)
	case REDIS:
		return redis.New(connection)
	}

	return nil, fmt.Errorf("db: unknown database type %q", options)
}

// Close gracefully closes the database connection.
func Close(options string, dh store.DB) error {
	switch options {
	case MONGODB:
		return dh.(*mongo.Mongo).CloseMongo()
	case POSTGRES:
		return dh.(*postgres.Postgres).ClosePostgres()
	case REDIS:
		return dh.(*redis.Redis).CloseRedis()
	}

	return nil
}
