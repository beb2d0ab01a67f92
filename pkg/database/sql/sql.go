// Package sql defines the relational-store adapter contract. Concrete
// drivers live in pkg/database/sql/adapters/{driver}.
package sql

import (
	"time"

	"github.com/olegeech-me/statustracker/pkg/database"
)

// SQL is the interface a relational adapter must satisfy. It mirrors
// database.DB; adapters implement SQL and are handed to database.DB-typed
// consumers directly.
type SQL = database.DB

// Config holds connection parameters common to relational adapters.
type Config struct {
	Driver string `env:"DB_DRIVER" env-default:"postgres"`

	Host     string `env:"DB_HOST" env-default:"localhost"`
	Port     string `env:"DB_PORT" env-default:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`
	SSLMode  string `env:"DB_SSLMODE" env-default:"disable"`

	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" env-default:"20"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"1h"`
}
