package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/lms-api/pkg/config"
)

func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{Host: "db", Port: 5432, User: "lms", Password: "p@ss word", Name: "lms", SSLMode: "disable"}
	assert.Equal(t, "postgres://lms:p%40ss%20word@db:5432/lms?sslmode=disable", DSN(cfg))

	cfg.SSLMode = ""
	assert.Equal(t, "postgres://lms:p%40ss%20word@db:5432/lms", DSN(cfg))

	cfg.URL = "postgresql://u:p@managed:6543/prod?sslmode=require"
	assert.Equal(t, cfg.URL, DSN(cfg))
}
