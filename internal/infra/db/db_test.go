package db

import (
	"testing"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"

	"github.com/acme/call-dispatch-engine/internal/config"
)

func TestDSNEscapesCredentials(t *testing.T) {
	dsn := DSN(config.PostgresConfig{
		Host: "db", Port: 5432, User: "app", Password: "p@ss/word", Database: "calls", SSLMode: "disable",
	})
	assert.Equal(t, "postgres://app:p%40ss%2Fword@db:5432/calls?sslmode=disable", dsn)
}

func TestParseConsistency(t *testing.T) {
	assert.Equal(t, gocql.LocalQuorum, ParseConsistency("LOCAL_QUORUM"))
	assert.Equal(t, gocql.One, ParseConsistency("one"))
	assert.Equal(t, gocql.Quorum, ParseConsistency(""))
}
