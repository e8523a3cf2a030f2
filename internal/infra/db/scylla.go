package db

import (
	"fmt"
	"strings"

	"github.com/gocql/gocql"

	"github.com/acme/call-dispatch-engine/internal/config"
)

// Scylla wraps a gocql session.
type Scylla struct {
	session *gocql.Session
}

// NewScylla creates a new Scylla session for the call log keyspace.
func NewScylla(cfg config.ScyllaConfig) (*Scylla, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = ParseConsistency(cfg.Consistency)
	cluster.Timeout = cfg.Timeout
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 3}
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: create session: %w", err)
	}

	return &Scylla{session: session}, nil
}

// Session exposes the gocql session.
func (s *Scylla) Session() *gocql.Session {
	return s.session
}

// Close shuts down the session.
func (s *Scylla) Close() error {
	if s.session != nil {
		s.session.Close()
	}
	return nil
}

// ParseConsistency maps a config string to a gocql level, defaulting to quorum.
func ParseConsistency(level string) gocql.Consistency {
	switch strings.ToLower(level) {
	case "one":
		return gocql.One
	case "local_quorum":
		return gocql.LocalQuorum
	case "local_one":
		return gocql.LocalOne
	case "each_quorum":
		return gocql.EachQuorum
	default:
		return gocql.Quorum
	}
}
