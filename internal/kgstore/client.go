package kgstore

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	cfgpkg "idea2paper/internal/config"
)

// client wraps a pooled Neo4j driver, grounded on the teacher's
// Neo4jClient (internal/knowledge/neo4j_client.go): same pool sizing,
// same connectivity check at construction, same transaction-function
// helpers.
type client struct {
	driver   neo4j.DriverWithContext
	database string
}

func newClient(ctx context.Context, cfg cfgpkg.KGConfig) (*client, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *config.Config) {
			c.MaxConnectionPoolSize = 50
			c.ConnectionAcquisitionTimeout = cfg.Timeout
			c.SocketConnectTimeout = cfg.Timeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("kgstore: creating driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("kgstore: verifying connectivity: %w", err)
	}

	return &client{driver: driver, database: cfg.Database}, nil
}

func (c *client) Close(ctx context.Context) error {
	if c.driver == nil {
		return nil
	}
	return c.driver.Close(ctx)
}

func (c *client) executeRead(ctx context.Context, work neo4j.ManagedTransactionWork) (interface{}, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer func() { _ = session.Close(ctx) }()
	return session.ExecuteRead(ctx, work)
}
