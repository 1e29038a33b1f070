package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"formaos-compliance/internal/config"
	"formaos-compliance/pkg/logger"
)

// Neo4jClient wraps the Neo4j driver
type Neo4jClient struct {
	driver neo4j.DriverWithContext
	config config.Neo4jConfig
	logger *logger.Logger
}

// NewNeo4jClient creates a new Neo4j client
func NewNeo4jClient(ctx context.Context, cfg config.Neo4jConfig, log *logger.Logger) (*Neo4jClient, error) {
	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		if cfg.MaxConnections > 0 {
			c.MaxConnectionPoolSize = cfg.MaxConnections
		}
		if cfg.MaxLifetimeMinutes > 0 {
			c.MaxConnectionLifetime = time.Duration(cfg.MaxLifetimeMinutes) * time.Minute
		}
		c.ConnectionAcquisitionTimeout = 30 * time.Second
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to Neo4j: %w", err)
	}

	client := &Neo4jClient{
		driver: driver,
		config: cfg,
		logger: log.WithComponent("neo4j"),
	}

	client.initializeSchema(ctx)

	client.logger.Info().Str("uri", cfg.URI).Msg("connected to Neo4j")

	return client, nil
}

// Close closes the Neo4j driver
func (c *Neo4jClient) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// ReadSession creates a read-only session
func (c *Neo4jClient) ReadSession(ctx context.Context) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.config.Database,
	})
}

// WriteSession creates a read-write session
func (c *Neo4jClient) WriteSession(ctx context.Context) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.config.Database,
	})
}

// ExecuteWrite executes a write transaction
func (c *Neo4jClient) ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := c.WriteSession(ctx)
	defer session.Close(ctx)

	return session.ExecuteWrite(ctx, work)
}

// ExecuteRead executes a read transaction
func (c *Neo4jClient) ExecuteRead(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := c.ReadSession(ctx)
	defer session.Close(ctx)

	return session.ExecuteRead(ctx, work)
}

// initializeSchema creates constraints and indexes; failures are logged
func (c *Neo4jClient) initializeSchema(ctx context.Context) {
	session := c.WriteSession(ctx)
	defer session.Close(ctx)

	statements := []string{
		"CREATE CONSTRAINT framework_slug IF NOT EXISTS FOR (f:Framework) REQUIRE f.slug IS UNIQUE",
		"CREATE CONSTRAINT control_key IF NOT EXISTS FOR (c:Control) REQUIRE (c.framework_slug, c.code) IS UNIQUE",
		"CREATE INDEX control_id IF NOT EXISTS FOR (c:Control) ON (c.id)",
	}

	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			c.logger.Warn().Err(err).Str("statement", stmt).Msg("failed to apply graph schema")
		}
	}

	c.logger.Debug().Msg("Neo4j schema initialized")
}

// Health checks Neo4j connectivity
func (c *Neo4jClient) Health(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}
