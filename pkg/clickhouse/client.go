package clickhouse

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"
)

type (
	// Executor is the narrow statement-execution contract the backfill
	// coordinator depends on. Failures are treated as retryable unless the
	// error is wrapped with MarkFatal.
	Executor interface {
		Execute(ctx context.Context, statement string) error
	}

	// Client represents a ClickHouse database connection.
	Client struct {
		conn        driver.Conn
		fingerprint Fingerprint
	}

	// ClientOptions contains optional settings for client creation.
	ClientOptions struct {
		// Database is the default database for the connection. It becomes
		// part of the environment fingerprint.
		Database string
	}

	fatalError struct {
		err error
	}
)

// NewClient creates a new ClickHouse client connection.
// The DSN should be in the format "host:port" (e.g., "localhost:9000").
//
// Example:
//
//	client, err := clickhouse.NewClient(ctx, "localhost:9000", clickhouse.ClientOptions{
//		Database: "analytics",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
func NewClient(ctx context.Context, dsn string, opts ClientOptions) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{dsn},
		Auth: clickhouse.Auth{
			Database: opts.Database,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open ClickHouse connection")
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to ping ClickHouse")
	}

	return &Client{
		conn:        conn,
		fingerprint: NewFingerprint(dsn, opts.Database),
	}, nil
}

// Close closes the ClickHouse connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Execute runs a single statement against the database. This satisfies the
// Executor interface consumed by the backfill coordinator.
func (c *Client) Execute(ctx context.Context, statement string) error {
	return c.conn.Exec(ctx, statement)
}

// Query runs a query and returns the rows. Used by commands that inspect
// database state (e.g. doctor's connectivity probe).
func (c *Client) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Fingerprint returns the environment fingerprint for this connection.
func (c *Client) Fingerprint() Fingerprint {
	return c.fingerprint
}

// MarkFatal wraps an executor error so the coordinator will not retry the
// chunk attempt that produced it.
func MarkFatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked fatal with MarkFatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

func (f *fatalError) Error() string { return f.err.Error() }

func (f *fatalError) Unwrap() error { return f.err }
