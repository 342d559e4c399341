package surreal

import (
	"context"

	"github.com/jjeffery/errors"
	"github.com/surrealdb/surrealdb.go"
)

// Querier executes parametrized SurrealQL. The result contains one entry per
// statement, and each entry contains the rows returned by that statement.
type Querier interface {
	Query(ctx context.Context, sql string, vars map[string]any) ([][]Record, error)
}

// Options contains the information needed to connect to a SurrealDB server.
type Options struct {
	URL       string // eg "ws://localhost:8000"
	Namespace string
	Database  string
	Username  string // root or namespace user, optional
	Password  string
}

// DB is a Querier backed by a SurrealDB connection.
type DB struct {
	db *surrealdb.DB
}

var (
	// ensure DB implements Querier
	_ Querier = (*DB)(nil)
)

// Connect opens a connection to the SurrealDB server, signs in if a username
// is provided, and selects the namespace and database.
func Connect(ctx context.Context, opts Options) (*DB, error) {
	errors := errors.With("url", opts.URL, "namespace", opts.Namespace, "database", opts.Database)
	db, err := surrealdb.FromEndpointURLString(ctx, opts.URL)
	if err != nil {
		return nil, errors.Wrap(err, "cannot connect")
	}
	if opts.Username != "" {
		auth := &surrealdb.Auth{
			Username: opts.Username,
			Password: opts.Password,
		}
		if _, err := db.SignIn(ctx, auth); err != nil {
			db.Close(ctx)
			return nil, errors.Wrap(err, "cannot sign in").With("username", opts.Username)
		}
	}
	if err := db.Use(ctx, opts.Namespace, opts.Database); err != nil {
		db.Close(ctx)
		return nil, errors.Wrap(err, "cannot use namespace and database")
	}
	return &DB{db: db}, nil
}

// NewDB wraps an existing connection. The caller remains responsible for
// closing it.
func NewDB(db *surrealdb.DB) *DB {
	return &DB{db: db}
}

// Query implements the Querier interface.
func (c *DB) Query(ctx context.Context, sql string, vars map[string]any) ([][]Record, error) {
	results, err := surrealdb.Query[[]map[string]any](ctx, c.db, sql, vars)
	if err != nil {
		return nil, errors.Wrap(err, "query failed").With("query", sql)
	}
	if results == nil {
		return nil, nil
	}
	sets := make([][]Record, 0, len(*results))
	for i, res := range *results {
		if res.Status != "OK" {
			return nil, errors.New("statement failed").With(
				"query", sql,
				"statement", i,
				"status", res.Status,
			)
		}
		rows := make([]Record, 0, len(res.Result))
		for _, row := range res.Result {
			rows = append(rows, Record(row))
		}
		sets = append(sets, rows)
	}
	return sets, nil
}

// Close closes the underlying connection.
func (c *DB) Close(ctx context.Context) error {
	if err := c.db.Close(ctx); err != nil {
		return errors.Wrap(err, "cannot close connection")
	}
	return nil
}
