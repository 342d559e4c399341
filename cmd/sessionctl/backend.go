package main

import (
	"context"
	"database/sql"

	"github.com/aws/aws-sdk-go/aws"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/jjeffery/errors"
	"github.com/jjeffery/surrealsessions/internal/config"
	"github.com/jjeffery/surrealsessions/storage"
	dynamodbstorage "github.com/jjeffery/surrealsessions/storage/dynamodb"
	"github.com/jjeffery/surrealsessions/storage/postgres"
	"github.com/jjeffery/surrealsessions/storage/surreal"
	_ "github.com/lib/pq"
)

// attributes are kept as maps, so sessionctl works with any application's schema.
type attributes = map[string]any

type adapter = storage.Adapter[attributes, attributes]

// backend is an opened storage backend.
type backend struct {
	adapter adapter

	// setup creates the backend's tables, and is nil if the backend
	// does not need them created.
	setup func(ctx context.Context) error

	close func(ctx context.Context) error
}

var errUnknownBackend = errors.New("unknown backend")

// openFunc opens the backend named in the configuration.
type openFunc func(ctx context.Context, cfg config.Config) (*backend, error)

// Default table names for DynamoDB, which has no defaults of its own.
const (
	defaultDynamoDBSessionTable = "sessions"
	defaultDynamoDBUserTable    = "users"
)

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	errors := errors.With("backend", cfg.Backend)
	switch cfg.Backend {
	case config.BackendSurrealDB:
		db, err := surreal.Connect(ctx, surreal.Options{
			URL:       cfg.SurrealDB.URL,
			Namespace: cfg.SurrealDB.Namespace,
			Database:  cfg.SurrealDB.Database,
			Username:  cfg.SurrealDB.Username,
			Password:  cfg.SurrealDB.Password,
		})
		if err != nil {
			return nil, err
		}
		provider := surreal.New[attributes, attributes](db, surreal.Tables{
			SessionTable: cfg.Tables.Session,
			UserTable:    cfg.Tables.User,
		})
		return &backend{
			adapter: provider,
			close:   db.Close,
		}, nil

	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "cannot open database")
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "cannot connect to database")
		}
		provider := postgres.New[attributes, attributes](db, cfg.Tables.Session, cfg.Tables.User)
		return &backend{
			adapter: provider,
			setup:   provider.CreateTables,
			close: func(context.Context) error {
				return db.Close()
			},
		}, nil

	case config.BackendDynamoDB:
		awsConfig := &aws.Config{
			Region: aws.String(cfg.DynamoDB.Region),
		}
		if cfg.DynamoDB.Endpoint != "" {
			awsConfig.Endpoint = aws.String(cfg.DynamoDB.Endpoint)
		}
		sess, err := awssession.NewSession(awsConfig)
		if err != nil {
			return nil, errors.Wrap(err, "cannot create aws session")
		}
		sessionTable, userTable := cfg.Tables.Session, cfg.Tables.User
		if sessionTable == "" {
			sessionTable = defaultDynamoDBSessionTable
		}
		if userTable == "" {
			userTable = defaultDynamoDBUserTable
		}
		provider := dynamodbstorage.New[attributes, attributes](dynamodb.New(sess), sessionTable, userTable)
		return &backend{
			adapter: provider,
			setup: func(ctx context.Context) error {
				return provider.CreateTables(ctx, 5, 5)
			},
			close: func(context.Context) error {
				return nil
			},
		}, nil
	}
	return nil, errors.Wrap(errUnknownBackend, "cannot open backend")
}
