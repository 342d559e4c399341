package dynamodb

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/jjeffery/errors"
	"github.com/jjeffery/surrealsessions/storage"
)

const (
	// userIndexName is the name of the global secondary index on user_id.
	userIndexName = "user_id-index"

	// maxBatchSize is the maximum number of requests in a BatchWriteItem call.
	maxBatchSize = 25
)

// sessionItem represents a session in the DynamoDB session table
type sessionItem[S any] struct {
	ID             string `dynamodbav:"id"`
	UserID         string `dynamodbav:"user_id"`
	ExpiresAt      string `dynamodbav:"expires_at"`      // RFC3339 with nanoseconds
	ExpirationTime int64  `dynamodbav:"expiration_time"` // unix seconds, for TTL
	Attributes     S      `dynamodbav:"attributes"`
}

// userItem represents a user in the DynamoDB user table
type userItem[U any] struct {
	ID         string `dynamodbav:"id"`
	Attributes U      `dynamodbav:"attributes"`
}

// Provider provides storage for sessions using AWS DynamoDB tables.
// It implements the storage.Adapter interface.
//
// The structure of the DynamoDB tables is described in the package
// comment.
type Provider[S, U any] struct {
	dynamodb     dynamodbiface.DynamoDBAPI
	sessionTable string
	userTable    string
}

var (
	// ensure Provider implements storage.Adapter
	_ storage.Adapter[map[string]any, map[string]any] = (*Provider[map[string]any, map[string]any])(nil)
)

// New creates a new DynamoDB Provider given the AWS handle and the table names.
func New[S, U any](dynamodb dynamodbiface.DynamoDBAPI, sessionTable, userTable string) *Provider[S, U] {
	return &Provider[S, U]{
		dynamodb:     dynamodb,
		sessionTable: sessionTable,
		userTable:    userTable,
	}
}

// CreateTables creates the session and user tables, and waits for them to
// become active.
func (db *Provider[S, U]) CreateTables(ctx context.Context, readCapacityUnits, writeCapacityUnits int64) error {
	errors := errors.With("sessionTable", db.sessionTable, "userTable", db.userTable)
	throughput := &dynamodb.ProvisionedThroughput{
		ReadCapacityUnits:  aws.Int64(readCapacityUnits),
		WriteCapacityUnits: aws.Int64(writeCapacityUnits),
	}
	_, err := db.dynamodb.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("id"),
				AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
			},
			{
				AttributeName: aws.String("user_id"),
				AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("id"),
				KeyType:       aws.String(dynamodb.KeyTypeHash),
			},
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			{
				IndexName: aws.String(userIndexName),
				KeySchema: []*dynamodb.KeySchemaElement{
					{
						AttributeName: aws.String("user_id"),
						KeyType:       aws.String(dynamodb.KeyTypeHash),
					},
				},
				Projection: &dynamodb.Projection{
					ProjectionType: aws.String(dynamodb.ProjectionTypeAll),
				},
				ProvisionedThroughput: throughput,
			},
		},
		ProvisionedThroughput: throughput,
		TableName:             aws.String(db.sessionTable),
	})
	if err != nil {
		return errors.Wrap(err, "unable to create session table")
	}

	_, err = db.dynamodb.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("id"),
				AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("id"),
				KeyType:       aws.String(dynamodb.KeyTypeHash),
			},
		},
		ProvisionedThroughput: throughput,
		TableName:             aws.String(db.userTable),
	})
	if err != nil {
		return errors.Wrap(err, "unable to create user table")
	}

	for _, table := range []string{db.sessionTable, db.userTable} {
		err := db.dynamodb.WaitUntilTableExistsWithContext(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(table),
		})
		if err != nil {
			return errors.Wrap(err, "table did not become active").With("table", table)
		}
	}

	_, err = db.dynamodb.UpdateTimeToLiveWithContext(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(db.sessionTable),
		TimeToLiveSpecification: &dynamodb.TimeToLiveSpecification{
			AttributeName: aws.String("expiration_time"),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		return errors.Wrap(err, "unable to set time to live")
	}

	return nil
}

// DropTables deletes the session and user tables.
func (db *Provider[S, U]) DropTables(ctx context.Context) error {
	for _, table := range []string{db.sessionTable, db.userTable} {
		_, err := db.dynamodb.DeleteTableWithContext(ctx, &dynamodb.DeleteTableInput{
			TableName: aws.String(table),
		})
		if err != nil {
			if hasErrorCode(err, dynamodb.ErrCodeResourceNotFoundException) {
				// table not found is not considered an error
				continue
			}
			return errors.Wrap(err, "unable to delete dynamodb table").With("table", table)
		}
		err = db.dynamodb.WaitUntilTableNotExistsWithContext(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(table),
		})
		if err != nil {
			return errors.Wrap(err, "table was not deleted").With("table", table)
		}
	}
	return nil
}

// PutUser creates or replaces a user. Users are not managed by the
// storage.Adapter interface, so applications and tests use this to create them.
func (db *Provider[S, U]) PutUser(ctx context.Context, user *storage.User[U]) error {
	errors := errors.With("user", user.ID, "table", db.userTable)
	item, err := dynamodbattribute.MarshalMap(&userItem[U]{
		ID:         user.ID,
		Attributes: user.Attributes,
	})
	if err != nil {
		return errors.Wrap(err, "failed to convert to dynamodb attribute value")
	}
	input := &dynamodb.PutItemInput{
		Item:      item,
		TableName: aws.String(db.userTable),
	}
	if _, err := db.dynamodb.PutItemWithContext(ctx, input); err != nil {
		return errors.Wrap(err, "unable to save user in dynamodb")
	}
	return nil
}

// DeleteSession implements the storage.Adapter interface.
func (db *Provider[S, U]) DeleteSession(ctx context.Context, sessionID string) error {
	errors := errors.With("session", sessionID, "table", db.sessionTable)
	input := &dynamodb.DeleteItemInput{
		Key:       idKey(sessionID),
		TableName: aws.String(db.sessionTable),
	}
	if _, err := db.dynamodb.DeleteItemWithContext(ctx, input); err != nil {
		return errors.Wrap(err, "unable to delete session")
	}
	return nil
}

// DeleteUserSessions implements the storage.Adapter interface.
func (db *Provider[S, U]) DeleteUserSessions(ctx context.Context, userID string) error {
	errors := errors.With("user", userID, "table", db.sessionTable)
	var ids []string
	input := db.userQuery(userID)
	input.ProjectionExpression = aws.String("id")
	err := db.dynamodb.QueryPagesWithContext(ctx, input, func(page *dynamodb.QueryOutput, lastPage bool) bool {
		for _, item := range page.Items {
			if id := item["id"]; id != nil && id.S != nil {
				ids = append(ids, *id.S)
			}
		}
		return true
	})
	if err != nil {
		return errors.Wrap(err, "unable to query user sessions")
	}
	if err := db.deleteSessions(ctx, ids); err != nil {
		return errors.Wrap(err, "unable to delete user sessions")
	}
	return nil
}

// GetSessionAndUser implements the storage.Adapter interface. The session and
// user are read with two requests.
func (db *Provider[S, U]) GetSessionAndUser(ctx context.Context, sessionID string) (*storage.Session[S], *storage.User[U], error) {
	errors := errors.With("session", sessionID, "table", db.sessionTable)
	output, err := db.dynamodb.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(db.sessionTable),
		Key:            idKey(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot get session")
	}
	if len(output.Item) == 0 {
		// not found
		return nil, nil, nil
	}
	session, err := db.toSession(output.Item)
	if err != nil {
		return nil, nil, err
	}

	output, err = db.dynamodb.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(db.userTable),
		Key:            idKey(session.UserID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot get user").With("user", session.UserID)
	}
	if len(output.Item) == 0 {
		return session, nil, nil
	}
	var item userItem[U]
	if err := dynamodbattribute.UnmarshalMap(output.Item, &item); err != nil {
		return nil, nil, errors.Wrap(err, "unable to unmarshal user").With("user", session.UserID)
	}
	user := &storage.User[U]{
		ID:         item.ID,
		Attributes: item.Attributes,
	}
	return session, user, nil
}

// GetUserSessions implements the storage.Adapter interface. Sessions are read
// from a global secondary index, so recent changes may not be visible.
func (db *Provider[S, U]) GetUserSessions(ctx context.Context, userID string) ([]*storage.Session[S], error) {
	errors := errors.With("user", userID, "table", db.sessionTable)
	sessions := make([]*storage.Session[S], 0)
	var convErr error
	err := db.dynamodb.QueryPagesWithContext(ctx, db.userQuery(userID), func(page *dynamodb.QueryOutput, lastPage bool) bool {
		for _, item := range page.Items {
			session, err := db.toSession(item)
			if err != nil {
				convErr = err
				return false
			}
			sessions = append(sessions, session)
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to query user sessions")
	}
	if convErr != nil {
		return nil, convErr
	}
	return sessions, nil
}

// SetSession implements the storage.Adapter interface.
func (db *Provider[S, U]) SetSession(ctx context.Context, session *storage.Session[S]) error {
	errors := errors.With("session", session.ID, "user", session.UserID, "table", db.sessionTable)
	item, err := dynamodbattribute.MarshalMap(&sessionItem[S]{
		ID:             session.ID,
		UserID:         session.UserID,
		ExpiresAt:      formatTime(session.ExpiresAt),
		ExpirationTime: session.ExpiresAt.Unix(),
		Attributes:     session.Attributes,
	})
	if err != nil {
		return errors.Wrap(err, "failed to convert to dynamodb attribute value")
	}
	input := &dynamodb.PutItemInput{
		Item:      item,
		TableName: aws.String(db.sessionTable),
	}
	if _, err := db.dynamodb.PutItemWithContext(ctx, input); err != nil {
		return errors.Wrap(err, "unable to save session in dynamodb")
	}
	return nil
}

// UpdateSessionExpiration implements the storage.Adapter interface. It does
// nothing if the session does not exist.
func (db *Provider[S, U]) UpdateSessionExpiration(ctx context.Context, sessionID string, expiresAt time.Time) error {
	errors := errors.With("session", sessionID, "table", db.sessionTable)
	input := &dynamodb.UpdateItemInput{
		TableName:           aws.String(db.sessionTable),
		Key:                 idKey(sessionID),
		ConditionExpression: aws.String("attribute_exists(#id)"),
		UpdateExpression:    aws.String("SET #expires_at = :expires_at, #expiration_time = :expiration_time"),
		ExpressionAttributeNames: map[string]*string{
			"#id":              aws.String("id"),
			"#expires_at":      aws.String("expires_at"),
			"#expiration_time": aws.String("expiration_time"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":expires_at":      {S: aws.String(formatTime(expiresAt))},
			":expiration_time": {N: aws.String(strconv.FormatInt(expiresAt.Unix(), 10))},
		},
	}
	if _, err := db.dynamodb.UpdateItemWithContext(ctx, input); err != nil {
		if hasErrorCode(err, dynamodb.ErrCodeConditionalCheckFailedException) {
			// no such session
			return nil
		}
		return errors.Wrap(err, "unable to update session expiration")
	}
	return nil
}

// DeleteExpiredSessions implements the storage.Adapter interface. The table's
// time to live setting also removes expired sessions, but DynamoDB can take
// some time to do so.
func (db *Provider[S, U]) DeleteExpiredSessions(ctx context.Context) error {
	errors := errors.With("table", db.sessionTable)
	var ids []string
	input := &dynamodb.ScanInput{
		TableName:            aws.String(db.sessionTable),
		FilterExpression:     aws.String("#expiration_time < :now"),
		ProjectionExpression: aws.String("id"),
		ExpressionAttributeNames: map[string]*string{
			"#expiration_time": aws.String("expiration_time"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":now": {N: aws.String(strconv.FormatInt(time.Now().Unix(), 10))},
		},
	}
	err := db.dynamodb.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		for _, item := range page.Items {
			if id := item["id"]; id != nil && id.S != nil {
				ids = append(ids, *id.S)
			}
		}
		return true
	})
	if err != nil {
		return errors.Wrap(err, "unable to scan for expired sessions")
	}
	if err := db.deleteSessions(ctx, ids); err != nil {
		return errors.Wrap(err, "unable to delete expired sessions")
	}
	return nil
}

func (db *Provider[S, U]) userQuery(userID string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(db.sessionTable),
		IndexName:              aws.String(userIndexName),
		KeyConditionExpression: aws.String("#user_id = :user_id"),
		ExpressionAttributeNames: map[string]*string{
			"#user_id": aws.String("user_id"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":user_id": {S: aws.String(userID)},
		},
	}
}

// deleteSessions deletes sessions in batches, resubmitting any requests
// that DynamoDB reports as unprocessed.
func (db *Provider[S, U]) deleteSessions(ctx context.Context, ids []string) error {
	for len(ids) > 0 {
		n := len(ids)
		if n > maxBatchSize {
			n = maxBatchSize
		}
		requests := make([]*dynamodb.WriteRequest, 0, n)
		for _, id := range ids[:n] {
			requests = append(requests, &dynamodb.WriteRequest{
				DeleteRequest: &dynamodb.DeleteRequest{Key: idKey(id)},
			})
		}
		ids = ids[n:]

		pending := map[string][]*dynamodb.WriteRequest{db.sessionTable: requests}
		for len(pending) > 0 {
			output, err := db.dynamodb.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: pending,
			})
			if err != nil {
				return errors.Wrap(err, "batch write failed")
			}
			pending = output.UnprocessedItems
		}
	}
	return nil
}

func (db *Provider[S, U]) toSession(item map[string]*dynamodb.AttributeValue) (*storage.Session[S], error) {
	var rec sessionItem[S]
	if err := dynamodbattribute.UnmarshalMap(item, &rec); err != nil {
		return nil, errors.Wrap(err, "unable to unmarshal session")
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, rec.ExpiresAt)
	if err != nil {
		return nil, errors.Wrap(err, "invalid expires_at").With("session", rec.ID)
	}
	return &storage.Session[S]{
		ID:         rec.ID,
		UserID:     rec.UserID,
		ExpiresAt:  expiresAt,
		Attributes: rec.Attributes,
	}, nil
}

func idKey(id string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"id": {
			S: aws.String(id),
		},
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func hasErrorCode(err error, code string) bool {
	if coder, ok := err.(interface{ Code() string }); ok {
		return coder.Code() == code
	}
	return false
}
