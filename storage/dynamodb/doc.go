// Package dynamodb has a storage adapter that uses AWS DynamoDB tables.
//
// The session table is expected to have the following structure:
//
//	Hash Key: name="id" type="S"
//	Sort Key: none
//	Global Secondary Index: name="user_id-index" hash key name="user_id" type="S"
//	Time to Live Attribute: name="expiration_time"
//
// The user table is expected to have the following structure:
//
//	Hash Key: name="id" type="S"
//	Sort Key: none
//
// Provider.CreateTables creates both tables.
package dynamodb
