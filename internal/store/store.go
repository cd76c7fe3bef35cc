// Package store implements the DynamoDB gateway for user and event records.
//
// The table uses a single-table layout co-locating each user's records under
// one partition:
//
//	PK = "USER#<user_id>"
//	SK = "METADATA"            (user record)
//	SK = "EVENT#<event_type>"  (event records)
//
// Event items additionally carry GSI1PK = "EVENT" so that the GSI1 index,
// keyed by (GSI1PK, notify_utc), yields a global time-ordered view of all
// events. That index is the sole access path for the scheduler sweep and the
// health monitor's missed-events check.
//
// Undefined optional attributes are omitted on write, never persisted as
// NULL or zero values.
package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"greeter/internal/types"
)

// Key construction constants.
const (
	userKeyPrefix  = "USER#"
	eventKeyPrefix = "EVENT#"
	metadataSK     = "METADATA"

	// eventIndexPartition is the constant GSI1 partition value carried by
	// every event item.
	eventIndexPartition = "EVENT"

	// DueIndexName is the GSI over (GSI1PK, notify_utc).
	DueIndexName = "GSI1"
)

// timestampLayout is the storage format for audit and lifecycle timestamps.
// notify_utc uses types.NotifyTimeLayout so the GSI range key sorts
// chronologically with millisecond precision.
const timestampLayout = time.RFC3339

// DynamoDBAPI abstracts the DynamoDB operations the gateway uses.
// Production code uses the *dynamodb.Client from aws-sdk-go-v2.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Store is the typed gateway over the users table.
type Store struct {
	client DynamoDBAPI
	table  string
}

// New creates a Store over the given table.
func New(client DynamoDBAPI, table string) *Store {
	return &Store{client: client, table: table}
}

// UserPK builds the partition key for a user's record group.
func UserPK(userID string) string {
	return userKeyPrefix + userID
}

// EventSK builds the sort key for an event record.
func EventSK(eventType types.EventType) string {
	return eventKeyPrefix + string(eventType)
}

// UserIDFromPK recovers the user id from a partition key value.
func UserIDFromPK(pk string) string {
	if len(pk) > len(userKeyPrefix) && pk[:len(userKeyPrefix)] == userKeyPrefix {
		return pk[len(userKeyPrefix):]
	}
	return pk
}

// EventTypeFromSK recovers the event type from a sort key value.
func EventTypeFromSK(sk string) types.EventType {
	if len(sk) > len(eventKeyPrefix) && sk[:len(eventKeyPrefix)] == eventKeyPrefix {
		return types.EventType(sk[len(eventKeyPrefix):])
	}
	return types.EventType(sk)
}

// eventKey builds the primary key attribute map for an event item.
func (s *Store) eventKey(userID string, eventType types.EventType) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"PK": &ddbtypes.AttributeValueMemberS{Value: UserPK(userID)},
		"SK": &ddbtypes.AttributeValueMemberS{Value: EventSK(eventType)},
	}
}

// userKey builds the primary key attribute map for a user item.
func (s *Store) userKey(userID string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"PK": &ddbtypes.AttributeValueMemberS{Value: UserPK(userID)},
		"SK": &ddbtypes.AttributeValueMemberS{Value: metadataSK},
	}
}

// --- attribute helpers ---

// strAttr reads a string attribute, returning "" when absent or non-string.
func strAttr(item map[string]ddbtypes.AttributeValue, name string) string {
	if av, ok := item[name].(*ddbtypes.AttributeValueMemberS); ok {
		return av.Value
	}
	return ""
}

// intAttr reads a numeric attribute, returning 0 when absent or unparseable.
func intAttr(item map[string]ddbtypes.AttributeValue, name string) int {
	if av, ok := item[name].(*ddbtypes.AttributeValueMemberN); ok {
		if n, err := strconv.Atoi(av.Value); err == nil {
			return n
		}
	}
	return 0
}

// timeAttr reads an RFC3339 timestamp attribute, returning nil when absent.
func timeAttr(item map[string]ddbtypes.AttributeValue, name string) *time.Time {
	raw := strAttr(item, name)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(timestampLayout, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// s wraps a string value.
func s(v string) ddbtypes.AttributeValue {
	return &ddbtypes.AttributeValueMemberS{Value: v}
}

// n wraps a numeric value.
func n(v int) ddbtypes.AttributeValue {
	return &ddbtypes.AttributeValueMemberN{Value: strconv.Itoa(v)}
}

// FormatNotifyUTC renders a notify_utc value in its canonical wire form.
func FormatNotifyUTC(t time.Time) string {
	return t.UTC().Format(types.NotifyTimeLayout)
}

// ParseNotifyUTC parses a canonical notify_utc value.
func ParseNotifyUTC(v string) (time.Time, error) {
	t, err := time.Parse(types.NotifyTimeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: invalid notify_utc %q: %w", v, err)
	}
	return t.UTC(), nil
}
