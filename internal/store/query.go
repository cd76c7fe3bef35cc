package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"greeter/internal/types"
)

// DuePage is one page of due event records plus the opaque cursor for the
// next page. An empty NextCursor means the index is exhausted.
type DuePage struct {
	Events     []*types.Event
	NextCursor string
}

// QueryDue returns a page of events whose notify_utc is at or before nowUTC
// and whose last delivery predates currentYear. The query runs on the GSI1
// due index; the year filter is applied server-side so already-sent events do
// not consume page slots at the client.
func (st *Store) QueryDue(ctx context.Context, nowUTC time.Time, currentYear int, pageCursor string, limit int) (*DuePage, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(st.table),
		IndexName:              aws.String(DueIndexName),
		KeyConditionExpression: aws.String("GSI1PK = :pk AND notify_utc <= :now"),
		FilterExpression:       aws.String("attribute_not_exists(last_sent_year) OR last_sent_year < :year"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":   s(eventIndexPartition),
			":now":  s(FormatNotifyUTC(nowUTC)),
			":year": n(currentYear),
		},
		Limit: aws.Int32(int32(limit)),
	}

	if pageCursor != "" {
		startKey, err := decodeCursor(pageCursor)
		if err != nil {
			return nil, err
		}
		input.ExclusiveStartKey = startKey
	}

	out, err := st.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("store: query due events: %w", err)
	}

	page := &DuePage{Events: make([]*types.Event, 0, len(out.Items))}
	for _, item := range out.Items {
		page.Events = append(page.Events, eventFromItem(item))
	}

	if len(out.LastEvaluatedKey) > 0 {
		cursor, err := encodeCursor(out.LastEvaluatedKey)
		if err != nil {
			return nil, err
		}
		page.NextCursor = cursor
	}

	return page, nil
}

// QueryByNotifyRange returns all events with notify_utc in [fromUTC, toUTC],
// following the index pagination to exhaustion. Used by the health monitor's
// missed-events check; the window is bounded (24h), so result sets stay small.
func (st *Store) QueryByNotifyRange(ctx context.Context, fromUTC, toUTC time.Time) ([]*types.Event, error) {
	var events []*types.Event
	var startKey map[string]ddbtypes.AttributeValue

	for {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(st.table),
			IndexName:              aws.String(DueIndexName),
			KeyConditionExpression: aws.String("GSI1PK = :pk AND notify_utc BETWEEN :from AND :to"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk":   s(eventIndexPartition),
				":from": s(FormatNotifyUTC(fromUTC)),
				":to":   s(FormatNotifyUTC(toUTC)),
			},
			ExclusiveStartKey: startKey,
		}

		out, err := st.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("store: query notify range: %w", err)
		}

		for _, item := range out.Items {
			events = append(events, eventFromItem(item))
		}

		if len(out.LastEvaluatedKey) == 0 {
			return events, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// QueryBySendingStatus returns all events currently in the given sending
// status. There is no index over sending_status; this is a filtered scan and
// is reserved for the health monitor, which runs infrequently.
func (st *Store) QueryBySendingStatus(ctx context.Context, status types.SendingStatus) ([]*types.Event, error) {
	var events []*types.Event
	var startKey map[string]ddbtypes.AttributeValue

	for {
		input := &dynamodb.ScanInput{
			TableName:        aws.String(st.table),
			FilterExpression: aws.String("sending_status = :status AND begins_with(SK, :evt)"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":status": s(string(status)),
				":evt":    s(eventKeyPrefix),
			},
			ExclusiveStartKey: startKey,
		}

		out, err := st.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("store: scan by sending status: %w", err)
		}

		for _, item := range out.Items {
			events = append(events, eventFromItem(item))
		}

		if len(out.LastEvaluatedKey) == 0 {
			return events, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// cursorKey is the JSON shape of an opaque page cursor. Due-index keys are
// all string attributes (table PK/SK plus the GSI1 key pair).
type cursorKey map[string]string

// encodeCursor serializes a LastEvaluatedKey into an opaque page cursor.
func encodeCursor(key map[string]ddbtypes.AttributeValue) (string, error) {
	flat := make(cursorKey, len(key))
	for name, av := range key {
		sv, ok := av.(*ddbtypes.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("store: unsupported cursor attribute %q", name)
		}
		flat[name] = sv.Value
	}

	raw, err := json.Marshal(flat)
	if err != nil {
		return "", fmt.Errorf("store: encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// decodeCursor deserializes an opaque page cursor into an ExclusiveStartKey.
func decodeCursor(cursor string) (map[string]ddbtypes.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("store: decode cursor: %w", err)
	}

	var flat cursorKey
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("store: decode cursor: %w", err)
	}

	key := make(map[string]ddbtypes.AttributeValue, len(flat))
	for name, value := range flat {
		key[name] = &ddbtypes.AttributeValueMemberS{Value: value}
	}
	return key, nil
}
