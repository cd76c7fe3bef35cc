package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"greeter/internal/types"
)

// GetEvent fetches an event record. Returns types.ErrEventNotFound when the
// record does not exist.
func (st *Store) GetEvent(ctx context.Context, userID string, eventType types.EventType) (*types.Event, error) {
	out, err := st.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(st.table),
		Key:       st.eventKey(userID, eventType),
	})
	if err != nil {
		return nil, fmt.Errorf("store: get event %s/%s: %w", userID, eventType, err)
	}
	if len(out.Item) == 0 {
		return nil, types.ErrEventNotFound
	}

	return eventFromItem(out.Item), nil
}

// ClaimResult is the outcome of a ClaimForYear attempt.
type ClaimResult string

const (
	ClaimAcquired ClaimResult = "claimed"
	ClaimLostRace ClaimResult = "lost-race"
)

// ClaimForYear atomically transitions an event into the sending state for the
// given year. In the same conditional write it advances notify_utc to the
// next year's instant and records last_sent_year = currentYear, so a
// successful claim simultaneously removes the event from the due index window
// and fences out concurrent claimers.
//
// The condition requires that:
//   - the stored last_sent_year still equals the value the caller observed
//     (absent counts as zero), and
//   - the record is not already in sending or completed state.
//
// A conditional check failure is reported as (ClaimLostRace, nil): another
// worker owns this delivery. Any other error is a transient store failure.
//
// Stale failure attributes from a prior attempt are removed in the same write.
func (st *Store) ClaimForYear(
	ctx context.Context,
	userID string,
	eventType types.EventType,
	currentLastSentYear int,
	currentYear int,
	newNotifyUTC time.Time,
	now time.Time,
) (ClaimResult, error) {
	cond := "(last_sent_year = :cur OR (attribute_not_exists(last_sent_year) AND :cur = :zero))" +
		" AND (attribute_not_exists(sending_status) OR NOT (sending_status IN (:sending, :completed)))"

	update := "SET sending_status = :sending, sending_attempted_at = :now, " +
		"last_sent_year = :year, notify_utc = :notify, updated_at = :now " +
		"REMOVE failure_reason, marked_failed_at"

	_, err := st.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(st.table),
		Key:                 st.eventKey(userID, eventType),
		ConditionExpression: aws.String(cond),
		UpdateExpression:    aws.String(update),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":cur":       n(currentLastSentYear),
			":zero":      n(0),
			":year":      n(currentYear),
			":sending":   s(string(types.StatusSending)),
			":completed": s(string(types.StatusCompleted)),
			":notify":    s(FormatNotifyUTC(newNotifyUTC)),
			":now":       s(now.UTC().Format(timestampLayout)),
		},
	})
	if err != nil {
		var condFailed *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return ClaimLostRace, nil
		}
		return "", fmt.Errorf("store: claim event %s/%s for %d: %w", userID, eventType, currentYear, err)
	}

	return ClaimAcquired, nil
}

// MarkCompleted records a successful delivery: status, delivery proof, and
// completion timestamps. The write is unconditional; completion marks are
// semantically idempotent.
func (st *Store) MarkCompleted(ctx context.Context, userID string, eventType types.EventType, responseCode int, now time.Time) error {
	update := "SET sending_status = :completed, sending_completed_at = :now, " +
		"webhook_response_code = :code, webhook_delivered_at = :now, updated_at = :now " +
		"REMOVE failure_reason, marked_failed_at"

	_, err := st.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(st.table),
		Key:              st.eventKey(userID, eventType),
		UpdateExpression: aws.String(update),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":completed": s(string(types.StatusCompleted)),
			":code":      n(responseCode),
			":now":       s(now.UTC().Format(timestampLayout)),
		},
	})
	if err != nil {
		return fmt.Errorf("store: mark completed %s/%s: %w", userID, eventType, err)
	}
	return nil
}

// MarkFailed records a delivery failure with a reason. The write is
// unconditional; it is also used to unstick events left in sending state by a
// dead worker, making them eligible for re-claim.
func (st *Store) MarkFailed(ctx context.Context, userID string, eventType types.EventType, reason string, now time.Time) error {
	update := "SET sending_status = :failed, marked_failed_at = :now, " +
		"failure_reason = :reason, updated_at = :now"

	_, err := st.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(st.table),
		Key:              st.eventKey(userID, eventType),
		UpdateExpression: aws.String(update),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":failed": s(string(types.StatusFailed)),
			":reason": s(reason),
			":now":    s(now.UTC().Format(timestampLayout)),
		},
	})
	if err != nil {
		return fmt.Errorf("store: mark failed %s/%s: %w", userID, eventType, err)
	}
	return nil
}

// batchWriteLimit is DynamoDB's maximum request count per BatchWriteItem.
const batchWriteLimit = 25

// BatchPutEvents writes event records in chunks of the BatchWriteItem limit.
// Unprocessed items are retried once; remaining leftovers are an error.
func (st *Store) BatchPutEvents(ctx context.Context, events []*types.Event, now time.Time) error {
	var requests []ddbtypes.WriteRequest
	for _, e := range events {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.UpdatedAt = now
		requests = append(requests, ddbtypes.WriteRequest{
			PutRequest: &ddbtypes.PutRequest{Item: eventToItem(e)},
		})
	}
	return st.batchWrite(ctx, requests)
}

// BatchDeleteEvents deletes event records in chunks of the BatchWriteItem limit.
func (st *Store) BatchDeleteEvents(ctx context.Context, userID string, eventTypes []types.EventType) error {
	var requests []ddbtypes.WriteRequest
	for _, et := range eventTypes {
		requests = append(requests, ddbtypes.WriteRequest{
			DeleteRequest: &ddbtypes.DeleteRequest{Key: st.eventKey(userID, et)},
		})
	}
	return st.batchWrite(ctx, requests)
}

// batchWrite dispatches write requests in chunks, retrying unprocessed items
// one time per chunk.
func (st *Store) batchWrite(ctx context.Context, requests []ddbtypes.WriteRequest) error {
	for start := 0; start < len(requests); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(requests) {
			end = len(requests)
		}

		pending := requests[start:end]
		for attempt := 0; attempt < 2 && len(pending) > 0; attempt++ {
			out, err := st.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]ddbtypes.WriteRequest{st.table: pending},
			})
			if err != nil {
				return fmt.Errorf("store: batch write: %w", err)
			}
			pending = out.UnprocessedItems[st.table]
		}
		if len(pending) > 0 {
			return fmt.Errorf("store: batch write left %d unprocessed items", len(pending))
		}
	}
	return nil
}

// eventToItem flattens an Event record into a DynamoDB item, omitting unset
// optional attributes and stamping the GSI1 projection keys.
func eventToItem(e *types.Event) map[string]ddbtypes.AttributeValue {
	item := map[string]ddbtypes.AttributeValue{
		"PK":                s(UserPK(e.UserID)),
		"SK":                s(EventSK(e.Type)),
		"GSI1PK":            s(eventIndexPartition),
		"user_id":           s(e.UserID),
		"event_type":        s(string(e.Type)),
		"date":              s(e.Date),
		"notify_local_time": s(e.NotifyLocalTime),
		"notify_utc":        s(FormatNotifyUTC(e.NotifyUTC)),
		"created_at":        s(e.CreatedAt.UTC().Format(timestampLayout)),
		"updated_at":        s(e.UpdatedAt.UTC().Format(timestampLayout)),
	}

	if e.Label != "" {
		item["label"] = s(e.Label)
	}
	if e.LastSentYear != 0 {
		item["last_sent_year"] = n(e.LastSentYear)
	}
	if e.SendingStatus != "" {
		item["sending_status"] = s(string(e.SendingStatus))
	}
	if e.SendingAttemptedAt != nil {
		item["sending_attempted_at"] = s(e.SendingAttemptedAt.UTC().Format(timestampLayout))
	}
	if e.SendingCompletedAt != nil {
		item["sending_completed_at"] = s(e.SendingCompletedAt.UTC().Format(timestampLayout))
	}
	if e.MarkedFailedAt != nil {
		item["marked_failed_at"] = s(e.MarkedFailedAt.UTC().Format(timestampLayout))
	}
	if e.FailureReason != "" {
		item["failure_reason"] = s(e.FailureReason)
	}
	if e.WebhookResponseCode != 0 {
		item["webhook_response_code"] = n(e.WebhookResponseCode)
	}
	if e.WebhookDeliveredAt != nil {
		item["webhook_delivered_at"] = s(e.WebhookDeliveredAt.UTC().Format(timestampLayout))
	}

	return item
}

// eventFromItem converts a DynamoDB item into an Event record.
func eventFromItem(item map[string]ddbtypes.AttributeValue) *types.Event {
	e := &types.Event{
		UserID:          strAttr(item, "user_id"),
		Type:            types.EventType(strAttr(item, "event_type")),
		Date:            strAttr(item, "date"),
		NotifyLocalTime: strAttr(item, "notify_local_time"),
		Label:           strAttr(item, "label"),
		LastSentYear:    intAttr(item, "last_sent_year"),
		SendingStatus:   types.SendingStatus(strAttr(item, "sending_status")),
		FailureReason:   strAttr(item, "failure_reason"),
	}

	if e.UserID == "" {
		e.UserID = UserIDFromPK(strAttr(item, "PK"))
	}
	if e.Type == "" {
		e.Type = EventTypeFromSK(strAttr(item, "SK"))
	}

	if raw := strAttr(item, "notify_utc"); raw != "" {
		if t, err := ParseNotifyUTC(raw); err == nil {
			e.NotifyUTC = t
		}
	}

	e.SendingAttemptedAt = timeAttr(item, "sending_attempted_at")
	e.SendingCompletedAt = timeAttr(item, "sending_completed_at")
	e.MarkedFailedAt = timeAttr(item, "marked_failed_at")
	e.WebhookDeliveredAt = timeAttr(item, "webhook_delivered_at")
	e.WebhookResponseCode = intAttr(item, "webhook_response_code")

	if t := timeAttr(item, "created_at"); t != nil {
		e.CreatedAt = *t
	}
	if t := timeAttr(item, "updated_at"); t != nil {
		e.UpdatedAt = *t
	}

	return e
}
