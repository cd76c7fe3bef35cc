package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"greeter/internal/types"
)

// GetUser fetches a user record by id. Returns types.ErrUserNotFound when the
// record does not exist.
func (st *Store) GetUser(ctx context.Context, userID string) (*types.User, error) {
	out, err := st.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(st.table),
		Key:       st.userKey(userID),
	})
	if err != nil {
		return nil, fmt.Errorf("store: get user %s: %w", userID, err)
	}
	if len(out.Item) == 0 {
		return nil, types.ErrUserNotFound
	}

	var u types.User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("store: unmarshal user %s: %w", userID, err)
	}
	if u.UserID == "" {
		u.UserID = UserIDFromPK(strAttr(out.Item, "PK"))
	}
	return &u, nil
}

// PutUser writes a user record, overwriting any existing one.
func (st *Store) PutUser(ctx context.Context, u *types.User, now time.Time) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return fmt.Errorf("store: marshal user %s: %w", u.UserID, err)
	}
	item["PK"] = s(UserPK(u.UserID))
	item["SK"] = s(metadataSK)

	if _, err := st.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(st.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("store: put user %s: %w", u.UserID, err)
	}
	return nil
}
