package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greeter/internal/types"
)

// --- Mock SQS client ---

type mockSQS struct {
	sendIn     []*sqs.SendMessageInput
	sendErr    error
	receiveIn  []*sqs.ReceiveMessageInput
	receiveOut *sqs.ReceiveMessageOutput
	deleteIn   []*sqs.DeleteMessageInput
	deleteErr  error
	attrsOut   *sqs.GetQueueAttributesOutput
	attrsErr   error
}

func (m *mockSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.sendIn = append(m.sendIn, in)
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return &sqs.SendMessageOutput{}, nil
}

func (m *mockSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.receiveIn = append(m.receiveIn, in)
	if m.receiveOut != nil {
		return m.receiveOut, nil
	}
	return &sqs.ReceiveMessageOutput{}, nil
}

func (m *mockSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.deleteIn = append(m.deleteIn, in)
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	return &sqs.DeleteMessageOutput{}, nil
}

func (m *mockSQS) GetQueueUrl(_ context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	url := "https://sqs.us-east-1.amazonaws.com/123456789/" + aws.ToString(in.QueueName)
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(url)}, nil
}

func (m *mockSQS) GetQueueAttributes(_ context.Context, _ *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	if m.attrsErr != nil {
		return nil, m.attrsErr
	}
	if m.attrsOut != nil {
		return m.attrsOut, nil
	}
	return &sqs.GetQueueAttributesOutput{}, nil
}

const (
	testGreeterURL = "https://sqs.us-east-1.amazonaws.com/123456789/greeter.fifo"
	testDLQURL     = "https://sqs.us-east-1.amazonaws.com/123456789/greeter-dlq.fifo"
)

func testMessage() types.GreeterMessage {
	return types.GreeterMessage{
		ID:              "u-1",
		PK:              "USER#u-1",
		SK:              "EVENT#birthday",
		FirstName:       "Ada",
		LastName:        "Lovelace",
		Timezone:        "UTC",
		EventType:       types.EventBirthday,
		EventDate:       "1990-06-15",
		NotifyLocalTime: "09:00",
		YearNow:         2026,
	}
}

func TestNew_ResolvesQueueNames(t *testing.T) {
	mock := &mockSQS{}

	gw, err := New(context.Background(), mock, "greeter.fifo", "greeter-dlq.fifo", nil)
	require.NoError(t, err)
	assert.Equal(t, testGreeterURL, gw.greeterURL)
	assert.Equal(t, testDLQURL, gw.dlqURL)
}

func TestEnqueueGreeter_SetsGroupAndDedupKeys(t *testing.T) {
	mock := &mockSQS{}
	gw := NewWithURLs(mock, testGreeterURL, testDLQURL, nil)

	err := gw.EnqueueGreeter(context.Background(), testMessage())
	require.NoError(t, err)

	require.Len(t, mock.sendIn, 1)
	in := mock.sendIn[0]
	assert.Equal(t, testGreeterURL, *in.QueueUrl)
	assert.Equal(t, "birthday", *in.MessageGroupId)
	assert.Equal(t, "u-1-birthday-2026", *in.MessageDeduplicationId)

	var decoded types.GreeterMessage
	require.NoError(t, json.Unmarshal([]byte(*in.MessageBody), &decoded))
	assert.Equal(t, "Ada", decoded.FirstName)
	assert.Equal(t, types.EventBirthday, decoded.EventType)
}

func TestEnqueueGreeter_PropagatesSendFailure(t *testing.T) {
	mock := &mockSQS{sendErr: errors.New("throttled")}
	gw := NewWithURLs(mock, testGreeterURL, testDLQURL, nil)

	err := gw.EnqueueGreeter(context.Background(), testMessage())
	assert.Error(t, err)
}

func TestRedrive_PreservesKeys(t *testing.T) {
	mock := &mockSQS{}
	gw := NewWithURLs(mock, testGreeterURL, testDLQURL, nil)

	err := gw.Redrive(context.Background(), `{"id":"u-1"}`, "birthday", "u-1-birthday-2026")
	require.NoError(t, err)

	require.Len(t, mock.sendIn, 1)
	in := mock.sendIn[0]
	assert.Equal(t, testGreeterURL, *in.QueueUrl)
	assert.Equal(t, "birthday", *in.MessageGroupId)
	assert.Equal(t, "u-1-birthday-2026", *in.MessageDeduplicationId)
}

func TestReceiveDLQ_MapsAttributes(t *testing.T) {
	mock := &mockSQS{receiveOut: &sqs.ReceiveMessageOutput{
		Messages: []sqsTypes.Message{
			{
				MessageId:     aws.String("m-1"),
				ReceiptHandle: aws.String("rh-1"),
				Body:          aws.String(`{"id":"u-1"}`),
				Attributes: map[string]string{
					"MessageGroupId":         "birthday",
					"MessageDeduplicationId": "u-1-birthday-2026",
				},
			},
		},
	}}
	gw := NewWithURLs(mock, testGreeterURL, testDLQURL, nil)

	messages, err := gw.ReceiveDLQ(context.Background(), 10, 5)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	assert.Equal(t, "m-1", messages[0].MessageID)
	assert.Equal(t, "rh-1", messages[0].ReceiptHandle)
	assert.Equal(t, "birthday", messages[0].GroupID)
	assert.Equal(t, "u-1-birthday-2026", messages[0].DedupID)

	require.Len(t, mock.receiveIn, 1)
	assert.Equal(t, testDLQURL, *mock.receiveIn[0].QueueUrl)
	assert.Equal(t, int32(10), mock.receiveIn[0].MaxNumberOfMessages)
	assert.Equal(t, int32(5), mock.receiveIn[0].WaitTimeSeconds)
}

func TestDLQDepth(t *testing.T) {
	mock := &mockSQS{attrsOut: &sqs.GetQueueAttributesOutput{
		Attributes: map[string]string{"ApproximateNumberOfMessages": "7"},
	}}
	gw := NewWithURLs(mock, testGreeterURL, testDLQURL, nil)

	depth, err := gw.DLQDepth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, depth)
}

func TestDLQDepth_EmptyAttributes(t *testing.T) {
	mock := &mockSQS{}
	gw := NewWithURLs(mock, testGreeterURL, testDLQURL, nil)

	depth, err := gw.DLQDepth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestDeleteFromDLQ(t *testing.T) {
	mock := &mockSQS{}
	gw := NewWithURLs(mock, testGreeterURL, testDLQURL, nil)

	require.NoError(t, gw.DeleteFromDLQ(context.Background(), "rh-1"))
	require.Len(t, mock.deleteIn, 1)
	assert.Equal(t, testDLQURL, *mock.deleteIn[0].QueueUrl)
	assert.Equal(t, "rh-1", *mock.deleteIn[0].ReceiptHandle)
}
