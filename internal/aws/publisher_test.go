package aws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/require"
)

type recordingSQS struct {
	inputs []*sqs.SendMessageInput
}

func (r *recordingSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	r.inputs = append(r.inputs, params)
	return &sqs.SendMessageOutput{}, nil
}

func TestPublisherSendJSON(t *testing.T) {
	rec := &recordingSQS{}
	p := NewPublisher(rec, "https://sqs.local/alerts")

	err := p.SendJSON(context.Background(), map[string]string{"order_id": "o1"}, map[string]string{
		"order_id": "o1",
		"empty":    "",
	})
	require.NoError(t, err)
	require.Len(t, rec.inputs, 1)

	in := rec.inputs[0]
	require.Equal(t, "https://sqs.local/alerts", *in.QueueUrl)
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(*in.MessageBody), &body))
	require.Equal(t, "o1", body["order_id"])
	require.Contains(t, in.MessageAttributes, "order_id")
	require.NotContains(t, in.MessageAttributes, "empty")
}
