package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"bashbook/domain"
)

// Notifier publishes list changes for downstream consumers.
type Notifier interface {
	Notify(ctx context.Context, change domain.Change) error
}

// NopNotifier drops every change.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, domain.Change) error { return nil }

type queueSender interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueueNotifier writes each change as a JSON message to an Azure queue.
type QueueNotifier struct {
	queue queueSender
}

// NewQueueNotifier connects to queueName using connStr.
func NewQueueNotifier(connStr, queueName string) (*QueueNotifier, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 30 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &QueueNotifier{queue: q}, nil
}

func (n *QueueNotifier) Notify(ctx context.Context, change domain.Change) error {
	data, err := sonic.Marshal(change)
	if err != nil {
		return err
	}
	_, err = n.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// EnsureQueue creates queueName, treating an existing queue as success.
func EnsureQueue(ctx context.Context, connStr, queueName string) error {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, nil)
	if err != nil {
		return err
	}
	if _, err := q.Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists" {
			return nil
		}
		return err
	}
	return nil
}
