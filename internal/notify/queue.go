package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"orderpulse/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// CommandKind discriminates presentation commands on the queue.
type CommandKind string

const (
	CommandPresentOrder   CommandKind = "present_order"
	CommandPresentSummary CommandKind = "present_summary"
	CommandDismiss        CommandKind = "dismiss"
)

// PresentationCommand is the JSON message the presenting collaborator
// consumes. Key carries the overwrite semantics: the consumer replaces any
// existing notification under the same key.
type PresentationCommand struct {
	Kind    CommandKind `json:"kind"`
	Key     string      `json:"key"`
	TraceID string      `json:"trace_id,omitempty"`

	// Order fields, set for present_order.
	OrderID   int64  `json:"order_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Body      string `json:"body,omitempty"`
	UnitPrice string `json:"unit_price,omitempty"`

	// Count is set for present_summary.
	Count int `json:"count,omitempty"`
}

// QueuePresenter implements Presenter by publishing presentation commands to
// the collaborator's SQS queue. It owns serialization and key discipline;
// rendering belongs entirely to the consumer.
type QueuePresenter struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewQueuePresenter creates a QueuePresenter targeting the presentation queue.
func NewQueuePresenter(client SQSSender, queueURL string, logger *slog.Logger) *QueuePresenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueuePresenter{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// PresentOrder publishes the detail notification command for one order.
func (p *QueuePresenter) PresentOrder(ctx context.Context, notice types.OrderNotice) error {
	cmd := PresentationCommand{
		Kind:      CommandPresentOrder,
		Key:       notice.NotificationKey(),
		OrderID:   notice.OrderID,
		Title:     "New order received",
		Body:      fmt.Sprintf("%s — %s", notice.ProductName, notice.UnitPrice.StringFixed(2)),
		UnitPrice: notice.UnitPrice.String(),
	}
	return p.send(ctx, cmd)
}

// PresentSummary publishes the group-summary command under the reserved key.
func (p *QueuePresenter) PresentSummary(ctx context.Context, count int) error {
	cmd := PresentationCommand{
		Kind:  CommandPresentSummary,
		Key:   types.SummaryNotificationKey,
		Title: fmt.Sprintf("%d new orders", count),
		Count: count,
	}
	return p.send(ctx, cmd)
}

// Dismiss publishes a dismissal for the given notification key.
func (p *QueuePresenter) Dismiss(ctx context.Context, key string) error {
	return p.send(ctx, PresentationCommand{
		Kind: CommandDismiss,
		Key:  key,
	})
}

// send serializes the command and dispatches it to the presentation queue.
func (p *QueuePresenter) send(ctx context.Context, cmd PresentationCommand) error {
	cmd.TraceID = types.GetTraceID(ctx)
	if cmd.TraceID == "" {
		cmd.TraceID = uuid.New().String()
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"marshalling presentation command", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(cmd.Kind)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodePresenterUnavailable,
			fmt.Sprintf("publishing %s command for key %s", cmd.Kind, cmd.Key), err)
	}

	p.logger.DebugContext(ctx, "presentation command published",
		"kind", string(cmd.Kind),
		"key", cmd.Key,
	)

	return nil
}
