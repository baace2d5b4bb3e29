// Package kinesis decodes DynamoDB journal changes delivered through
// Kinesis Data Streams (or DynamoDB Streams directly) back into event
// envelopes.
package kinesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/komodo-checkout/internal/infrastructure/kafka"
	"github.com/example/komodo-checkout/internal/infrastructure/store"
	"github.com/example/komodo-checkout/internal/logging"
	"go.uber.org/zap"
)

const insertEvent = "INSERT"

var ErrMalformedImage = errors.New("malformed journal image")

// DecodeRecord decodes a Kinesis record wrapping a DynamoDB change. It
// returns nil for changes other than inserts; the journal is append only.
func DecodeRecord(record events.KinesisEventRecord) (*store.Event, error) {
	var change events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &change); err != nil {
		return nil, fmt.Errorf("failed to decode change record: %w", err)
	}
	return DecodeStreamRecord(change)
}

// DecodeStreamRecord decodes a DynamoDB Streams record
func DecodeStreamRecord(record events.DynamoDBEventRecord) (*store.Event, error) {
	if record.EventName != insertEvent {
		return nil, nil
	}
	return decodeImage(record.Change.NewImage)
}

func decodeImage(image map[string]events.DynamoDBAttributeValue) (*store.Event, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: no new image", ErrMalformedImage)
	}

	var (
		event store.Event
		errs  []error
	)
	event.ID = requireString(image, "id", &errs)
	event.AggregateID = requireString(image, "aggregate_id", &errs)
	event.AggregateType = requireString(image, "aggregate_type", &errs)
	event.EventType = requireString(image, "event_type", &errs)
	event.Data = json.RawMessage(requireString(image, "data", &errs))
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if v, ok := image["version"]; ok && v.DataType() == events.DataTypeNumber {
		version, err := v.Integer()
		if err != nil {
			return nil, fmt.Errorf("%w: version: %w", ErrMalformedImage, err)
		}
		event.Version = int(version)
	}
	if v, ok := image["created_at"]; ok && v.DataType() == events.DataTypeString {
		ts, err := time.Parse(time.RFC3339Nano, v.String())
		if err != nil {
			return nil, fmt.Errorf("%w: created_at: %w", ErrMalformedImage, err)
		}
		event.Timestamp = ts
	}

	if !json.Valid(event.Data) {
		return nil, fmt.Errorf("%w: data of event %s is not JSON", ErrMalformedImage, event.ID)
	}
	return &event, nil
}

func requireString(image map[string]events.DynamoDBAttributeValue, name string, errs *[]error) string {
	v, ok := image[name]
	if !ok || v.DataType() != events.DataTypeString || v.String() == "" {
		*errs = append(*errs, fmt.Errorf("%w: missing %s", ErrMalformedImage, name))
		return ""
	}
	return v.String()
}

// Project hands every inserted event of a Kinesis batch to handle, keyed
// by aggregate id. Records that fail are reported as batch item failures
// so Lambda retries only those.
func Project(ctx context.Context, batch events.KinesisEvent, handle kafka.MessageHandler, logger *zap.Logger) events.KinesisEventResponse {
	logger = logging.OrNop(logger)

	var failures []events.KinesisBatchItemFailure
	fail := func(record events.KinesisEventRecord, msg string, err error) {
		logger.Warn(msg,
			zap.String("record_id", record.EventID),
			zap.String("sequence_number", record.Kinesis.SequenceNumber),
			zap.Error(err),
		)
		failures = append(failures, events.KinesisBatchItemFailure{ItemIdentifier: record.Kinesis.SequenceNumber})
	}

	for _, record := range batch.Records {
		event, err := DecodeRecord(record)
		if err != nil {
			fail(record, "failed to decode record", err)
			continue
		}
		if event == nil {
			continue
		}

		value, err := event.MarshalJSON()
		if err != nil {
			fail(record, "failed to encode event", err)
			continue
		}
		if err := handle(ctx, []byte(event.AggregateID), value); err != nil {
			fail(record, "failed to project event", err)
			continue
		}
	}

	logger.Info("batch projected",
		zap.Int("records", len(batch.Records)),
		zap.Int("failed", len(failures)),
	)
	return events.KinesisEventResponse{BatchItemFailures: failures}
}
