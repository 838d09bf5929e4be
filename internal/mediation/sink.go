package mediation

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/config"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

// EventSink receives host events
type EventSink interface {
	Publish(ctx context.Context, ev adapters.Event) error
}

// LogSink writes host events to the events logger
type LogSink struct{}

// NewLogSink creates a log sink
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Publish logs ev
func (LogSink) Publish(_ context.Context, ev adapters.Event) error {
	e := logger.Events().Info().
		Str("type", string(ev.Type)).
		Str("network", ev.Network).
		Str("ad_id", ev.AdID).
		Str("format", string(ev.Format))
	if ev.RequestID != "" {
		e = e.Str("request_id", ev.RequestID)
	}
	if ev.Reward != nil {
		e = e.Str("reward_type", ev.Reward.Type).Int("reward_amount", ev.Reward.Amount)
	}
	if ev.Error != nil {
		e = e.Int("error_code", ev.Error.Code).Str("error_domain", ev.Error.Domain).Str("error_message", ev.Error.Message)
	}
	e.Msg("ad event")
	return nil
}

// StreamAppender appends entries to a capped stream
type StreamAppender interface {
	XAdd(ctx context.Context, stream string, maxLen int64, fields map[string]interface{}) (string, error)
}

// RedisSink appends host events to a Redis stream for downstream consumers
type RedisSink struct {
	client StreamAppender
	stream string
	maxLen int64
}

// NewRedisSink creates a sink writing to the mediation event stream
func NewRedisSink(client StreamAppender) *RedisSink {
	return &RedisSink{
		client: client,
		stream: config.EventStreamKey,
		maxLen: config.EventStreamMaxLen,
	}
}

// Publish appends ev to the stream
func (s *RedisSink) Publish(ctx context.Context, ev adapters.Event) error {
	fields := map[string]interface{}{
		"type":      string(ev.Type),
		"network":   ev.Network,
		"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if ev.AdID != "" {
		fields["ad_id"] = ev.AdID
	}
	if ev.RequestID != "" {
		fields["request_id"] = ev.RequestID
	}
	if ev.AdUnitID != "" {
		fields["ad_unit_id"] = ev.AdUnitID
	}
	if ev.Format != "" {
		fields["format"] = string(ev.Format)
	}
	if ev.Reward != nil {
		fields["reward_type"] = ev.Reward.Type
		fields["reward_amount"] = strconv.Itoa(ev.Reward.Amount)
	}
	if ev.Error != nil {
		fields["error_code"] = strconv.Itoa(ev.Error.Code)
		fields["error_domain"] = ev.Error.Domain
		fields["error_message"] = ev.Error.Message
	}
	_, err := s.client.XAdd(ctx, s.stream, s.maxLen, fields)
	return err
}

// MultiSink publishes to every sink in order. All sinks are tried; their
// errors are joined.
type MultiSink []EventSink

// Publish publishes ev to each sink
func (m MultiSink) Publish(ctx context.Context, ev adapters.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
