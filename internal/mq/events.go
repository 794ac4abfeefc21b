package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/folio-press/apiserver/types"
)

const (
	// TypeAttribute carries the event type so subscribers can filter
	// without decoding the payload.
	TypeAttribute   = "type"
	jsonContentType = "application/json"
)

// AccountEvents publishes account lifecycle events as JSON.
type AccountEvents struct {
	backend Backend
	channel string
}

// NewAccountEvents returns a publisher for channel on backend.
func NewAccountEvents(backend Backend, channel string) *AccountEvents {
	return &AccountEvents{backend: backend, channel: channel}
}

// Channel returns the channel events are published to.
func (e *AccountEvents) Channel() string {
	return e.channel
}

// PublishAccountEvent encodes evt and hands it to the backend.
func (e *AccountEvents) PublishAccountEvent(ctx context.Context, evt types.AccountEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", evt.Type, err)
	}
	attrs := map[string]string{
		TypeAttribute:        string(evt.Type),
		ContentTypeAttribute: jsonContentType,
	}
	if _, err := e.backend.Publish(ctx, e.channel, data, attrs); err != nil {
		return fmt.Errorf("publish %s event: %w", evt.Type, err)
	}
	return nil
}

// SubscribeAccountEvents decodes every message on the channel and passes it
// to fn. Messages that do not decode are acknowledged and dropped.
func (e *AccountEvents) SubscribeAccountEvents(ctx context.Context, fn func(context.Context, types.AccountEvent) error) error {
	return e.backend.Subscribe(ctx, e.channel, func(ctx context.Context, msg Message) error {
		evt, err := DecodeAccountEvent(msg)
		if err != nil {
			return nil
		}
		return fn(ctx, evt)
	})
}

// DecodeAccountEvent parses a message produced by PublishAccountEvent.
func DecodeAccountEvent(msg Message) (types.AccountEvent, error) {
	var evt types.AccountEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		return types.AccountEvent{}, fmt.Errorf("decode account event %s: %w", msg.ID, err)
	}
	if evt.Type == "" {
		return types.AccountEvent{}, errors.New("account event has no type")
	}
	return evt, nil
}
