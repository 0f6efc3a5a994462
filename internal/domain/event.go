package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RawEvent is an unprocessed message from the positions topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Published event types, carried in the event_type header.
const (
	EventClustersUpdated  = "clusters.updated"
	EventRerouteRequested = "reroute.requested"
)

// OutboundEvent is a serialized event destined for the events topic.
type OutboundEvent struct {
	Type        string
	Key         []byte
	Value       []byte
	PublishedAt time.Time
}

// NewClustersUpdatedEvent serializes a cluster snapshot keyed by its source.
func NewClustersUpdatedEvent(s ClusterSnapshot, at time.Time) (OutboundEvent, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return OutboundEvent{}, fmt.Errorf("serialize cluster snapshot: %w", err)
	}
	return OutboundEvent{
		Type:        EventClustersUpdated,
		Key:         []byte(s.Source),
		Value:       data,
		PublishedAt: at,
	}, nil
}

// NewRerouteRequestedEvent serializes a reroute request keyed by its id.
func NewRerouteRequestedEvent(e RerouteEvent, at time.Time) (OutboundEvent, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return OutboundEvent{}, fmt.Errorf("serialize reroute event: %w", err)
	}
	return OutboundEvent{
		Type:        EventRerouteRequested,
		Key:         []byte(e.ID),
		Value:       data,
		PublishedAt: at,
	}, nil
}
