package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/pkg/types"
)

// producer is the subset of *nsq.Producer the publisher needs.
type producer interface {
	Publish(topic string, body []byte) error
	Stop()
}

// Publisher emits change events. It implements crm.Notifier, so a CRM
// service can hand embedding work to workers in another process.
type Publisher struct {
	producer producer
	topic    string
}

// NewPublisher connects a producer to nsqdAddr.
func NewPublisher(nsqdAddr, topic string) (*Publisher, error) {
	p, err := nsq.NewProducer(nsqdAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	p.SetLogger(nsqLogger{}, nsq.LogLevelWarning)
	if err := p.Ping(); err != nil {
		p.Stop()
		return nil, fmt.Errorf("nsqd unreachable at %s: %w", nsqdAddr, err)
	}
	return newPublisher(p, topic), nil
}

func newPublisher(p producer, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{producer: p, topic: topic}
}

// Publish sends one event.
func (p *Publisher) Publish(ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return p.producer.Publish(p.topic, body)
}

// RecordCreated publishes record.created.
func (p *Publisher) RecordCreated(_ context.Context, ownerID string, ref types.RecordRef) bool {
	return p.publish(Event{Type: EventRecordCreated, OwnerID: ownerID, Record: ref})
}

// RecordUpdated publishes record.updated.
func (p *Publisher) RecordUpdated(_ context.Context, ownerID string, ref types.RecordRef) bool {
	return p.publish(Event{Type: EventRecordUpdated, OwnerID: ownerID, Record: ref})
}

// RecordDeleted publishes record.deleted.
func (p *Publisher) RecordDeleted(_ context.Context, ownerID string, ref types.RecordRef) {
	p.publish(Event{Type: EventRecordDeleted, OwnerID: ownerID, Record: ref})
}

// ActivityChanged publishes activity.changed. With two parents the first is
// the previous one and the second the current one.
func (p *Publisher) ActivityChanged(_ context.Context, ownerID string, parents ...types.RecordRef) {
	ev := Event{Type: EventActivityChanged, OwnerID: ownerID}
	switch len(parents) {
	case 0:
		return
	case 1:
		ev.Record = parents[0]
	default:
		prev := parents[0]
		ev.PreviousParent = &prev
		ev.Record = parents[len(parents)-1]
	}
	p.publish(ev)
}

// Stop closes the producer.
func (p *Publisher) Stop() {
	p.producer.Stop()
}

func (p *Publisher) publish(ev Event) bool {
	if err := p.Publish(ev); err != nil {
		log.Warn().Err(err).Str("event_type", string(ev.Type)).Str("owner_id", ev.OwnerID).
			Str("record", ev.Record.String()).Msg("failed to publish change event")
		return false
	}
	return true
}
