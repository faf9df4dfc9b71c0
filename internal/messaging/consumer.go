package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/internal/crm"
)

// errNotQueued makes NSQ redeliver an event the engine could not accept.
var errNotQueued = errors.New("sync queue rejected the job")

// Consumer turns change events into sync triggers.
type Consumer struct {
	notifier crm.Notifier
}

// NewConsumer creates a consumer that forwards events to notifier.
func NewConsumer(notifier crm.Notifier) *Consumer {
	return &Consumer{notifier: notifier}
}

// HandleMessage implements nsq.Handler. Malformed events are acknowledged
// and dropped; an event the engine could not queue is requeued.
func (c *Consumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var ev Event
	if err := json.Unmarshal(m.Body, &ev); err != nil {
		// Poison pill: invalid JSON, don't retry
		log.Error().Err(err).Msg("dropping malformed change event")
		return nil
	}
	if err := ev.Validate(); err != nil {
		log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("dropping invalid change event")
		return nil
	}

	ctx := context.Background()
	switch ev.Type {
	case EventRecordCreated:
		if !c.notifier.RecordCreated(ctx, ev.OwnerID, ev.Record) {
			return errNotQueued
		}
	case EventRecordUpdated:
		if !c.notifier.RecordUpdated(ctx, ev.OwnerID, ev.Record) {
			return errNotQueued
		}
	case EventRecordDeleted:
		c.notifier.RecordDeleted(ctx, ev.OwnerID, ev.Record)
	case EventActivityChanged:
		c.notifier.ActivityChanged(ctx, ev.OwnerID, ev.parents()...)
	}

	log.Debug().Str("event_type", string(ev.Type)).Str("owner_id", ev.OwnerID).
		Str("record", ev.Record.String()).Uint16("attempts", m.Attempts).Msg("change event handled")
	return nil
}

// ConsumerConfig configures the NSQ subscription.
type ConsumerConfig struct {
	Topic       string
	Channel     string
	NSQDAddr    string
	LookupdAddr string
	MaxInFlight int
	MaxAttempts uint16
}

// Subscribe connects handler to NSQ. Lookupd is preferred when both
// addresses are set. Stop the returned consumer on shutdown.
func Subscribe(cfg ConsumerConfig, handler nsq.Handler) (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	if cfg.MaxInFlight > 0 {
		nsqCfg.MaxInFlight = cfg.MaxInFlight
	}
	if cfg.MaxAttempts > 0 {
		nsqCfg.MaxAttempts = cfg.MaxAttempts
	}
	nsqCfg.DefaultRequeueDelay = 5 * time.Second

	consumer, err := nsq.NewConsumer(cfg.Topic, cfg.Channel, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.SetLogger(nsqLogger{}, nsq.LogLevelWarning)
	consumer.AddHandler(handler)

	switch {
	case cfg.LookupdAddr != "":
		err = consumer.ConnectToNSQLookupd(cfg.LookupdAddr)
	case cfg.NSQDAddr != "":
		err = consumer.ConnectToNSQD(cfg.NSQDAddr)
	default:
		err = errors.New("no nsqd or nsqlookupd address configured")
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("nsq connect error: %w", err)
	}

	log.Info().Str("topic", cfg.Topic).Str("channel", cfg.Channel).Msg("NSQ change-event consumer connected")
	return consumer, nil
}

// nsqLogger routes go-nsq's internal logging to phuslu/log.
type nsqLogger struct{}

func (nsqLogger) Output(_ int, s string) error {
	log.Warn().Str("component", "nsq").Msg(s)
	return nil
}
