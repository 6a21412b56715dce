package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"trainsync/internal/platform/config"
)

// KafkaAlerter publishes alerts to an ops topic so systemic external-site
// issues are consumable by monitoring tooling.
type KafkaAlerter struct {
	client *kgo.Client
	topic  string
	log    *slog.Logger
}

func NewKafkaAlerter(cfg config.KafkaConfig, log *slog.Logger) (*KafkaAlerter, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.AlertTopic),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaAlerter{client: client, topic: cfg.AlertTopic, log: log}, nil
}

func (k *KafkaAlerter) Emit(ctx context.Context, summary, detail string) {
	payload, err := json.Marshal(Alert{Summary: summary, Detail: detail, Time: time.Now().UTC()})
	if err != nil {
		k.log.Error("encode alert", "error", err)
		return
	}

	record := &kgo.Record{Topic: k.topic, Value: payload}
	k.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			k.log.Error("publish alert", "summary", summary, "error", err)
		}
	})
}

func (k *KafkaAlerter) Close() {
	k.client.Close()
}

// Fanout delivers every alert to all configured sinks.
type Fanout []Alerter

func (f Fanout) Emit(ctx context.Context, summary, detail string) {
	for _, a := range f {
		a.Emit(ctx, summary, detail)
	}
}

// MailAlerter is the email leg: it forwards alerts to the operator
// distribution list through the notifier.
type MailAlerter struct {
	Notifier interface {
		OperatorFailure(ctx context.Context, summary, detail string) error
	}
	Log *slog.Logger
}

func (m *MailAlerter) Emit(ctx context.Context, summary, detail string) {
	if err := m.Notifier.OperatorFailure(ctx, summary, detail); err != nil {
		m.Log.Error("operator email alert failed", "summary", summary, "error", err)
	}
}
