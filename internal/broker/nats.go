package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"omnic/internal/extract"
)

// NATSPublisher publishes results on a NATS subject
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// ConnectNATS dials url and returns a publisher for subject
func ConnectNATS(url, subject string, opts ...nats.Option) (*NATSPublisher, error) {
	if subject == "" {
		subject = DefaultTopic
	}

	opts = append([]nats.Option{
		nats.Name("omnic"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}, opts...)

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}

	return &NATSPublisher{conn: conn, subject: subject}, nil
}

func (p *NATSPublisher) Name() string {
	return "nats"
}

// Write publishes the result and waits for the server to acknowledge the flush
func (p *NATSPublisher) Write(ctx context.Context, result extract.Result) error {
	data, err := encode(result)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set(headerMatchID, result.MatchID)
	msg.Header.Set(headerShard, result.Shard)

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", p.subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	return nil
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
