package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnic/internal/extract"
)

func testResult() extract.Result {
	return extract.Result{
		ID:        uuid.New(),
		Series:    12,
		MatchID:   "7f1c",
		Shard:     "pc-as",
		Subject:   "Funzinnu",
		Rank:      extract.KnownRank(3),
		Kills:     extract.KnownKills(5),
		GameMode:  "duo",
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherWrite(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, Topic: DefaultTopic}

	require.NoError(t, p.Write(context.Background(), testResult()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "Funzinnu", string(msg.Key))
	assert.Equal(t, []kafka.Header{
		{Key: headerMatchID, Value: []byte("7f1c")},
		{Key: headerShard, Value: []byte("pc-as")},
	}, msg.Headers)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "duo", decoded["type"])
	assert.InDelta(t, 3, decoded["rank"], 0)
	assert.InDelta(t, 5, decoded["kills"], 0)
	assert.InDelta(t, 12, decoded["series"], 0)
}

func TestKafkaPublisherWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := &KafkaPublisher{writer: w, Topic: DefaultTopic}

	err := p.Write(context.Background(), testResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

func TestNewKafkaPublisherDefaultsTopic(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "")
	t.Cleanup(func() { _ = p.Close() })

	assert.Equal(t, DefaultTopic, p.Topic)
	assert.Equal(t, "kafka", p.Name())
}

func runNATSServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server did not start")
	}
	t.Cleanup(srv.Shutdown)

	return srv
}

func TestNATSPublisherWrite(t *testing.T) {
	srv := runNATSServer(t)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	received := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("results.test", received)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	p, err := ConnectNATS(srv.ClientURL(), "results.test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	require.NoError(t, p.Write(context.Background(), testResult()))

	select {
	case msg := <-received:
		assert.Equal(t, "7f1c", msg.Header.Get(headerMatchID))
		assert.Equal(t, "pc-as", msg.Header.Get(headerShard))

		var r extract.Result
		require.NoError(t, json.Unmarshal(msg.Data, &r))
		assert.Equal(t, "7f1c", r.MatchID)
		assert.Equal(t, 3, r.Rank.Sentinel())
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestConnectNATSFails(t *testing.T) {
	_, err := ConnectNATS("nats://127.0.0.1:1", "", nats.Timeout(200*time.Millisecond), nats.NoReconnect())
	require.Error(t, err)
}
