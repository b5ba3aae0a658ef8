package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"bot-arena/broadcast"
	"bot-arena/events"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (context.Context, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	ctx := context.Background()
	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial error: %#v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("client error: %#v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return ctx, client
}

func TestPublisher_PublishResult(t *testing.T) {
	if testing.Short() {
		t.Skip("short")
	}
	ctx, client := newTestClient(t)

	tests := []struct {
		name    string
		setup   func() *Publisher
		res     *events.CommandResult
		wantErr bool
	}{
		{
			name: "success",
			setup: func() *Publisher {
				topic, err := client.CreateTopic(ctx, "arena-events")
				if err != nil {
					t.Fatalf("create topic: %#v", err)
				}
				return &Publisher{projectID: "test-project", topicName: "arena-events", client: client, topic: topic}
			},
			res:     &events.CommandResult{EnvelopeVersion: events.EnvelopeVersion, Type: events.TypeCommandResult, RequestID: "r1", Command: events.CommandEnqueue, Status: events.StatusSuccess, Position: 1},
			wantErr: false,
		},
		{
			name: "missing topic error",
			setup: func() *Publisher {
				topic := client.Topic("missing-topic")
				return &Publisher{projectID: "test-project", topicName: "missing-topic", client: client, topic: topic}
			},
			res:     &events.CommandResult{EnvelopeVersion: events.EnvelopeVersion, Type: events.TypeCommandResult, RequestID: "r2", Status: events.StatusFailure, Error: strPtr("bot is already queued")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.setup()
			err := p.PublishResult(ctx, tt.res)
			gotErr := (err != nil)
			if gotErr != tt.wantErr {
				t.Errorf("PublishResult() error mismatch\ngotErr: %#v\nwantErr: %#v\nerr: %#v", gotErr, tt.wantErr, err)
			}
		})
	}
}

func TestPublisher_RelayKeepsMatchOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("short")
	}
	ctx, client := newTestClient(t)

	topic, err := client.CreateTopic(ctx, "arena-events")
	if err != nil {
		t.Fatalf("create topic: %#v", err)
	}
	topic.EnableMessageOrdering = true
	sub, err := client.CreateSubscription(ctx, "viewer", pubsub.SubscriptionConfig{Topic: topic, EnableMessageOrdering: true})
	if err != nil {
		t.Fatalf("create subscription: %#v", err)
	}
	p := &Publisher{projectID: "test-project", topicName: "arena-events", client: client, topic: topic}

	feed := make(chan broadcast.Event, 3)
	feed <- broadcast.Event{MatchID: "m1", Seq: 1, Type: broadcast.EventMatchStarted}
	feed <- broadcast.Event{MatchID: "m1", Seq: 2, Type: broadcast.EventRoundStarted, Round: 1, Deadline: time.Now()}
	feed <- broadcast.Event{MatchID: "m1", Seq: 3, Type: broadcast.EventRoundResult, Round: 1}
	close(feed)
	if err := p.Relay(ctx, feed); err != nil {
		t.Fatalf("Relay() err: %#v", err)
	}

	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var (
		mu   sync.Mutex
		seqs []uint64
	)
	err = sub.Receive(rctx, func(_ context.Context, m *pubsub.Message) {
		var ev events.MatchEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			t.Errorf("unmarshal relayed event: %#v", err)
		}
		if m.OrderingKey != "m1" || m.Attributes["type"] != events.TypeMatchEvent {
			t.Errorf("unexpected message envelope: key=%q attrs=%#v", m.OrderingKey, m.Attributes)
		}
		m.Ack()
		mu.Lock()
		seqs = append(seqs, ev.Seq)
		if len(seqs) == 3 {
			cancel()
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Receive() err: %#v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seqs) != 3 || seqs[0] != 1 || seqs[1] != 2 || seqs[2] != 3 {
		t.Errorf("relayed sequence = %#v, want [1 2 3]", seqs)
	}
}

func strPtr(s string) *string { return &s }
