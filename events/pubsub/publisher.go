package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"bot-arena/broadcast"
	"bot-arena/events"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// Publisher writes command results and match events to one topic. Match
// events carry the match id as ordering key so consumers see each match in
// order.
type Publisher struct {
	projectID string
	topicName string
	credsFile string

	mu     sync.Mutex
	client *gpubsub.Client
	topic  *gpubsub.Topic
}

func NewPublisher(projectID, topicName, credsFile string) *Publisher {
	return &Publisher{projectID: projectID, topicName: topicName, credsFile: credsFile}
}

func (p *Publisher) init(ctx context.Context) (*gpubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		return p.topic, nil
	}
	var (
		client *gpubsub.Client
		err    error
	)
	if p.credsFile != "" {
		log.Debug().Str("projectID", p.projectID).Str("topic", p.topicName).Str("credsFile", p.credsFile).Msg("initializing pubsub publisher with explicit credentials")
		client, err = gpubsub.NewClient(ctx, p.projectID, option.WithCredentialsFile(p.credsFile))
	} else {
		log.Debug().Str("projectID", p.projectID).Str("topic", p.topicName).Msg("initializing pubsub publisher with default credentials")
		client, err = gpubsub.NewClient(ctx, p.projectID)
	}
	if err != nil {
		log.Error().Err(err).Str("projectID", p.projectID).Str("topic", p.topicName).Msg("failed to create pubsub client for publisher")
		return nil, err
	}
	p.client = client
	p.topic = client.Topic(p.topicName)
	p.topic.EnableMessageOrdering = true
	log.Info().Str("topic", p.topicName).Msg("pubsub publisher initialized")
	return p.topic, nil
}

func (p *Publisher) PublishResult(ctx context.Context, res *events.CommandResult) error {
	topic, err := p.init(ctx)
	if err != nil {
		return err
	}
	b, err := json.Marshal(res)
	if err != nil {
		log.Error().Err(err).Interface("result", res).Msg("failed to marshal command result")
		return err
	}
	// Publish and wait for server ack
	r := topic.Publish(ctx, &gpubsub.Message{
		Data:       b,
		Attributes: map[string]string{"type": events.TypeCommandResult, "command": string(res.Command)},
	})
	id, err := r.Get(ctx)
	if err != nil {
		log.Error().Err(err).Str("requestId", res.RequestID).Msg("failed to publish command result")
		return err
	}
	log.Debug().Str("messageID", id).Str("requestId", res.RequestID).Str("status", string(res.Status)).Msg("published command result")
	return nil
}

func (p *Publisher) PublishEvent(ctx context.Context, ev *events.MatchEvent) error {
	topic, err := p.init(ctx)
	if err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("matchId", ev.MatchID).Msg("failed to marshal match event")
		return err
	}
	r := topic.Publish(ctx, &gpubsub.Message{
		Data:        b,
		OrderingKey: ev.MatchID,
		Attributes:  map[string]string{"type": events.TypeMatchEvent, "event": string(ev.Event), "matchId": ev.MatchID},
	})
	if _, err := r.Get(ctx); err != nil {
		// a failed ordered publish pauses the key until resumed
		topic.ResumePublish(ev.MatchID)
		log.Error().Err(err).Str("matchId", ev.MatchID).Uint64("seq", ev.Seq).Msg("failed to publish match event")
		return err
	}
	return nil
}

// Relay publishes every event from feed until ctx ends or the feed closes.
// Publish failures are logged and skipped.
func (p *Publisher) Relay(ctx context.Context, feed <-chan broadcast.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-feed:
			if !ok {
				return nil
			}
			_ = p.PublishEvent(ctx, events.NewMatchEvent(ev))
		}
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
