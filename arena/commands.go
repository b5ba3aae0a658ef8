package arena

import (
	"context"
	"errors"
	"fmt"

	"bot-arena/events"
	"bot-arena/metrics"

	"github.com/rs/zerolog/log"
)

// CommandHandler wires boundary commands to the service and reports each
// outcome through the publisher.
type CommandHandler struct {
	service   *Service
	publisher events.Publisher
}

func NewCommandHandler(s *Service, p events.Publisher) *CommandHandler {
	return &CommandHandler{service: s, publisher: p}
}

// rejection reports whether err is a business outcome to answer with a
// failure result rather than a transient fault worth redelivering.
func rejection(err error) bool {
	var ae ArenaError
	if !errors.As(err, &ae) {
		return false
	}
	return !errors.Is(err, ErrPersistenceFailure) && !errors.Is(err, ErrShuttingDown)
}

// Handle runs one command. It returns an error only when the command should
// be redelivered.
func (h *CommandHandler) Handle(ctx context.Context, cmd *events.Command) error {
	res := &events.CommandResult{
		EnvelopeVersion: events.EnvelopeVersion,
		Type:            events.TypeCommandResult,
		RequestID:       cmd.RequestID,
		Command:         cmd.Type,
		BotID:           cmd.BotID,
		MatchID:         cmd.MatchID,
	}

	err := h.dispatch(ctx, cmd, res)
	if err != nil && !rejection(err) {
		log.Error().Err(err).Str("requestId", cmd.RequestID).Str("type", string(cmd.Type)).Msg("commands: transient failure")
		metrics.CommandsTotal.WithLabelValues(string(cmd.Type), "error").Inc()
		return err
	}
	if err != nil {
		return h.publishFailure(ctx, res, err.Error())
	}

	res.Status = events.StatusSuccess
	metrics.CommandsTotal.WithLabelValues(string(cmd.Type), string(res.Status)).Inc()
	if err := h.publisher.PublishResult(ctx, res); err != nil {
		log.Error().Err(err).Str("requestId", cmd.RequestID).Msg("commands: failed to publish result")
		return err
	}
	log.Info().Str("requestId", cmd.RequestID).Str("type", string(cmd.Type)).Str("botId", res.BotID).Msg("commands: handled")
	return nil
}

func (h *CommandHandler) dispatch(ctx context.Context, cmd *events.Command, res *events.CommandResult) error {
	switch cmd.Type {
	case events.CommandRegister:
		bot, err := h.service.RegisterBot(ctx, cmd.BotName)
		if err != nil {
			return err
		}
		res.BotID = bot.ID
	case events.CommandEnqueue:
		pos, err := h.service.Enqueue(ctx, cmd.BotID, cmd.GameTypeID)
		if err != nil {
			return err
		}
		res.Position = pos
		res.MatchID = h.service.queue.MatchOf(cmd.BotID)
	case events.CommandDequeue:
		h.service.Dequeue(cmd.BotID)
	case events.CommandSubmit:
		return h.service.Submit(ctx, cmd.MatchID, cmd.BotID, cmd.Move)
	case events.CommandDemo:
		m, err := h.service.ForceStartDemo(ctx, cmd.GameTypeID)
		if err != nil {
			return err
		}
		res.MatchID = m.ID
	default:
		return fmt.Errorf("%w: command type %q", ErrNotFound, cmd.Type)
	}
	return nil
}

// publishFailure publishes a failure result for a rejected command.
func (h *CommandHandler) publishFailure(ctx context.Context, res *events.CommandResult, message string) error {
	res.Status = events.StatusFailure
	res.Error = &message
	metrics.CommandsTotal.WithLabelValues(string(res.Command), string(res.Status)).Inc()
	if err := h.publisher.PublishResult(ctx, res); err != nil {
		log.Error().Err(err).Str("requestId", res.RequestID).Msg("commands: failed to publish failure result")
		return err
	}
	log.Info().Str("requestId", res.RequestID).Str("type", string(res.Command)).Str("error", message).Msg("commands: rejected")
	return nil
}
