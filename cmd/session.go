package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/carousel/internal/commander"
	"github.com/jfmyers9/carousel/internal/config"
	"github.com/jfmyers9/carousel/internal/controller"
	"github.com/jfmyers9/carousel/internal/poll"
	"github.com/jfmyers9/carousel/internal/pubsub"
	"github.com/jfmyers9/carousel/internal/statechannel"
)

const (
	connectTimeout  = 5 * time.Second
	snapshotTimeout = 5 * time.Second
)

var errNotAttached = errors.New("not attached to a player, run 'carousel attach' first")

// session is a controller's connection to one player: state flows into
// the view and commands go out through the commander
type session struct {
	playerID  string
	client    *pubsub.Client
	sub       *statechannel.Subscriber
	view      *controller.View
	commander *commander.Commander
	cancel    context.CancelFunc
	done      chan struct{}
}

// attachedPlayer returns the player this machine controls. A machine that
// runs a player controls it unless attached elsewhere.
func attachedPlayer(cfg *config.Config) (string, error) {
	switch {
	case cfg.AttachedID != "":
		return cfg.AttachedID, nil
	case cfg.PlayerID != "":
		return cfg.PlayerID, nil
	default:
		return "", errNotAttached
	}
}

func openSession(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*session, error) {
	id, err := attachedPlayer(cfg)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		playerID: id,
		client:   pubsub.NewClient(cfg.HubURL, logger),
		view:     controller.NewView(logger),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		_ = s.client.Run(runCtx)
	}()

	if err := s.client.WaitConnected(ctx, connectTimeout); err != nil {
		s.Close()
		return nil, err
	}

	ccfg := commander.DefaultConfig()
	ccfg.AckTimeout = cfg.Commands.AckTimeout
	ccfg.MaxAttempts = cfg.Commands.MaxAttempts
	s.commander = commander.New(s.client, id, cfg.Origin, ccfg, logger)

	s.sub = statechannel.NewSubscriber(s.client, id, cfg.Debounce, logger)
	s.view.Attach(s.sub, s.client)
	s.sub.OnSnapshot(s.commander.Observe)
	if err := s.sub.Start(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// WaitSnapshot blocks until the first snapshot has been applied
func (s *session) WaitSnapshot(ctx context.Context) (controller.Frame, error) {
	err := poll.Until(ctx, 20*time.Millisecond, snapshotTimeout, func(context.Context) (bool, error) {
		return s.sub.Applied() > 0, nil
	})
	if errors.Is(err, poll.ErrDeadline) {
		return controller.Frame{}, fmt.Errorf("no state from player %s, is it running?", s.playerID)
	}
	if err != nil {
		return controller.Frame{}, err
	}
	return s.view.Frame(), nil
}

func (s *session) Close() {
	if s.sub != nil {
		s.sub.Close()
	}
	s.cancel()
	<-s.done
}
