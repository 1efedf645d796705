package cmd

import (
	"fmt"
	"log/slog"

	"github.com/BioHazard786/Camsync/internal/config"
	"github.com/BioHazard786/Camsync/internal/media"
	"github.com/BioHazard786/Camsync/internal/media/camera"
	"github.com/BioHazard786/Camsync/internal/negotiation"
	"github.com/BioHazard786/Camsync/internal/session"
	"github.com/BioHazard786/Camsync/internal/signaling"
)

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, session.NewError("load config", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// newSource opens the real camera unless synthetic media was requested.
func newSource(synthetic bool) (media.Source, error) {
	if synthetic {
		return &media.SyntheticSource{}, nil
	}
	src, err := camera.NewSource(slog.Default())
	if err != nil {
		return nil, session.NewError("open camera", err)
	}
	return src, nil
}

// newCoordinator wires one session to the relay named by cfg.
func newCoordinator(cfg *config.Config, source media.Source, sink session.Sink, onEvent func(session.Event)) *session.Coordinator {
	client := signaling.NewClient(cfg.WebSocketURL,
		signaling.WithReconnect(cfg.ReconnectAttempts, cfg.ReconnectInterval),
		signaling.WithLogger(slog.Default()),
	)

	return session.New(session.Options{
		Channel: client,
		Source:  source,
		Sink:    sink,
		Factory: negotiation.NewPionFactory(negotiation.ICEFromConfig(cfg)),
		Logger:  slog.Default(),
		Audio:   cfg.Media.Audio,
		Capture: media.Constraints{
			Width:     cfg.Media.Width,
			Height:    cfg.Media.Height,
			FrameRate: cfg.Media.FrameRate,
		},
		RejoinAttempts: cfg.ReconnectAttempts,
		RejoinInterval: cfg.ReconnectInterval,
		OnEvent:        onEvent,
	})
}
