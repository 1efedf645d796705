// Package camera captures from real devices through pion/mediadevices. It is
// kept apart from package media because the drivers and encoders need cgo.
package camera

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers camera adapters
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers microphone adapters

	"github.com/BioHazard786/Camsync/internal/media"
)

// Source opens the local camera (and microphone) with VP8/Opus encoders.
type Source struct {
	log      *slog.Logger
	selector *mediadevices.CodecSelector
}

// NewSource prepares the codec selector used for every acquired stream.
func NewSource(log *slog.Logger) (*Source, error) {
	if log == nil {
		log = slog.Default()
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("create VP8 params: %w", err)
	}
	vpxParams.BitRate = 500_000
	vpxParams.KeyFrameInterval = 60

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("create Opus params: %w", err)
	}
	opusParams.BitRate = 32_000

	return &Source{
		log: log.With("component", "camera"),
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Acquire opens the camera matching the requested facing mode.
func (s *Source) Acquire(ctx context.Context, c media.Constraints) (media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	device, ok := media.PickDevice(videoInputs(), c.Facing)
	if !ok {
		return nil, fmt.Errorf("%w: no video input found", media.ErrDeviceUnavailable)
	}
	s.log.Debug("opening camera", "device", device.Label, "facing", c.Facing)

	constraints := mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			mc.DeviceID = prop.String(device.ID)
			mc.Width = prop.Int(c.Width)
			mc.Height = prop.Int(c.Height)
			mc.FrameRate = prop.Float(c.FrameRate)
		},
		Codec: s.selector,
	}
	if c.Audio {
		constraints.Audio = func(mc *mediadevices.MediaTrackConstraints) {
			mc.ChannelCount = prop.Int(1)
		}
	}

	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		stream, err := mediadevices.GetUserMedia(constraints)
		done <- result{stream, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, classify(res.err)
		}
		return &deviceStream{id: device.ID, stream: res.stream}, nil

	case <-ctx.Done():
		// The device may still open; release it as soon as it does.
		go func() {
			if res := <-done; res.err == nil {
				closeTracks(res.stream)
			}
		}()
		return nil, ctx.Err()
	}
}

func videoInputs() []media.Device {
	var out []media.Device
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.VideoInput {
			out = append(out, media.Device{ID: d.DeviceID, Label: d.Label})
		}
	}
	return out
}

func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "not authorized") || strings.Contains(msg, "denied") {
		return fmt.Errorf("%w: %v", media.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)
}

func closeTracks(stream mediadevices.MediaStream) error {
	var firstErr error
	for _, t := range stream.GetTracks() {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type deviceStream struct {
	id     string
	stream mediadevices.MediaStream

	once    sync.Once
	mu      sync.Mutex
	stopped bool
	err     error
}

func (d *deviceStream) ID() string { return d.id }

func (d *deviceStream) Tracks() []webrtc.TrackLocal {
	var out []webrtc.TrackLocal
	for _, t := range d.stream.GetTracks() {
		out = append(out, t)
	}
	return out
}

func (d *deviceStream) Stop() error {
	d.once.Do(func() {
		err := closeTracks(d.stream)
		d.mu.Lock()
		d.stopped = true
		d.err = err
		d.mu.Unlock()
	})
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *deviceStream) Live() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.stopped
}
