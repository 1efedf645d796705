package media

import (
	"context"
	"errors"
	"testing"

	"github.com/BioHazard786/Camsync/internal/signaling"
)

func TestConstraintsForRole(t *testing.T) {
	if c := ConstraintsForRole(signaling.RoleLaptop, false); c.Facing != FacingUser || c.Audio {
		t.Fatalf("laptop constraints=%+v", c)
	}
	if c := ConstraintsForRole(signaling.RoleMobile, true); c.Facing != FacingEnvironment || !c.Audio {
		t.Fatalf("mobile constraints=%+v", c)
	}
}

func TestSyntheticSource_Acquire(t *testing.T) {
	src := &SyntheticSource{}

	stream, err := src.Acquire(context.Background(), ConstraintsForRole(signaling.RoleLaptop, true))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got := len(stream.Tracks()); got != 2 {
		t.Fatalf("tracks=%d, want video and audio", got)
	}
	if stream.ID() == "" {
		t.Fatal("empty stream id")
	}
	if src.Acquired() != 1 {
		t.Fatalf("Acquired()=%d", src.Acquired())
	}

	if !stream.Live() {
		t.Fatal("fresh stream not live")
	}
	if err := stream.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := stream.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if stream.Live() {
		t.Fatal("stream live after Stop")
	}
}

func TestSyntheticSource_Error(t *testing.T) {
	src := &SyntheticSource{Err: ErrPermissionDenied}
	if _, err := src.Acquire(context.Background(), Constraints{}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err=%v, want ErrPermissionDenied", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (&SyntheticSource{}).Acquire(ctx, Constraints{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}

func TestPickDevice(t *testing.T) {
	devices := []Device{
		{ID: "0", Label: "Integrated Camera"},
		{ID: "1", Label: "Rear Camera (USB)"},
	}

	if d, _ := PickDevice(devices, FacingEnvironment); d.ID != "1" {
		t.Errorf("environment picked %q, want rear camera", d.ID)
	}
	if d, _ := PickDevice(devices, FacingUser); d.ID != "0" {
		t.Errorf("user picked %q, want integrated camera", d.ID)
	}
	if d, _ := PickDevice(devices[:1], FacingEnvironment); d.ID != "0" {
		t.Errorf("fallback picked %q, want first device", d.ID)
	}
	if _, ok := PickDevice(nil, FacingUser); ok {
		t.Error("PickDevice(nil) reported ok")
	}
}
