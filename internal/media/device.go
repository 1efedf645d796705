package media

import "strings"

// Device is a video input as reported by the platform.
type Device struct {
	ID    string
	Label string
}

var facingKeywords = map[FacingMode][]string{
	FacingUser:        {"front", "user", "facetime", "integrated", "webcam"},
	FacingEnvironment: {"back", "rear", "environment", "world"},
}

// PickDevice chooses the camera whose label matches facing, falling back to
// the first device. ok is false when devices is empty.
func PickDevice(devices []Device, facing FacingMode) (Device, bool) {
	if len(devices) == 0 {
		return Device{}, false
	}

	for _, d := range devices {
		label := strings.ToLower(d.Label)
		for _, kw := range facingKeywords[facing] {
			if strings.Contains(label, kw) {
				return d, true
			}
		}
	}
	return devices[0], true
}
