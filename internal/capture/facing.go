package capture

import (
	"strings"
)

// Built-in label keyword sets for front/back camera matching. Labels are
// locale-specific and heuristic; callers add their locale's keywords via
// Config. A miss is not an error; the unconstrained facing-mode fallback
// in acquire is the real safety net.
var (
	frontKeywords = []string{"front", "user", "facetime", "selfie"}
	backKeywords  = []string{"back", "rear", "environment", "world"}
)

// matchDevice finds the first enumerated device whose label matches the
// requested facing's keyword set.
func matchDevice(devices []DeviceInfo, facing Facing, extraFront, extraBack []string) (DeviceInfo, bool) {
	var keywords []string
	switch facing {
	case FacingFront:
		keywords = append(append([]string{}, frontKeywords...), extraFront...)
	case FacingBack:
		keywords = append(append([]string{}, backKeywords...), extraBack...)
	default:
		return DeviceInfo{}, false
	}

	for _, d := range devices {
		label := strings.ToLower(d.Label)
		if label == "" {
			continue
		}
		for _, kw := range keywords {
			if strings.Contains(label, strings.ToLower(kw)) {
				return d, true
			}
		}
	}
	return DeviceInfo{}, false
}

// otherFacing flips the facing preference.
func otherFacing(f Facing) Facing {
	if f == FacingBack {
		return FacingFront
	}
	return FacingBack
}
