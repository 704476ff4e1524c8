package topology

import (
	"fmt"

	"github.com/dgmato/PercutaneousNavigation/internal/frames"
)

// Role names a frame's part in the navigation scene, independent of the
// frame's actual name in the registry.
type Role int

const (
	PointerModel Role = iota
	PointerTip
	PointerTracking
	TrackerBase
	NeedleModel
	NeedleTip
	NeedleTracking
	BoneModel
	SoftTissueModel
	PatientReference
	ReferenceTracking
)

var roleNames = [...]string{
	PointerModel:      "pointer-model",
	PointerTip:        "pointer-tip",
	PointerTracking:   "pointer-tracking",
	TrackerBase:       "tracker-base",
	NeedleModel:       "needle-model",
	NeedleTip:         "needle-tip",
	NeedleTracking:    "needle-tracking",
	BoneModel:         "bone-model",
	SoftTissueModel:   "soft-tissue-model",
	PatientReference:  "patient-reference",
	ReferenceTracking: "reference-tracking",
}

// Roles returns every role in declaration order.
func Roles() []Role {
	out := make([]Role, len(roleNames))
	for i := range roleNames {
		out[i] = Role(i)
	}
	return out
}

func (r Role) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleNames[r]
}

// ParseRole maps a role name such as "needle-tip" back to its Role.
func ParseRole(s string) (Role, error) {
	for i, name := range roleNames {
		if name == s {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// MarshalText lets roles key JSON objects.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a role name.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Frames resolves roles to frames in a graph. A role that is absent has not
// been resolved yet.
type Frames map[Role]frames.ID

// Get returns the frame bound to r, or frames.None.
func (fs Frames) Get(r Role) frames.ID {
	if id, ok := fs[r]; ok {
		return id
	}
	return frames.None
}
