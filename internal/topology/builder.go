package topology

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgmato/PercutaneousNavigation/internal/frames"
	"github.com/dgmato/PercutaneousNavigation/internal/monitoring"
)

// ErrInvalidTransition is returned for a mode change the state machine does
// not allow.
var ErrInvalidTransition = errors.New("topology: invalid mode transition")

// Mode is the graph's structural state.
type Mode int

const (
	Uninitialized Mode = iota
	RegistrationMode
	NavigationMode
)

func (m Mode) String() string {
	switch m {
	case Uninitialized:
		return "uninitialized"
	case RegistrationMode:
		return "registration"
	case NavigationMode:
		return "navigation"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText renders the mode name in JSON.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Builder drives Uninitialized -> Registration -> Navigation. Transitions
// only happen on explicit calls; there is no way back from navigation.
type Builder struct {
	mu    sync.Mutex
	graph *frames.Graph
	mode  Mode
}

// NewBuilder returns a builder in the Uninitialized mode.
func NewBuilder(g *frames.Graph) *Builder {
	return &Builder{graph: g}
}

// Mode returns the current mode.
func (b *Builder) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// EnterRegistration applies the registration recipe on top of the current
// parenting. It does not reset first. Re-entering registration is allowed;
// entering it from navigation is not.
func (b *Builder) EnterRegistration(fs Frames) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mode == NavigationMode {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.mode, RegistrationMode)
	}
	if err := Registration.Apply(b.graph, fs); err != nil {
		return err
	}
	monitoring.Logf("topology: %s -> %s", b.mode, RegistrationMode)
	b.mode = RegistrationMode
	return nil
}

// EnterNavigation resets the participating frames and applies the navigation
// recipe. It may be entered from any mode and re-entered.
func (b *Builder) EnterNavigation(fs Frames) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// validate before reset so a failed attempt leaves the graph untouched
	if err := Navigation.Check(b.graph, fs, true); err != nil {
		return err
	}
	Reset(b.graph, fs)
	if err := Navigation.Apply(b.graph, fs); err != nil {
		return err
	}
	monitoring.Logf("topology: %s -> %s", b.mode, NavigationMode)
	b.mode = NavigationMode
	return nil
}
