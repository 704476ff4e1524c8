// Package topology assembles the two operating configurations of the frame
// graph. A configuration is a fixed, acyclic set of parent assignments
// between roles; switching configuration only re-parents frames and never
// writes a local matrix.
package topology

import (
	"errors"
	"fmt"

	"github.com/dgmato/PercutaneousNavigation/internal/frames"
)

// ErrMissingRole is returned when a recipe references a role that has no
// resolved frame.
var ErrMissingRole = errors.New("topology: role not resolved")

// ErrConflict is returned when applying a recipe would give two roles the
// same frame or make a frame its own ancestor.
var ErrConflict = errors.New("topology: conflicting frame assignment")

// Link parents Child under Parent.
type Link struct {
	Child  Role
	Parent Role
}

// Recipe is a named set of links. Order within a recipe is irrelevant: each
// link touches a single frame's parent field.
type Recipe struct {
	Name  string
	Links []Link
}

// Registration roots the pointer chain at the tracker base while the anatomy
// is assumed fixed to the tracker.
var Registration = Recipe{
	Name: "registration",
	Links: []Link{
		{PointerModel, PointerTip},
		{PointerTip, PointerTracking},
		{PointerTracking, TrackerBase},
		{NeedleModel, NeedleTip},
		{NeedleTip, NeedleTracking},
	},
}

// Navigation hangs the anatomy off the moving patient reference. The
// instrument chains stop at their tracking frames.
var Navigation = Recipe{
	Name: "navigation",
	Links: []Link{
		{PointerModel, PointerTip},
		{PointerTip, PointerTracking},
		{NeedleModel, NeedleTip},
		{NeedleTip, NeedleTracking},
		{BoneModel, PatientReference},
		{SoftTissueModel, PatientReference},
		{PatientReference, ReferenceTracking},
	},
}

// Roles returns the distinct roles the recipe mentions.
func (r Recipe) Roles() []Role {
	seen := make(map[Role]bool)
	var out []Role
	for _, l := range r.Links {
		for _, role := range []Role{l.Child, l.Parent} {
			if !seen[role] {
				seen[role] = true
				out = append(out, role)
			}
		}
	}
	return out
}

// Missing lists the roles the recipe needs that fs does not resolve.
func (r Recipe) Missing(fs Frames) []Role {
	var missing []Role
	for _, role := range r.Roles() {
		if fs.Get(role) == frames.None {
			missing = append(missing, role)
		}
	}
	return missing
}

// Check reports whether the recipe can be applied to g: every role
// resolved, no frame shared between roles and no parent cycle once the
// links are in place. With reset, the frames Reset detaches are treated as
// roots first.
func (r Recipe) Check(g *frames.Graph, fs Frames, reset bool) error {
	if missing := r.Missing(fs); len(missing) > 0 {
		return fmt.Errorf("%w: %s recipe needs %v", ErrMissingRole, r.Name, missing)
	}

	owner := make(map[frames.ID]Role)
	for _, role := range r.Roles() {
		id := fs[role]
		if prev, ok := owner[id]; ok {
			return fmt.Errorf("%w: %s and %s are both %q", ErrConflict, prev, role, g.Name(id))
		}
		owner[id] = role
	}

	next := make(map[frames.ID]frames.ID)
	if reset {
		for _, role := range resetRoles {
			if id := fs.Get(role); id != frames.None {
				next[id] = frames.None
			}
		}
	}
	for _, l := range r.Links {
		next[fs[l.Child]] = fs[l.Parent]
	}
	parent := func(id frames.ID) frames.ID {
		if p, ok := next[id]; ok {
			return p
		}
		return g.Parent(id)
	}

	n := g.Len()
	for _, l := range r.Links {
		child := fs[l.Child]
		steps := 0
		for p := parent(child); p != frames.None; p = parent(p) {
			if steps++; steps > n {
				return fmt.Errorf("%w: %s recipe puts %q in a parent cycle", ErrConflict, r.Name, g.Name(child))
			}
		}
	}
	return nil
}

// Apply performs the recipe's SetParent calls. Nothing is changed unless
// Check passes.
func (r Recipe) Apply(g *frames.Graph, fs Frames) error {
	if err := r.Check(g, fs, false); err != nil {
		return err
	}
	for _, l := range r.Links {
		g.SetParent(fs[l.Child], fs[l.Parent])
	}
	return nil
}

// resetRoles are the roles that appear as a child in either recipe.
var resetRoles = func() []Role {
	seen := make(map[Role]bool)
	var out []Role
	for _, recipe := range []Recipe{Registration, Navigation} {
		for _, l := range recipe.Links {
			if !seen[l.Child] {
				seen[l.Child] = true
				out = append(out, l.Child)
			}
		}
	}
	return out
}()

// Reset detaches every resolved frame that either recipe parents, so no
// stale parenting survives into the next recipe. Roots of the recipes
// (tracker base, reference tracking) are left alone. Reset is idempotent.
func Reset(g *frames.Graph, fs Frames) {
	for _, role := range resetRoles {
		if id := fs.Get(role); id != frames.None {
			g.SetParent(id, frames.None)
		}
	}
}
