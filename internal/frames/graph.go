// Package frames implements the shared pose registry: an arena of named
// rigid-pose frames, each holding a local 4x4 transform and an optional
// parent. World poses are composed on demand from the current local
// matrices; nothing is cached because tracking sources rewrite local
// matrices at arbitrary times.
package frames

import (
	"fmt"
	"sort"
	"sync"
)

// ID addresses a frame in a Graph. IDs are stable for the life of the graph.
type ID int

// None is the absent frame: a root's parent, an unbound selector.
const None ID = -1

// Callback receives change notifications. changed is the frame whose local
// matrix was written; it is the subscribed frame itself or one of its
// ancestors.
type Callback func(changed ID)

// Token identifies a subscription. The zero Token is never issued.
type Token uint64

type frame struct {
	name     string
	local    Matrix
	parent   ID
	children map[ID]struct{}
	subs     map[Token]struct{}
}

type subscription struct {
	frame ID
	fn    Callback
}

// Graph is an acyclic forest of frames. It is safe for concurrent use: local
// matrix writes and world pose reads are mutually exclusive. Callbacks run
// on the writer's goroutine after the graph lock is released, so they may
// read the graph freely.
type Graph struct {
	mu        sync.RWMutex
	frames    []frame
	byName    map[string]ID
	subs      map[Token]subscription
	nextToken Token
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		byName: make(map[string]ID),
		subs:   make(map[Token]subscription),
	}
}

// GetOrCreate returns the frame called name, creating it with the given
// local matrix if it does not exist yet. created reports whether a new frame
// was made; an existing frame keeps its current local matrix.
func (g *Graph) GetOrCreate(name string, initial Matrix) (id ID, created bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.byName[name]; ok {
		return id, false
	}
	id = ID(len(g.frames))
	g.frames = append(g.frames, frame{
		name:     name,
		local:    initial,
		parent:   None,
		children: make(map[ID]struct{}),
		subs:     make(map[Token]struct{}),
	})
	g.byName[name] = id
	return id, true
}

// Lookup returns the frame called name without creating it.
func (g *Graph) Lookup(name string) (ID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byName[name]
	return id, ok
}

// Len returns the number of frames.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.frames)
}

// Name returns the frame's name, or "" for None.
func (g *Graph) Name(id ID) string {
	if id == None {
		return ""
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.get(id).name
}

// Names returns all frame names in creation order.
func (g *Graph) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, len(g.frames))
	for i, f := range g.frames {
		names[i] = f.name
	}
	return names
}

func (g *Graph) get(id ID) *frame {
	if id < 0 || int(id) >= len(g.frames) {
		panic(fmt.Sprintf("frames: unknown frame id %d", id))
	}
	return &g.frames[id]
}

// Local returns the frame's local matrix.
func (g *Graph) Local(id ID) Matrix {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.get(id).local
}

// Parent returns the frame's parent, or None for a root.
func (g *Graph) Parent(id ID) ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.get(id).parent
}

// Children returns the frame's direct children in ID order.
func (g *Graph) Children(id ID) []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	f := g.get(id)
	out := make([]ID, 0, len(f.children))
	for c := range f.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetParent re-parents id under parent (None detaches it). Only the parent
// reference changes; no local matrix is touched. Acyclicity is the caller's
// responsibility.
func (g *Graph) SetParent(id, parent ID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	f := g.get(id)
	if parent != None {
		g.get(parent) // bounds check before mutating anything
	}
	if f.parent != None {
		delete(g.frames[f.parent].children, id)
	}
	f.parent = parent
	if parent != None {
		g.frames[parent].children[id] = struct{}{}
	}
}

// SetLocal replaces the frame's local matrix and notifies subscribers of the
// frame and of every descendant, since their world poses changed too.
// Notifications are delivered synchronously, in subscription order, before
// SetLocal returns.
func (g *Graph) SetLocal(id ID, m Matrix) {
	for _, fn := range g.writeLocal(id, m) {
		fn(id)
	}
}

func (g *Graph) writeLocal(id ID, m Matrix) []Callback {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.get(id).local = m
	return g.collectSubscribers(id)
}

// collectSubscribers walks the subtree rooted at id. Caller holds g.mu.
func (g *Graph) collectSubscribers(id ID) []Callback {
	var tokens []Token
	stack := []ID{id}
	for steps := 0; len(stack) > 0; steps++ {
		if steps > len(g.frames) {
			panic("frames: parent cycle detected while notifying")
		}
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		f := &g.frames[cur]
		for t := range f.subs {
			tokens = append(tokens, t)
		}
		for c := range f.children {
			stack = append(stack, c)
		}
	}
	if len(tokens) == 0 {
		return nil
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
	fns := make([]Callback, len(tokens))
	for i, t := range tokens {
		fns[i] = g.subs[t].fn
	}
	return fns
}

// WorldPose composes the local matrices from id up to its root:
// world = root.local · ... · parent.local · id.local.
// It is recomputed on every call.
func (g *Graph) WorldPose(id ID) Matrix {
	g.mu.RLock()
	defer g.mu.RUnlock()

	world := g.get(id).local
	steps := 0
	for p := g.frames[id].parent; p != None; p = g.frames[p].parent {
		if steps++; steps > len(g.frames) {
			panic(fmt.Sprintf("frames: parent cycle through %q", g.frames[id].name))
		}
		world = g.frames[p].local.Mul(world)
	}
	return world
}

// Ancestors returns the chain from id (inclusive) up to its root.
func (g *Graph) Ancestors(id ID) []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	chain := []ID{id}
	for p := g.get(id).parent; p != None; p = g.frames[p].parent {
		if len(chain) > len(g.frames) {
			panic(fmt.Sprintf("frames: parent cycle through %q", g.frames[id].name))
		}
		chain = append(chain, p)
	}
	return chain
}

// Root returns the root of id's chain.
func (g *Graph) Root(id ID) ID {
	chain := g.Ancestors(id)
	return chain[len(chain)-1]
}

// Acyclic reports whether every parent chain terminates at a root.
func (g *Graph) Acyclic() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := len(g.frames)
	for i := range g.frames {
		steps := 0
		for p := g.frames[i].parent; p != None; p = g.frames[p].parent {
			if steps++; steps > n {
				return false
			}
		}
	}
	return true
}

// Subscribe registers fn for change notifications on id.
func (g *Graph) Subscribe(id ID, fn Callback) Token {
	g.mu.Lock()
	defer g.mu.Unlock()

	f := g.get(id)
	g.nextToken++
	t := g.nextToken
	g.subs[t] = subscription{frame: id, fn: fn}
	f.subs[t] = struct{}{}
	return t
}

// Unsubscribe removes a subscription. Unknown or already removed tokens are
// ignored.
func (g *Graph) Unsubscribe(t Token) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.subs[t]
	if !ok {
		return
	}
	delete(g.frames[s.frame].subs, t)
	delete(g.subs, t)
}

// Subscriptions returns the number of live subscriptions on id.
func (g *Graph) Subscriptions(id ID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.get(id).subs)
}

// FrameInfo is a point-in-time view of one frame.
type FrameInfo struct {
	ID     ID     `json:"id"`
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
	Local  Matrix `json:"local"`
	World  Matrix `json:"world"`
}

// Snapshot returns every frame with its parent name and world pose.
func (g *Graph) Snapshot() []FrameInfo {
	n := g.Len()
	out := make([]FrameInfo, 0, n)
	for i := 0; i < n; i++ {
		id := ID(i)
		info := FrameInfo{
			ID:    id,
			Name:  g.Name(id),
			Local: g.Local(id),
			World: g.WorldPose(id),
		}
		if p := g.Parent(id); p != None {
			info.Parent = g.Name(p)
		}
		out = append(out, info)
	}
	return out
}
