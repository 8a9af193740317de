package server

import "sync"

// Registry tracks which live connections belong to which room group.
// Pure bookkeeping: callers validate room and membership before
// attaching. Its lock is independent of the lifecycle manager's
// per-room serialization, so attach/detach never waits on game-state
// transitions.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}
	rooms  map[*Client]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string]map[*Client]struct{}),
		rooms:  make(map[*Client]string),
	}
}

// Attach adds a connection to a room's group.
func (g *Registry) Attach(c *Client, code string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	group, ok := g.groups[code]
	if !ok {
		group = make(map[*Client]struct{})
		g.groups[code] = group
	}
	group[c] = struct{}{}
	g.rooms[c] = code
}

// Detach removes a connection from its group. Safe to call for a
// connection that was never attached, and safe to call twice.
func (g *Registry) Detach(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	code, ok := g.rooms[c]
	if !ok {
		return
	}
	delete(g.rooms, c)

	group := g.groups[code]
	delete(group, c)
	if len(group) == 0 {
		delete(g.groups, code)
	}
}

// Members returns the connections currently attached to a room.
func (g *Registry) Members(code string) []*Client {
	g.mu.RLock()
	defer g.mu.RUnlock()

	group := g.groups[code]
	members := make([]*Client, 0, len(group))
	for c := range group {
		members = append(members, c)
	}
	return members
}

// All returns every attached connection, across rooms.
func (g *Registry) All() []*Client {
	g.mu.RLock()
	defer g.mu.RUnlock()

	clients := make([]*Client, 0, len(g.rooms))
	for c := range g.rooms {
		clients = append(clients, c)
	}
	return clients
}

// Broadcast queues one encoded message on every connection in the
// room group. Fan-out is non-blocking: a slow reader drops messages
// instead of stalling the rest of the group.
func (g *Registry) Broadcast(code string, data []byte) {
	for _, c := range g.Members(code) {
		c.send(data)
	}
}
