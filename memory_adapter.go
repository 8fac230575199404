package sio

import (
	"sort"
	"sync"

	"github.com/sioworks/sio/parser"
)

// MemoryAdapter is the in-process Adapter implementation: two map
// indices guarded by one RWMutex.
type MemoryAdapter struct {
	rooms       map[string]map[string]bool // room -> socketIDs
	socketRooms map[string]map[string]bool // socketID -> rooms
	mu          sync.RWMutex
	namespace   *Namespace
}

// NewMemoryAdapter creates a new in-memory adapter.
func NewMemoryAdapter(namespace *Namespace) Adapter {
	return &MemoryAdapter{
		rooms:       make(map[string]map[string]bool),
		socketRooms: make(map[string]map[string]bool),
		namespace:   namespace,
	}
}

// Add records membership of a socket in a room.
func (a *MemoryAdapter) Add(socketID, room string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rooms[room] == nil {
		a.rooms[room] = make(map[string]bool)
	}
	a.rooms[room][socketID] = true

	if a.socketRooms[socketID] == nil {
		a.socketRooms[socketID] = make(map[string]bool)
	}
	a.socketRooms[socketID][room] = true

	return nil
}

// Del removes a socket from a room.
func (a *MemoryAdapter) Del(socketID, room string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.del(socketID, room)
	if a.socketRooms[socketID] != nil {
		delete(a.socketRooms[socketID], room)
		if len(a.socketRooms[socketID]) == 0 {
			delete(a.socketRooms, socketID)
		}
	}

	return nil
}

// del removes one side of the membership. Caller holds the lock.
func (a *MemoryAdapter) del(socketID, room string) {
	if a.rooms[room] != nil {
		delete(a.rooms[room], socketID)
		if len(a.rooms[room]) == 0 {
			delete(a.rooms, room)
		}
	}
}

// DelAll removes a socket from every room.
func (a *MemoryAdapter) DelAll(socketID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for room := range a.socketRooms[socketID] {
		a.del(socketID, room)
	}
	delete(a.socketRooms, socketID)
}

// Clients enumerates matching socket ids in sorted order.
func (a *MemoryAdapter) Clients(rooms ...string) []string {
	targets := a.targets(rooms, nil)

	result := make([]string, 0, len(targets))
	for socketID := range targets {
		result = append(result, socketID)
	}
	sort.Strings(result)
	return result
}

// Broadcast encodes the packet once and writes the resulting frames
// through each target client's packet path.
func (a *MemoryAdapter) Broadcast(packet *parser.Packet, opts *BroadcastOptions) error {
	if opts == nil {
		opts = &BroadcastOptions{}
	}

	targets := a.targets(opts.Rooms, opts.Except)

	frames, err := a.namespace.server.parser.NewEncoder().Encode(packet)
	if err != nil {
		return err
	}

	writeOpts := &WriteOptions{
		PreEncoded: true,
		Volatile:   opts.Flags.volatile(),
		Compress:   opts.Flags.compress(),
	}

	log := adapterLog()
	log.Debug().Str("nsp", a.namespace.name).Strs("rooms", opts.Rooms).
		Int("targets", len(targets)).Msg("broadcasting packet")

	for socketID := range targets {
		socket, ok := a.namespace.connectedSocket(socketID)
		if !ok {
			continue
		}
		if writeOpts.Volatile && !socket.conn.Writable() {
			log.Debug().Str("socket", socketID).Msg("volatile target not writable, skipping")
			continue
		}
		socket.client.writeFrames(frames, writeOpts)
	}

	return nil
}

// targets resolves the recipient set: every connected socket of the
// namespace when rooms is empty, else the union of room members, minus
// the exclusions.
func (a *MemoryAdapter) targets(rooms []string, except []string) map[string]bool {
	excludeMap := make(map[string]bool, len(except))
	for _, sid := range except {
		excludeMap[sid] = true
	}

	targets := make(map[string]bool)

	if len(rooms) == 0 {
		for _, sid := range a.namespace.connectedIDs() {
			if !excludeMap[sid] {
				targets[sid] = true
			}
		}
		return targets
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, room := range rooms {
		for socketID := range a.rooms[room] {
			if !excludeMap[socketID] {
				targets[socketID] = true
			}
		}
	}
	return targets
}

// Close cleans up the adapter.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rooms = make(map[string]map[string]bool)
	a.socketRooms = make(map[string]map[string]bool)

	return nil
}
