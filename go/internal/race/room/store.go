package room

// Store holds room state by id. The registry only talks to this interface so the local map can
// be swapped for a shared store.
type Store interface {
	Get(roomID string) (*Room, bool)
	Put(room *Room)
	Delete(roomID string)
	Range(fn func(room *Room) bool)
	Len() int
}

// MemoryStore is a Store backed by a plain map. It is not safe for concurrent use; the owner
// serializes access.
type MemoryStore struct {
	rooms map[string]*Room
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]*Room),
	}
}

func (s *MemoryStore) Get(roomID string) (*Room, bool) {
	r, ok := s.rooms[roomID]
	return r, ok
}

func (s *MemoryStore) Put(room *Room) {
	s.rooms[room.ID] = room
}

func (s *MemoryStore) Delete(roomID string) {
	delete(s.rooms, roomID)
}

func (s *MemoryStore) Range(fn func(room *Room) bool) {
	for _, r := range s.rooms {
		if !fn(r) {
			return
		}
	}
}

func (s *MemoryStore) Len() int {
	return len(s.rooms)
}
