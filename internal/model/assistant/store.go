package assistant

// Store exposes profile retrieval for handlers and services.
type Store interface {
	Default() Profile
	FindByID(id string) (Profile, bool)
}

// MemoryStore implements Store with an in-memory slice. The first item is
// the default profile.
type MemoryStore struct {
	items []Profile
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied profiles.
func NewMemoryStore(items []Profile) *MemoryStore {
	return &MemoryStore{items: append([]Profile(nil), items...)}
}

// Default returns the first profile, or an empty one when the store is empty.
func (s *MemoryStore) Default() Profile {
	if len(s.items) == 0 {
		return Profile{}
	}
	return s.items[0]
}

// FindByID looks up a profile by identifier.
func (s *MemoryStore) FindByID(id string) (Profile, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Profile{}, false
}
