package booking

// Sessions opens per-session Stores over a shared Persister.
type Sessions struct {
	persister Persister
	opts      []Option
}

// NewSessions returns a Sessions whose stores are created with opts.
func NewSessions(p Persister, opts ...Option) *Sessions {
	if p == nil {
		panic("booking persister cannot be nil")
	}
	return &Sessions{persister: p, opts: opts}
}

// Open returns the Store for sessionID. Stores opened separately for the
// same session share persisted state but not a lock, so concurrent writers
// race and the last save wins.
func (s *Sessions) Open(sessionID string) *Store {
	return NewStore(s.persister, SessionKey(sessionID), s.opts...)
}
