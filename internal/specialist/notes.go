package specialist

import "sync"

// maxNotes bounds the working memory kept per specialist.
const maxNotes = 20

// Notes is working memory scoped by specialist id. Notes survive a resumed
// invocation and are cleared when a fresh invocation starts.
type Notes struct {
	mu    sync.Mutex
	notes map[string][]string
}

// NewNotes creates an empty note store.
func NewNotes() *Notes {
	return &Notes{notes: make(map[string][]string)}
}

// Add records a note, dropping the oldest once the limit is reached.
func (n *Notes) Add(specialistID, note string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	list := append(n.notes[specialistID], note)
	if len(list) > maxNotes {
		list = list[len(list)-maxNotes:]
	}
	n.notes[specialistID] = list
}

// Get returns a copy of the notes for a specialist.
func (n *Notes) Get(specialistID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notes[specialistID]...)
}

// Clear forgets every note for a specialist.
func (n *Notes) Clear(specialistID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.notes, specialistID)
}
