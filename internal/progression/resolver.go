package progression

import (
	"cmp"
	"slices"

	"github.com/p-n-ai/pai-learn/internal/catalog"
)

// Sequence is the flat course order of sessions that defines "next".
type Sequence struct {
	sessions []catalog.Session
	position map[string]int
}

// Resolve orders a course's sessions by module sort order, then session sort
// order, with definition order breaking ties at both levels. An empty course
// yields an empty sequence.
func Resolve(course catalog.Course) Sequence {
	modules := slices.Clone(course.Modules)
	slices.SortStableFunc(modules, func(a, b catalog.Module) int {
		return cmp.Or(cmp.Compare(a.SortOrder, b.SortOrder), cmp.Compare(a.Seq, b.Seq))
	})

	seq := Sequence{position: make(map[string]int)}
	for _, m := range modules {
		sessions := slices.Clone(m.Sessions)
		slices.SortStableFunc(sessions, func(a, b catalog.Session) int {
			return cmp.Or(cmp.Compare(a.SortOrder, b.SortOrder), cmp.Compare(a.Seq, b.Seq))
		})
		for _, s := range sessions {
			seq.position[s.ID] = len(seq.sessions)
			seq.sessions = append(seq.sessions, s)
		}
	}
	return seq
}

// Len returns the number of sessions in the course.
func (s Sequence) Len() int {
	return len(s.sessions)
}

// Sessions returns the ordered sessions.
func (s Sequence) Sessions() []catalog.Session {
	return slices.Clone(s.sessions)
}

// IDs returns the ordered session ids.
func (s Sequence) IDs() []string {
	ids := make([]string, len(s.sessions))
	for i, session := range s.sessions {
		ids[i] = session.ID
	}
	return ids
}

// Position returns the zero-based index of a session.
func (s Sequence) Position(sessionID string) (int, bool) {
	pos, ok := s.position[sessionID]
	return pos, ok
}

// Predecessor returns the session immediately before sessionID.
func (s Sequence) Predecessor(sessionID string) (catalog.Session, bool) {
	pos, ok := s.position[sessionID]
	if !ok || pos == 0 {
		return catalog.Session{}, false
	}
	return s.sessions[pos-1], true
}

// Successor returns the session immediately after sessionID.
func (s Sequence) Successor(sessionID string) (catalog.Session, bool) {
	pos, ok := s.position[sessionID]
	if !ok || pos+1 >= len(s.sessions) {
		return catalog.Session{}, false
	}
	return s.sessions[pos+1], true
}
