package interval

import (
	"sort"

	"ghchrono/internal/domain/activity"
)

// Scope selects the subjects a reconstruction pass rebuilds.
type Scope struct {
	all      bool
	subjects map[activity.Subject]struct{}
}

func All() Scope {
	return Scope{all: true}
}

func ScopeOf(subjects ...activity.Subject) Scope {
	s := Scope{subjects: make(map[activity.Subject]struct{}, len(subjects))}
	for _, subject := range subjects {
		s.Add(subject)
	}
	return s
}

func (s *Scope) Add(subject activity.Subject) {
	if s.all {
		return
	}
	if s.subjects == nil {
		s.subjects = make(map[activity.Subject]struct{})
	}
	s.subjects[subject] = struct{}{}
}

func (s *Scope) Merge(other Scope) {
	if other.all {
		s.all = true
		s.subjects = nil
		return
	}
	for subject := range other.subjects {
		s.Add(subject)
	}
}

func (s Scope) IsAll() bool { return s.all }

func (s Scope) Empty() bool { return !s.all && len(s.subjects) == 0 }

func (s Scope) Len() int { return len(s.subjects) }

func (s Scope) Contains(subject activity.Subject) bool {
	if s.all {
		return true
	}
	_, ok := s.subjects[subject]
	return ok
}

// IDsByType groups the scoped subject ids by subject type, sorted ascending.
func (s Scope) IDsByType() map[string][]int64 {
	out := make(map[string][]int64)
	for subject := range s.subjects {
		out[subject.Type] = append(out[subject.Type], subject.ID)
	}
	for _, ids := range out {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return out
}

// Subjects returns the scoped subjects ordered by type then id.
func (s Scope) Subjects() []activity.Subject {
	out := make([]activity.Subject, 0, len(s.subjects))
	for subject := range s.subjects {
		out = append(out, subject)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ID < out[j].ID
	})
	return out
}
