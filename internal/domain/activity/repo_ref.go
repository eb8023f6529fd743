package activity

import (
	"fmt"
	"strings"
)

type RepoRef struct {
	Owner string
	Name  string
}

// ParseRepoRef accepts "owner/name" and the "https://github.com/owner/name" form.
func ParseRepoRef(ref string) (RepoRef, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return RepoRef{}, ErrRepoRefRequired
	}
	for _, prefix := range []string{"https://github.com/", "http://github.com/", "github.com/"} {
		trimmed = strings.TrimPrefix(trimmed, prefix)
	}
	trimmed = strings.TrimSuffix(strings.TrimSuffix(trimmed, "/"), ".git")

	owner, name, ok := strings.Cut(trimmed, "/")
	if !ok || owner == "" || name == "" || strings.ContainsAny(name, "/ ") || strings.Contains(owner, " ") {
		return RepoRef{}, fmt.Errorf("%w: %q", ErrInvalidRepoRef, ref)
	}
	return RepoRef{Owner: owner, Name: name}, nil
}

func (r RepoRef) FullName() string {
	return r.Owner + "/" + r.Name
}

func (r RepoRef) String() string {
	return r.FullName()
}
