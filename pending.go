package pollsync

import (
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// PendingSet holds the manifest names that have not been transferred yet. It
// is owned by a single Run and is not safe for concurrent use.
type PendingSet struct {
	names mapset.Set[string]
}

func NewPendingSet() *PendingSet {
	return &PendingSet{names: mapset.NewThreadUnsafeSet[string]()}
}

// Initialize replaces the contents of the set. On error the set is left as it
// was.
func (p *PendingSet) Initialize(names []string) error {
	next := mapset.NewThreadUnsafeSetWithSize[string](len(names))
	for i, name := range names {
		if err := validateName(name); err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrInvalidManifest, i, err)
		}
		next.Add(name)
	}
	p.names = next
	return nil
}

func (p *PendingSet) Contains(name string) bool {
	return p.names.Contains(name)
}

func (p *PendingSet) Remove(name string) {
	p.names.Remove(name)
}

func (p *PendingSet) IsEmpty() bool {
	return p.names.Cardinality() == 0
}

func (p *PendingSet) Len() int {
	return p.names.Cardinality()
}

// Names returns the pending names in sorted order.
func (p *PendingSet) Names() []string {
	names := p.names.ToSlice()
	sort.Strings(names)
	return names
}

// validateName rejects names that would escape the local directory or that
// need recursion to resolve.
func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty file name")
	case name == "." || name == "..":
		return fmt.Errorf("invalid file name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("file name %q contains a path separator", name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("file name %q contains a NUL byte", name)
	}
	return nil
}
