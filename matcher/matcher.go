// Package matcher resolves listing titles to registered manga by primary
// name or alias.
package matcher

import (
	"slices"

	"github.com/pevans/mangatrack/registry"
)

// Result is the outcome of matching one title. Exactly one of Matched and
// Ambiguous is true when the title hit the registry.
type Result struct {
	MangaID    int64
	Matched    bool
	Ambiguous  bool
	Candidates []int64 // every manga the title resolved to, set when Ambiguous
}

// Index is a read-only snapshot of the registry for one pass. It is safe for
// concurrent use.
type Index struct {
	names map[string][]int64
}

// NewIndex builds an index over the primary names and aliases of mangas.
func NewIndex(mangas []registry.Manga) *Index {
	idx := &Index{names: make(map[string][]int64)}

	for _, m := range mangas {
		for _, name := range m.Names() {
			key := registry.NormalizeName(name)
			if key == "" || slices.Contains(idx.names[key], m.ID) {
				continue
			}
			idx.names[key] = append(idx.names[key], m.ID)
		}
	}

	return idx
}

// Match resolves title. A title that normalizes to names of more than one
// manga is ambiguous and never picks one of them.
func (idx *Index) Match(title string) Result {
	ids := idx.names[registry.NormalizeName(title)]

	switch len(ids) {
	case 0:
		return Result{}
	case 1:
		return Result{MangaID: ids[0], Matched: true}
	default:
		candidates := slices.Clone(ids)
		slices.Sort(candidates)
		return Result{Ambiguous: true, Candidates: candidates}
	}
}

// Len returns the number of distinct normalized names.
func (idx *Index) Len() int {
	return len(idx.names)
}
