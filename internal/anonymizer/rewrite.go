package anonymizer

import (
	"fmt"
	"sort"

	"github.com/suyashkumar/dicom/pkg/tag"

	dcm "dcm-finder/internal/dicom"
)

// Rewriter replaces identifying attribute values in a dataset.
type Rewriter struct {
	tags   []tag.Tag
	values RewriteTable
}

// NewRewriter creates a Rewriter for table. A nil table means
// DefaultRewriteTable.
func NewRewriter(table RewriteTable) *Rewriter {
	if table == nil {
		table = DefaultRewriteTable()
	}

	tags := make([]tag.Tag, 0, len(table))
	for t := range table {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Group != tags[j].Group {
			return tags[i].Group < tags[j].Group
		}
		return tags[i].Element < tags[j].Element
	})

	return &Rewriter{tags: tags, values: table}
}

// Apply rewrites every mapped tag present in ds and returns how many were
// replaced. Tags missing from ds are not added.
func (r *Rewriter) Apply(ds *dcm.Dataset) (int, error) {
	replaced := 0
	for _, t := range r.tags {
		ok, err := ds.SetString(t, r.values[t])
		if err != nil {
			return replaced, fmt.Errorf("could not rewrite %s: %w", t, err)
		}
		if ok {
			replaced++
		}
	}
	return replaced, nil
}
