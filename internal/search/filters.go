package search

// FilterFunc checks if a fused result matches filter criteria.
type FilterFunc func(result *FusedResult) bool

// ApplyFilters keeps results matching every active filter (AND logic).
// Filters read the vector-side metadata snapshot, so while any filter is
// active a lexical-only result never matches.
func ApplyFilters(results []*FusedResult, filters Filters) []*FusedResult {
	if !filters.Active() {
		return results
	}

	funcs := buildFilters(filters)
	filtered := make([]*FusedResult, 0, len(results))
	for _, r := range results {
		if matchesAllFilters(r, funcs) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// buildFilters creates filter functions for the active filters.
func buildFilters(f Filters) []FilterFunc {
	funcs := []FilterFunc{hasMetadata}

	if f.DocumentID != nil {
		id := *f.DocumentID
		funcs = append(funcs, func(r *FusedResult) bool {
			return r.Metadata.DocumentID == id
		})
	}
	if f.SectionType != "" {
		section := f.SectionType
		funcs = append(funcs, func(r *FusedResult) bool {
			return r.Metadata.SectionType == section
		})
	}
	return funcs
}

func hasMetadata(r *FusedResult) bool {
	return r.HasVector
}

func matchesAllFilters(r *FusedResult, funcs []FilterFunc) bool {
	for _, f := range funcs {
		if !f(r) {
			return false
		}
	}
	return true
}
