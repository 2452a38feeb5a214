package workspace

import (
	"sort"
	"strings"

	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/repository"
)

// orderByDependencies topologically sorts items of one type whose behavior
// table names a dependency file: an item referencing a sibling's logical id
// in that file publishes after the sibling. A reference cycle cannot be
// ordered and aborts the type.
func orderByDependencies(items []*repository.Item, dependencyFile string) ([]*repository.Item, error) {
	if dependencyFile == "" || len(items) < 2 {
		return items, nil
	}

	byLogicalID := map[string]*repository.Item{}
	for _, item := range items {
		byLogicalID[item.LogicalID] = item
	}

	// edges[a] holds the siblings a depends on.
	edges := map[*repository.Item][]*repository.Item{}
	indegree := map[*repository.Item]int{}
	for _, item := range items {
		indegree[item] = 0
	}
	for _, item := range items {
		f, ok := item.FindFile(dependencyFile)
		if !ok || f.IsBinary() {
			continue
		}
		text := f.Text()
		for logicalID, sibling := range byLogicalID {
			if sibling == item || !strings.Contains(text, logicalID) {
				continue
			}
			edges[item] = append(edges[item], sibling)
			indegree[item]++
		}
	}

	// Kahn's algorithm; ready items stay name-sorted so runs are stable.
	var ready []*repository.Item
	for _, item := range items {
		if indegree[item] == 0 {
			ready = append(ready, item)
		}
	}
	sortByName(ready)

	dependents := map[*repository.Item][]*repository.Item{}
	for item, deps := range edges {
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], item)
		}
	}

	ordered := make([]*repository.Item, 0, len(items))
	for len(ready) > 0 {
		item := ready[0]
		ready = ready[1:]
		ordered = append(ordered, item)
		for _, dependent := range dependents[item] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
				sortByName(ready)
			}
		}
	}

	if len(ordered) != len(items) {
		var stuck []string
		for item, degree := range indegree {
			if degree > 0 {
				stuck = append(stuck, item.Key())
			}
		}
		sort.Strings(stuck)
		return nil, faults.Newf(faults.RepositoryError,
			"reference cycle between items: %s", strings.Join(stuck, ", "))
	}
	return ordered, nil
}

// dependenciesOf returns the sibling keys an item references in its
// dependency file, for cascading skip reporting.
func dependenciesOf(item *repository.Item, siblings []*repository.Item, dependencyFile string) []string {
	if dependencyFile == "" {
		return nil
	}
	f, ok := item.FindFile(dependencyFile)
	if !ok || f.IsBinary() {
		return nil
	}
	text := f.Text()
	var keys []string
	for _, sibling := range siblings {
		if sibling != item && strings.Contains(text, sibling.LogicalID) {
			keys = append(keys, sibling.Key())
		}
	}
	sort.Strings(keys)
	return keys
}

func sortByName(items []*repository.Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
}
