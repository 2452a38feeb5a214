package workspace

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fabworks/fabdeploy/itemtype"
)

// Action is the recorded outcome of one item or folder operation.
type Action string

const (
	ActionCreated           Action = "created"
	ActionUpdated           Action = "updated"
	ActionUnchanged         Action = "unchanged"
	ActionExcluded          Action = "excluded"
	ActionSkippedGate       Action = "skipped-disabled"
	ActionSkippedDependency Action = "skipped-dependency"
	ActionDeleted           Action = "deleted"
	ActionFailed            Action = "failed"
)

// ItemResult is one line of the run report.
type ItemResult struct {
	Type   itemtype.Type
	Name   string
	Action Action
	Detail string
	Err    error
}

func (r ItemResult) String() string {
	line := fmt.Sprintf("%-10s %s.%s", r.Action, r.Name, r.Type)
	if r.Detail != "" {
		line += " (" + r.Detail + ")"
	}
	if r.Err != nil {
		line += ": " + r.Err.Error()
	}
	return line
}

// Summary accumulates results across concurrent publishers.
type Summary struct {
	mu      sync.Mutex
	results []ItemResult
}

func (s *Summary) Append(result ItemResult) {
	s.mu.Lock()
	s.results = append(s.results, result)
	s.mu.Unlock()
}

func (s *Summary) Results() []ItemResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]ItemResult, len(s.results))
	copy(results, s.results)
	return results
}

// Failed returns the results that recorded an error.
func (s *Summary) Failed() []ItemResult {
	var failed []ItemResult
	for _, r := range s.Results() {
		if r.Action == ActionFailed {
			failed = append(failed, r)
		}
	}
	return failed
}

// ExitCode derives the process exit status: 0 when every item settled,
// 2 when the run completed but some items failed.
func (s *Summary) ExitCode() int {
	if len(s.Failed()) > 0 {
		return 2
	}
	return 0
}

func (s *Summary) String() string {
	results := s.Results()
	if len(results) == 0 {
		return "nothing to do"
	}
	counts := map[Action]int{}
	var b strings.Builder
	for _, r := range results {
		counts[r.Action]++
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	b.WriteString(fmt.Sprintf("total=%d created=%d updated=%d unchanged=%d deleted=%d failed=%d\n",
		len(results), counts[ActionCreated], counts[ActionUpdated],
		counts[ActionUnchanged], counts[ActionDeleted], counts[ActionFailed]))
	return b.String()
}
