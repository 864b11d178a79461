package engine

// DeriveParallelGroups identifies tool calls that were dispatched
// concurrently: a maximal run of consecutive tool_use thoughts with no
// intervening result or other activity forms one group, since all of them
// were issued before any of their results returned. The UI lays groups with
// more than one member out side-by-side.
//
// The derivation is a pure function of the full thought sequence and is
// recomputed on every append rather than maintained incrementally, so it
// stays consistent after dedup and replay.
func DeriveParallelGroups(thoughts []Thought) [][]string {
	var groups [][]string
	var current []string

	flush := func() {
		if len(current) > 0 {
			groups = append(groups, current)
			current = nil
		}
	}

	for _, t := range thoughts {
		if t.Type == ThoughtToolUse {
			current = append(current, t.ID)
			continue
		}
		// Any non-dispatch activity (a result, a thinking step, an error)
		// closes the current burst.
		flush()
	}
	flush()

	return groups
}

// ActiveAgentIDs returns the IDs of Task tool calls that have no matching
// tool result yet, in dispatch order. These represent still-running
// sub-agents.
func ActiveAgentIDs(thoughts []Thought) []string {
	resolved := make(map[string]bool)
	for _, t := range thoughts {
		if t.Type == ThoughtToolResult {
			resolved[t.ID] = true
		}
	}

	var active []string
	for _, t := range thoughts {
		if t.Type != ThoughtToolUse || t.Name != TaskToolName {
			continue
		}
		if resolved[t.ID] {
			continue
		}
		// A cancelled or errored dispatch is not an active agent even
		// without a result entry.
		if t.Status == ToolStatusCancelled || t.Status == ToolStatusError {
			continue
		}
		active = append(active, t.ID)
	}
	return active
}
