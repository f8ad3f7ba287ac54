package domain

// NodeAction tags what a DAG node does. Browser actions are delegated to the
// step-executor capability; internal actions run in-process against the
// results of already-completed nodes.
type NodeAction string

const (
	// Delegated to the step executor (browser automation boundary).
	ActionSearch     NodeAction = "search"
	ActionNavigate   NodeAction = "navigate"
	ActionClick      NodeAction = "click"
	ActionTypeText   NodeAction = "type"
	ActionScrape     NodeAction = "scrape"
	ActionFillForm   NodeAction = "fill_form"
	ActionSubmit     NodeAction = "submit"
	ActionVerify     NodeAction = "verify"
	ActionScreenshot NodeAction = "screenshot"

	// Orchestration-internal.
	ActionAggregate NodeAction = "aggregate"
	ActionFilter    NodeAction = "filter"
	ActionAnalyze   NodeAction = "analyze"
	ActionRank      NodeAction = "rank"
	ActionLoop      NodeAction = "loop"
	ActionSummarize NodeAction = "summarize"
	ActionGenerate  NodeAction = "generate"
	ActionParse     NodeAction = "parse"
)

var internalActions = map[NodeAction]struct{}{
	ActionAggregate: {},
	ActionFilter:    {},
	ActionAnalyze:   {},
	ActionRank:      {},
	ActionLoop:      {},
	ActionSummarize: {},
	ActionGenerate:  {},
	ActionParse:     {},
}

var browserActions = map[NodeAction]struct{}{
	ActionSearch:     {},
	ActionNavigate:   {},
	ActionClick:      {},
	ActionTypeText:   {},
	ActionScrape:     {},
	ActionFillForm:   {},
	ActionSubmit:     {},
	ActionVerify:     {},
	ActionScreenshot: {},
}

// Internal reports whether the action runs in-process rather than being
// delegated to the step executor.
func (a NodeAction) Internal() bool {
	_, ok := internalActions[a]
	return ok
}

// Known reports whether the action is part of the closed action set. Planning
// rejects graphs containing unknown actions.
func (a NodeAction) Known() bool {
	if _, ok := internalActions[a]; ok {
		return true
	}
	_, ok := browserActions[a]
	return ok
}

// InternalActions returns the closed set of in-process actions.
func InternalActions() []NodeAction {
	out := make([]NodeAction, 0, len(internalActions))
	for a := range internalActions {
		out = append(out, a)
	}
	return out
}

// NodeStatus is the per-node execution state. The executor is the only
// writer, exactly once per transition.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// DAGNode is a single step in an execution plan. Only Status, RetryCount and
// the transition timestamps mutate after planning.
type DAGNode struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Action           NodeAction     `json:"action"`
	DependsOn        []string       `json:"depends_on,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
	Outputs          []string       `json:"outputs,omitempty"`
	Status           NodeStatus     `json:"status"`
	RetryCount       int            `json:"retry_count"`
	MaxRetries       int            `json:"max_retries"`
	EstimatedSeconds int            `json:"estimated_seconds"`
}

// TaskGraph is a directed acyclic graph of dependent nodes. Built once by the
// planner; never restructured at runtime.
type TaskGraph struct {
	Nodes            []*DAGNode `json:"nodes"`
	GoalSummary      string     `json:"goal_summary"`
	EstimatedSeconds int        `json:"total_estimated_seconds"`
}

// Node returns the node with the given id, or nil.
func (g *TaskGraph) Node(id string) *DAGNode {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
