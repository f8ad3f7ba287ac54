// Package planner turns a compiled Goal into an executable task graph.
// BuildGraph is deterministic and side-effect-free; the graph shape never
// changes after planning, only node statuses do.
package planner

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
)

// DefaultPlatform is substituted when a goal names no platforms, so every
// plan contains at least one search node.
const DefaultPlatform = "linkedin"

const (
	searchEstimateSeconds    = 30
	aggregateEstimateSeconds = 2
	filterEstimateSeconds    = 3
	rankEstimateSeconds      = 5
	perApplicationSeconds    = 180
	summaryEstimateSeconds   = 2

	defaultMaxRetries = 3
	searchMaxResults  = 50
)

func newNodeID() string {
	return uuid.New().String()[:8]
}

// BuildGraph constructs the execution DAG for a goal.
//
// For an "apply" goal: one search node per platform, an aggregate node over
// all searches, then filter → rank → loop → summary. A "search" goal omits
// the loop/summary tail.
func BuildGraph(goal *domain.Goal) (*domain.TaskGraph, error) {
	if goal == nil {
		return nil, &domain.InvalidGraphError{Reason: "nil goal"}
	}

	platforms := goal.Platforms
	if len(platforms) == 0 {
		platforms = []string{DefaultPlatform}
	}

	var nodes []*domain.DAGNode

	searchIDs := make([]string, 0, len(platforms))
	for _, platform := range platforms {
		n := searchNode(goal, platform)
		nodes = append(nodes, n)
		searchIDs = append(searchIDs, n.ID)
	}

	aggregate := &domain.DAGNode{
		ID:        newNodeID(),
		Name:      "Aggregate Search Results",
		Action:    domain.ActionAggregate,
		DependsOn: searchIDs,
		Payload: map[string]any{
			"operation":   "merge_job_lists",
			"deduplicate": true,
		},
		Outputs:          []string{"raw_job_list"},
		Status:           domain.NodePending,
		MaxRetries:       defaultMaxRetries,
		EstimatedSeconds: aggregateEstimateSeconds,
	}
	nodes = append(nodes, aggregate)

	filter := &domain.DAGNode{
		ID:        newNodeID(),
		Name:      "Apply Filters",
		Action:    domain.ActionFilter,
		DependsOn: []string{aggregate.ID},
		Payload: map[string]any{
			"constraints": goal.Constraints,
			// Fetch more than needed so later stages have fallbacks.
			"target_count": goal.TargetCount * 2,
		},
		Outputs:          []string{"filtered_job_list"},
		Status:           domain.NodePending,
		MaxRetries:       defaultMaxRetries,
		EstimatedSeconds: filterEstimateSeconds,
	}
	nodes = append(nodes, filter)

	rank := &domain.DAGNode{
		ID:        newNodeID(),
		Name:      "Rank Jobs by Fit",
		Action:    domain.ActionAnalyze,
		DependsOn: []string{filter.ID},
		Payload: map[string]any{
			"operation":     "rank_by_match",
			"role_keywords": goal.RoleKeywords,
			"limit":         goal.TargetCount,
		},
		Outputs:          []string{"ranked_job_list"},
		Status:           domain.NodePending,
		MaxRetries:       defaultMaxRetries,
		EstimatedSeconds: rankEstimateSeconds,
	}
	nodes = append(nodes, rank)

	if goal.Action == domain.GoalApply {
		loop := &domain.DAGNode{
			ID:        newNodeID(),
			Name:      fmt.Sprintf("Process Top %d Jobs", goal.TargetCount),
			Action:    domain.ActionLoop,
			DependsOn: []string{rank.ID},
			Payload: map[string]any{
				"source":   "ranked_job_list",
				"limit":    goal.TargetCount,
				"pipeline": applicationPipeline(),
			},
			Outputs:          []string{"application_results"},
			Status:           domain.NodePending,
			MaxRetries:       defaultMaxRetries,
			EstimatedSeconds: goal.TargetCount * perApplicationSeconds,
		}
		nodes = append(nodes, loop)

		summary := &domain.DAGNode{
			ID:        newNodeID(),
			Name:      "Generate Report",
			Action:    domain.ActionSummarize,
			DependsOn: []string{loop.ID},
			Payload: map[string]any{
				"operation": "generate_completion_report",
			},
			Outputs:          []string{"final_report"},
			Status:           domain.NodePending,
			MaxRetries:       defaultMaxRetries,
			EstimatedSeconds: summaryEstimateSeconds,
		}
		nodes = append(nodes, summary)
	}

	total := 0
	for _, n := range nodes {
		total += n.EstimatedSeconds
	}

	graph := &domain.TaskGraph{
		Nodes:            nodes,
		GoalSummary:      summarize(goal, platforms),
		EstimatedSeconds: total,
	}
	if err := Validate(graph); err != nil {
		return nil, err
	}
	return graph, nil
}

func searchNode(goal *domain.Goal, platform string) *domain.DAGNode {
	var location string
	if len(goal.Constraints.Locations) > 0 {
		location = goal.Constraints.Locations[0]
	}
	return &domain.DAGNode{
		ID:        newNodeID(),
		Name:      "Search " + titleCase(platform),
		Action:    domain.ActionSearch,
		DependsOn: nil,
		Payload: map[string]any{
			"platform":    platform,
			"query":       goal.Role,
			"keywords":    goal.RoleKeywords,
			"location":    location,
			"remote":      goal.Constraints.RemoteOnly,
			"max_results": searchMaxResults,
		},
		Outputs:          []string{platform + "_job_list"},
		Status:           domain.NodePending,
		MaxRetries:       defaultMaxRetries,
		EstimatedSeconds: searchEstimateSeconds,
	}
}

// applicationPipeline is the per-candidate template the loop node carries.
func applicationPipeline() []map[string]any {
	return []map[string]any{
		{"name": "Navigate to Job", "action": string(domain.ActionNavigate), "payload": map[string]any{"url": "{{job.url}}"}},
		{"name": "Scrape Job Details", "action": string(domain.ActionScrape), "payload": map[string]any{"extract": []string{"description", "requirements", "company_info"}}},
		{"name": "Tailor Resume", "action": string(domain.ActionGenerate), "payload": map[string]any{"type": "tailored_resume"}},
		{"name": "Start Application", "action": string(domain.ActionClick), "payload": map[string]any{"target": "apply_button"}},
		{"name": "Fill Application Form", "action": string(domain.ActionFillForm), "payload": map[string]any{"use_tailored_resume": true}},
		{"name": "Critic Review", "action": string(domain.ActionVerify), "payload": map[string]any{"check": "hallucination_guard"}},
		{"name": "Submit Application", "action": string(domain.ActionSubmit), "payload": map[string]any{"confirm": true}},
		{"name": "Capture Confirmation", "action": string(domain.ActionScreenshot), "payload": map[string]any{"save_to": "{{job.id}}_confirmation.png"}},
	}
}

func summarize(goal *domain.Goal, platforms []string) string {
	verb := "Search for"
	if goal.Action == domain.GoalApply {
		verb = "Apply to"
	}
	location := ""
	if len(goal.Constraints.Locations) > 0 {
		location = " in " + strings.Join(goal.Constraints.Locations, ", ")
	} else if goal.Constraints.RemoteOnly {
		location = " (remote)"
	}
	names := make([]string, len(platforms))
	for i, p := range platforms {
		names[i] = titleCase(p)
	}
	return fmt.Sprintf("%s %d %s roles%s on %s", verb, goal.TargetCount, goal.Role, location, strings.Join(names, ", "))
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
