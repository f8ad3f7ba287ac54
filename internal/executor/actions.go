package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/browser"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
)

// ActionInput is everything an in-process handler may touch: the node being
// executed, the outputs of already-completed nodes, the task's browser
// session for handlers that drive sub-steps, and a heartbeat for handlers
// that run longer than one sweep interval.
type ActionInput struct {
	Node      *domain.DAGNode
	Results   map[string]map[string]any
	Steps     browser.StepExecutor
	Heartbeat func(ctx context.Context)
}

// beat refreshes the execution's liveness timestamp. Handlers that work
// through many sub-steps inside a single node must call it between units of
// work; the stale-execution sweep otherwise cannot tell them from a dead
// executor.
func (in ActionInput) beat(ctx context.Context) {
	if in.Heartbeat != nil {
		in.Heartbeat(ctx)
	}
}

// ActionFunc executes one orchestration-internal node.
type ActionFunc func(ctx context.Context, in ActionInput) (map[string]any, error)

// Registry maps each internal action to its handler. The set is closed:
// registration happens once at construction and covers every internal
// action, so an unhandled tag can only mean a planning bug.
type Registry struct {
	handlers map[domain.NodeAction]ActionFunc
	logger   *slog.Logger
}

// NewRegistry builds the handler table for all internal actions.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{handlers: make(map[domain.NodeAction]ActionFunc), logger: logger}
	r.handlers[domain.ActionAggregate] = r.aggregate
	r.handlers[domain.ActionFilter] = r.filter
	r.handlers[domain.ActionAnalyze] = r.rank
	r.handlers[domain.ActionRank] = r.rank
	r.handlers[domain.ActionLoop] = r.loop
	r.handlers[domain.ActionSummarize] = r.summarize
	r.handlers[domain.ActionGenerate] = r.generate
	r.handlers[domain.ActionParse] = r.parse
	return r
}

// Handles reports whether the registry has a handler for the action.
func (r *Registry) Handles(action domain.NodeAction) bool {
	_, ok := r.handlers[action]
	return ok
}

// Execute runs the node's handler.
func (r *Registry) Execute(ctx context.Context, in ActionInput) (map[string]any, error) {
	handler, ok := r.handlers[in.Node.Action]
	if !ok {
		return nil, &domain.UnknownActionError{NodeID: in.Node.ID, Action: in.Node.Action}
	}
	return handler(ctx, in)
}

// dependencyJobs collects the "jobs" lists from the outputs of the node's
// dependencies, in dependency order.
func dependencyJobs(in ActionInput) []map[string]any {
	var jobs []map[string]any
	for _, dep := range in.Node.DependsOn {
		output, ok := in.Results[dep]
		if !ok {
			continue
		}
		raw, ok := output["jobs"].([]any)
		if !ok {
			continue
		}
		for _, item := range raw {
			if job, ok := item.(map[string]any); ok {
				jobs = append(jobs, job)
			}
		}
	}
	return jobs
}

func jobsToAny(jobs []map[string]any) []any {
	out := make([]any, len(jobs))
	for i, j := range jobs {
		out[i] = j
	}
	return out
}

// jobKey identifies a job for deduplication: url, falling back to id, then
// title+company.
func jobKey(job map[string]any) string {
	if url, _ := job["url"].(string); url != "" {
		return url
	}
	if id, _ := job["id"].(string); id != "" {
		return id
	}
	title, _ := job["title"].(string)
	company, _ := job["company"].(string)
	return strings.ToLower(title + "|" + company)
}

func (r *Registry) aggregate(_ context.Context, in ActionInput) (map[string]any, error) {
	jobs := dependencyJobs(in)

	dedupe, _ := in.Node.Payload["deduplicate"].(bool)
	if dedupe {
		seen := make(map[string]struct{}, len(jobs))
		unique := jobs[:0]
		for _, job := range jobs {
			key := jobKey(job)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			unique = append(unique, job)
		}
		jobs = unique
	}

	return map[string]any{"jobs": jobsToAny(jobs), "count": len(jobs)}, nil
}

// decodeConstraints tolerates both a typed value (graph built in-process)
// and a generic map (graph round-tripped through JSON).
func decodeConstraints(v any) domain.Constraints {
	switch c := v.(type) {
	case domain.Constraints:
		return c
	case map[string]any:
		data, err := json.Marshal(c)
		if err != nil {
			return domain.Constraints{}
		}
		var out domain.Constraints
		if err := json.Unmarshal(data, &out); err != nil {
			return domain.Constraints{}
		}
		return out
	default:
		return domain.Constraints{}
	}
}

func (r *Registry) filter(_ context.Context, in ActionInput) (map[string]any, error) {
	jobs := dependencyJobs(in)
	constraints := decodeConstraints(in.Node.Payload["constraints"])
	limit := intPayload(in.Node.Payload, "target_count", 0)

	var kept []map[string]any
	for _, job := range jobs {
		if !matchesConstraints(job, constraints) {
			continue
		}
		kept = append(kept, job)
		if limit > 0 && len(kept) >= limit {
			break
		}
	}

	return map[string]any{"jobs": jobsToAny(kept), "count": len(kept), "dropped": len(jobs) - len(kept)}, nil
}

func matchesConstraints(job map[string]any, c domain.Constraints) bool {
	company := strings.ToLower(stringField(job, "company"))
	location := strings.ToLower(stringField(job, "location"))

	for _, excl := range c.ExcludeCompanies {
		if company != "" && strings.Contains(company, strings.ToLower(excl)) {
			return false
		}
	}
	for _, excl := range c.ExcludeLocations {
		if location != "" && strings.Contains(location, strings.ToLower(excl)) {
			return false
		}
	}
	if len(c.TargetCompanies) > 0 {
		found := false
		for _, want := range c.TargetCompanies {
			if strings.Contains(company, strings.ToLower(want)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.RemoteOnly {
		remote, _ := job["remote"].(bool)
		if !remote && !strings.Contains(location, "remote") {
			return false
		}
	}
	if c.MinSalary > 0 {
		if salary, ok := numberField(job, "salary_min"); ok && int(salary) < c.MinSalary {
			return false
		}
	}
	return true
}

func (r *Registry) rank(_ context.Context, in ActionInput) (map[string]any, error) {
	jobs := dependencyJobs(in)
	keywords := stringSlice(in.Node.Payload["role_keywords"])
	limit := intPayload(in.Node.Payload, "limit", 0)

	type scored struct {
		job   map[string]any
		score int
	}
	ranked := make([]scored, len(jobs))
	for i, job := range jobs {
		haystack := strings.ToLower(stringField(job, "title") + " " + stringField(job, "description"))
		score := 0
		for _, kw := range keywords {
			if strings.Contains(haystack, strings.ToLower(kw)) {
				score++
			}
		}
		ranked[i] = scored{job: job, score: score}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]any, len(ranked))
	for i, s := range ranked {
		job := make(map[string]any, len(s.job)+1)
		for k, v := range s.job {
			job[k] = v
		}
		job["match_score"] = s.score
		out[i] = job
	}
	return map[string]any{"jobs": out, "count": len(out)}, nil
}

// loop runs the node's step pipeline once per source job, strictly
// sequentially. A failing job is recorded and skipped; the loop itself only
// fails when no browser session is available for a delegated step.
func (r *Registry) loop(ctx context.Context, in ActionInput) (map[string]any, error) {
	jobs := dependencyJobs(in)
	limit := intPayload(in.Node.Payload, "limit", len(jobs))
	if limit < len(jobs) {
		jobs = jobs[:limit]
	}
	pipeline, _ := in.Node.Payload["pipeline"].([]map[string]any)
	if pipeline == nil {
		// Round-tripped through JSON.
		if raw, ok := in.Node.Payload["pipeline"].([]any); ok {
			for _, item := range raw {
				if step, ok := item.(map[string]any); ok {
					pipeline = append(pipeline, step)
				}
			}
		}
	}

	var applications []any
	submitted, failed := 0, 0
	for _, job := range jobs {
		outcome := r.runPipeline(ctx, in, job, pipeline)
		applications = append(applications, outcome)
		if ok, _ := outcome["success"].(bool); ok {
			submitted++
		} else {
			failed++
		}
		// One job's pipeline can take minutes in the browser; the whole loop
		// is a single node. Refresh liveness after each job.
		in.beat(ctx)
	}

	return map[string]any{
		"applications": applications,
		"submitted":    submitted,
		"failed":       failed,
	}, nil
}

func (r *Registry) runPipeline(ctx context.Context, in ActionInput, job map[string]any, pipeline []map[string]any) map[string]any {
	outcome := map[string]any{
		"job":     job,
		"success": true,
	}
	var stepOutputs []any

	for _, step := range pipeline {
		name, _ := step["name"].(string)
		action := domain.NodeAction(stringField(step, "action"))
		payload := templatePayload(step["payload"], job)

		var result map[string]any
		var errMsg string

		if action.Internal() {
			sub := *in.Node
			sub.Action = action
			sub.Payload = payload
			out, err := r.Execute(ctx, ActionInput{Node: &sub, Results: in.Results, Steps: in.Steps, Heartbeat: in.Heartbeat})
			if err != nil {
				errMsg = err.Error()
			} else {
				result = out
			}
		} else {
			stepPayload := map[string]any{"action": string(action)}
			for k, v := range payload {
				stepPayload[k] = v
			}
			res, err := in.Steps.ExecuteStep(ctx, stepPayload)
			switch {
			case err != nil:
				errMsg = err.Error()
			case !res.Success:
				errMsg = res.Error
			default:
				result = res.Data
			}
		}

		stepOutputs = append(stepOutputs, map[string]any{
			"name":   name,
			"action": string(action),
			"result": result,
			"error":  errMsg,
		})
		if errMsg != "" {
			outcome["success"] = false
			outcome["error"] = fmt.Sprintf("%s: %s", name, errMsg)
			r.logger.Warn("application pipeline step failed",
				slog.String("step", name),
				slog.String("job", jobKey(job)),
				slog.String("error", errMsg),
			)
			break
		}
	}

	outcome["steps"] = stepOutputs
	return outcome
}

func (r *Registry) summarize(_ context.Context, in ActionInput) (map[string]any, error) {
	report := map[string]any{
		"total":     0,
		"submitted": 0,
		"failed":    0,
	}
	for _, dep := range in.Node.DependsOn {
		output, ok := in.Results[dep]
		if !ok {
			continue
		}
		apps, _ := output["applications"].([]any)
		report["total"] = len(apps)
		if n, ok := numberField(output, "submitted"); ok {
			report["submitted"] = int(n)
		}
		if n, ok := numberField(output, "failed"); ok {
			report["failed"] = int(n)
		}
	}
	total := report["total"].(int)
	if total > 0 {
		report["success_rate"] = float64(report["submitted"].(int)) / float64(total)
	}
	return map[string]any{"report": report}, nil
}

// generate produces a content artifact descriptor from the job context. The
// artifact itself is rendered downstream; the orchestrator records what to
// generate and from which inputs.
func (r *Registry) generate(_ context.Context, in ActionInput) (map[string]any, error) {
	artifact := stringField(in.Node.Payload, "type")
	if artifact == "" {
		artifact = "document"
	}
	inputs := make(map[string]any)
	for _, dep := range in.Node.DependsOn {
		if output, ok := in.Results[dep]; ok {
			inputs[dep] = output
		}
	}
	return map[string]any{
		"artifact":  artifact,
		"generated": true,
		"inputs":    inputs,
	}, nil
}

// parse extracts the structured portion of upstream raw outputs.
func (r *Registry) parse(_ context.Context, in ActionInput) (map[string]any, error) {
	parsed := make(map[string]any)
	for _, dep := range in.Node.DependsOn {
		output, ok := in.Results[dep]
		if !ok {
			continue
		}
		if raw, ok := output["raw"]; ok {
			parsed[dep] = raw
		} else {
			parsed[dep] = output
		}
	}
	return map[string]any{"parsed": parsed}, nil
}

// templatePayload substitutes {{job.field}} placeholders in string values.
func templatePayload(payload any, job map[string]any) map[string]any {
	src, ok := payload.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		if s, ok := v.(string); ok {
			out[k] = substituteJobFields(s, job)
		} else {
			out[k] = v
		}
	}
	return out
}

func substituteJobFields(s string, job map[string]any) string {
	if !strings.Contains(s, "{{job.") {
		return s
	}
	for field, value := range job {
		placeholder := "{{job." + field + "}}"
		if strings.Contains(s, placeholder) {
			s = strings.ReplaceAll(s, placeholder, fmt.Sprintf("%v", value))
		}
	}
	return s
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func numberField(m map[string]any, key string) (float64, bool) {
	switch n := m[key].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func intPayload(m map[string]any, key string, fallback int) int {
	if n, ok := numberField(m, key); ok {
		return int(n)
	}
	return fallback
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
