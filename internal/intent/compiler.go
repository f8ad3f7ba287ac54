// Package intent compiles natural-language prompts into structured goals.
// The parser is a regex pattern table; an LLM-backed compiler can replace it
// behind the same interface.
package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
)

// Compiler turns a raw prompt into a Goal.
type Compiler interface {
	Compile(prompt string) (*domain.Goal, error)
}

const (
	defaultTargetCount = 10
	defaultPlatform    = "linkedin"
)

var (
	countPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:apply\s+to|find|search\s+for)\s+(\d+)`),
		regexp.MustCompile(`(?i)(\d+)\s+(?:jobs?|roles?|positions?)`),
		regexp.MustCompile(`(?i)top\s+(\d+)`),
	}
	rolePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:\d+\s+)?([a-z][a-z\s]+?)\s+(?:roles?|positions?|jobs?)`),
		regexp.MustCompile(`(?i)hiring\s+(?:for\s+)?([a-z][a-z\s]+)`),
	}
	locationPattern = regexp.MustCompile(`(?i)\bin\s+([A-Za-z][A-Za-z\s]*?)(?:\.|,|$|\s+(?:and|or|on|with|avoid|exclude))`)
	remotePattern   = regexp.MustCompile(`(?i)\b(?:remote(?:\s+only)?|work\s+from\s+home|wfh)\b`)
	excludePattern  = regexp.MustCompile(`(?i)(?:avoid|exclude|no)\s+([a-z][a-z\s]+?)(?:\s+(?:startups|companies|firms))?(?:\.|,|$)`)
	salaryPattern   = regexp.MustCompile(`(?i)\$?(\d{2,3})k\s*(?:\+|or\s+more|minimum)?`)
	searchVerb      = regexp.MustCompile(`(?i)\b(?:search|find|look\s+for|show\s+me)\b`)
	applyVerb       = regexp.MustCompile(`(?i)\bapply\b`)
)

var knownPlatforms = []string{"linkedin", "indeed", "glassdoor", "wellfound", "monster", "dice"}

type compiler struct{}

// NewCompiler returns the heuristic regex-based compiler.
func NewCompiler() Compiler { return compiler{} }

func (compiler) Compile(prompt string) (*domain.Goal, error) {
	goal := &domain.Goal{
		Action:      domain.GoalApply,
		TargetCount: defaultTargetCount,
		RawPrompt:   prompt,
	}

	if searchVerb.MatchString(prompt) && !applyVerb.MatchString(prompt) {
		goal.Action = domain.GoalSearch
	}

	for _, p := range countPatterns {
		if m := p.FindStringSubmatch(prompt); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				goal.TargetCount = n
				break
			}
		}
	}

	for _, p := range rolePatterns {
		if m := p.FindStringSubmatch(prompt); m != nil {
			goal.Role = strings.TrimSpace(m[1])
			break
		}
	}
	if goal.Role != "" {
		for _, w := range strings.Fields(strings.ToLower(goal.Role)) {
			goal.RoleKeywords = append(goal.RoleKeywords, w)
		}
	}

	lower := strings.ToLower(prompt)
	for _, platform := range knownPlatforms {
		if strings.Contains(lower, platform) {
			goal.Platforms = append(goal.Platforms, platform)
		}
	}
	if len(goal.Platforms) == 0 {
		goal.Platforms = []string{defaultPlatform}
	}

	if remotePattern.MatchString(prompt) {
		goal.Constraints.RemoteOnly = true
	}
	if m := locationPattern.FindStringSubmatch(prompt); m != nil {
		loc := strings.TrimSpace(m[1])
		// "in linkedin" style matches are platform mentions, not locations.
		if !containsFold(knownPlatforms, loc) {
			goal.Constraints.Locations = []string{loc}
		}
	}
	if m := excludePattern.FindStringSubmatch(prompt); m != nil {
		goal.Constraints.ExcludeIndustries = []string{strings.TrimSpace(strings.ToLower(m[1]))}
	}
	if m := salaryPattern.FindStringSubmatch(prompt); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			goal.Constraints.MinSalary = n * 1000
		}
	}

	return goal, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
