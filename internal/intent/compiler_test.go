package intent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/intent"
)

func TestCompile_ApplyPrompt(t *testing.T) {
	c := intent.NewCompiler()

	goal, err := c.Compile("Apply to 10 Product Manager roles in NYC. Avoid crypto startups.")
	require.NoError(t, err)

	assert.Equal(t, domain.GoalApply, goal.Action)
	assert.Equal(t, 10, goal.TargetCount)
	assert.Equal(t, "Product Manager", goal.Role)
	assert.Equal(t, []string{"NYC"}, goal.Constraints.Locations)
	assert.Equal(t, []string{"crypto"}, goal.Constraints.ExcludeIndustries)
}

func TestCompile_SearchPrompt(t *testing.T) {
	c := intent.NewCompiler()

	goal, err := c.Compile("Search for 5 backend engineer jobs on linkedin and indeed, remote only")
	require.NoError(t, err)

	assert.Equal(t, domain.GoalSearch, goal.Action)
	assert.Equal(t, 5, goal.TargetCount)
	assert.ElementsMatch(t, []string{"linkedin", "indeed"}, goal.Platforms)
	assert.True(t, goal.Constraints.RemoteOnly)
}

func TestCompile_Defaults(t *testing.T) {
	c := intent.NewCompiler()

	goal, err := c.Compile("apply for data scientist positions")
	require.NoError(t, err)

	assert.Equal(t, domain.GoalApply, goal.Action)
	assert.Equal(t, 10, goal.TargetCount, "default target count")
	assert.Equal(t, []string{"linkedin"}, goal.Platforms, "default platform")
}

func TestCompile_Salary(t *testing.T) {
	c := intent.NewCompiler()

	goal, err := c.Compile("find 3 staff engineer roles, $180k minimum")
	require.NoError(t, err)
	assert.Equal(t, 180000, goal.Constraints.MinSalary)
}

func TestCompile_Deterministic(t *testing.T) {
	c := intent.NewCompiler()
	const prompt = "Apply to 7 SRE roles in Berlin on indeed"

	a, err := c.Compile(prompt)
	require.NoError(t, err)
	b, err := c.Compile(prompt)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
