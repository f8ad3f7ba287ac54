package domain

// GoalAction is the high-level objective of a submitted prompt.
type GoalAction string

const (
	GoalSearch GoalAction = "search"
	GoalApply  GoalAction = "apply"
)

// Constraints filter job listings during the search/filter phase.
type Constraints struct {
	Locations         []string `json:"locations,omitempty"`
	RemoteOnly        bool     `json:"remote_only,omitempty"`
	ExcludeLocations  []string `json:"exclude_locations,omitempty"`
	ExcludeCompanies  []string `json:"exclude_companies,omitempty"`
	TargetCompanies   []string `json:"target_companies,omitempty"`
	ExcludeIndustries []string `json:"exclude_industries,omitempty"`
	MinSalary         int      `json:"min_salary,omitempty"`
	ExperienceLevel   string   `json:"experience_level,omitempty"`
	MaxJobAgeDays     int      `json:"max_job_age_days,omitempty"`
	RequiredSkills    []string `json:"required_skills,omitempty"`
	ExcludeSkills     []string `json:"exclude_skills,omitempty"`
}

// Goal is the structured objective compiled from a user prompt.
// Immutable once produced by the intent compiler.
type Goal struct {
	Action       GoalAction  `json:"action"`
	Role         string      `json:"role"`
	RoleKeywords []string    `json:"role_keywords,omitempty"`
	TargetCount  int         `json:"target_count"`
	Platforms    []string    `json:"platforms,omitempty"`
	RawPrompt    string      `json:"raw_prompt,omitempty"`
	Constraints  Constraints `json:"constraints"`
}
