package llm

// TaskType identifies the kind of LLM work being requested. Tasks map
// to provider/model chains so cheap work stays on cheap models.
type TaskType string

// Task types.
const (
	TaskTaxonomy         TaskType = "taxonomy_mapping"
	TaskEpisodeAnalysis  TaskType = "episode_analysis"
	TaskMediaDescription TaskType = "media_description"
	TaskChecklist        TaskType = "vetting_checklist"
	TaskScoring          TaskType = "vetting_scoring"
)

// ProviderModel pins a provider to a concrete model for a task. An
// empty Model falls back to the provider's configured default.
type ProviderModel struct {
	Provider ProviderName
	Model    string
}

// TaskConfig holds per-task provider chains.
type TaskConfig struct {
	chains map[TaskType][]ProviderModel
}

// DefaultTaskConfig routes bulk tasks (taxonomy mapping, episode
// analysis, descriptions) to mini models and judgement tasks
// (checklist generation, scoring) to the larger tier.
func DefaultTaskConfig() *TaskConfig {
	bulk := []ProviderModel{
		{Provider: ProviderOpenAI, Model: ""},
		{Provider: ProviderOpenRouter, Model: ""},
		{Provider: ProviderMock, Model: ""},
	}
	judgement := []ProviderModel{
		{Provider: ProviderOpenAI, Model: ModelGPT4o},
		{Provider: ProviderOpenRouter, Model: ""},
		{Provider: ProviderMock, Model: ""},
	}

	return &TaskConfig{chains: map[TaskType][]ProviderModel{
		TaskTaxonomy:         bulk,
		TaskEpisodeAnalysis:  bulk,
		TaskMediaDescription: bulk,
		TaskChecklist:        judgement,
		TaskScoring:          judgement,
	}}
}

// ChainFor returns the provider chain for a task. Unknown tasks get
// the bulk chain for taxonomy mapping so nothing is unroutable.
func (c *TaskConfig) ChainFor(task TaskType) []ProviderModel {
	if chain, ok := c.chains[task]; ok {
		return chain
	}

	return c.chains[TaskTaxonomy]
}
