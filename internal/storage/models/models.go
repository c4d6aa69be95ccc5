package models

import "time"

// Snapshot is one persisted reflection run. Snapshots are never updated;
// saving again creates a new row.
type Snapshot struct {
	ID              int64     `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	UserPrompt      string    `json:"user_prompt" yaml:"user_prompt"`
	SystemPrompt    string    `json:"system_prompt" yaml:"system_prompt"`
	ModelName       string    `json:"model_name" yaml:"model_name"`
	CoTPrompt       string    `json:"cot_prompt" yaml:"cot_prompt"`
	InitialResponse string    `json:"initial_response" yaml:"initial_response"`
	Thinking        string    `json:"thinking" yaml:"thinking"`
	Reflection      string    `json:"reflection" yaml:"reflection"`
	FinalResponse   string    `json:"final_response" yaml:"final_response"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
	Tags            string    `json:"tags" yaml:"tags"`
}

// SnapshotInput is the caller-supplied part of a Snapshot.
type SnapshotInput struct {
	Name            string `json:"name"`
	UserPrompt      string `json:"user_prompt"`
	SystemPrompt    string `json:"system_prompt"`
	ModelName       string `json:"model_name"`
	CoTPrompt       string `json:"cot_prompt"`
	InitialResponse string `json:"initial_response"`
	Thinking        string `json:"thinking"`
	Reflection      string `json:"reflection"`
	FinalResponse   string `json:"final_response"`
	Tags            string `json:"tags"`
}

type SnapshotSummary struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	ModelName  string    `json:"model_name"`
	UserPrompt string    `json:"user_prompt"`
	Tags       string    `json:"tags"`
}

// Evaluation is a stored judge verdict. The snapshot ids are plain
// references and may outlive the snapshots they point to.
type Evaluation struct {
	ID             int64                     `json:"id"`
	Snapshot1ID    int64                     `json:"snapshot1_id"`
	Snapshot2ID    int64                     `json:"snapshot2_id"`
	JudgeModel     string                    `json:"judge_model"`
	Aspects        []string                  `json:"aspects"`
	Metrics        []string                  `json:"metrics"`
	CustomCriteria string                    `json:"custom_criteria"`
	Labels         []string                  `json:"labels"`
	Verdict        string                    `json:"verdict"`
	Scores         map[string]map[string]int `json:"scores"`
	CreatedAt      time.Time                 `json:"created_at"`
}
