package model

// TaskMetric names the score a task is optimized for and its direction.
type TaskMetric struct {
	Name     string `yaml:"name" json:"name"`
	Maximize bool   `yaml:"maximize" json:"maximize"`
}

// Task describes the problem the search is solving. Every worker in a pool
// receives an identical copy at construction.
type Task struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Metric      TaskMetric `yaml:"metric" json:"metric"`
}
