package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/crucible/internal/model"
)

const (
	defaultTaskPath       = "task.yaml"
	defaultWorkspaceDir   = "workspace"
	defaultDBPath         = "crucible.db"
	defaultRunID          = "default"
	defaultSteps          = 10
	defaultPoolSize       = 4
	defaultNodesPerWorker = 1
	defaultMinDrafts      = 3
	defaultDebugProb      = 0.5
	defaultSandboxMode    = "local"
	defaultInterpreter    = "python3"
	defaultExecTimeout    = 300 * time.Second
	defaultOutputLimit    = 64 * 1024
	defaultEngineModel    = "gpt-4o"
	defaultEngineTimeout  = 120 * time.Second

	envTaskPath       = "CRUCIBLE_TASK"
	envWorkspaceDir   = "CRUCIBLE_WORKSPACE"
	envDBPath         = "CRUCIBLE_DB_PATH"
	envRunID          = "CRUCIBLE_RUN_ID"
	envLogLevel       = "CRUCIBLE_LOG_LEVEL"
	envMetricsAddr    = "CRUCIBLE_METRICS_ADDR"
	envSteps          = "CRUCIBLE_STEPS"
	envPoolSize       = "CRUCIBLE_POOL_SIZE"
	envNodesPerWorker = "CRUCIBLE_NODES_PER_WORKER"
	envMinDrafts      = "CRUCIBLE_MIN_DRAFTS"
	envDebugProb      = "CRUCIBLE_DEBUG_PROB"
	envDataPreview    = "CRUCIBLE_DATA_PREVIEW"
	envSandboxMode    = "CRUCIBLE_SANDBOX"
	envInterpreter    = "CRUCIBLE_INTERPRETER"
	envDockerImage    = "CRUCIBLE_DOCKER_IMAGE"
	envExecTimeoutS   = "CRUCIBLE_EXEC_TIMEOUT_S"
	envOutputLimit    = "CRUCIBLE_OUTPUT_LIMIT"
	envEngineURL      = "CRUCIBLE_ENGINE_URL"
	envEngineModel    = "CRUCIBLE_ENGINE_MODEL"
	envEngineAPIKey   = "CRUCIBLE_ENGINE_API_KEY"
	envEngineTimeoutS = "CRUCIBLE_ENGINE_TIMEOUT_S"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	TaskPath     string
	WorkspaceDir string
	DBPath       string
	RunID        string
	LogLevel     slog.Level
	MetricsAddr  string

	Steps          int
	PoolSize       int
	NodesPerWorker int
	MinDrafts      int
	DebugProb      float64
	DataPreview    bool

	SandboxMode string
	Interpreter []string
	DockerImage string
	ExecTimeout time.Duration
	OutputLimit int

	EngineURL     string
	EngineModel   string
	EngineAPIKey  string
	EngineTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		TaskPath:       defaultTaskPath,
		WorkspaceDir:   defaultWorkspaceDir,
		DBPath:         defaultDBPath,
		RunID:          defaultRunID,
		LogLevel:       slog.LevelInfo,
		Steps:          defaultSteps,
		PoolSize:       defaultPoolSize,
		NodesPerWorker: defaultNodesPerWorker,
		MinDrafts:      defaultMinDrafts,
		DebugProb:      defaultDebugProb,
		DataPreview:    true,
		SandboxMode:    defaultSandboxMode,
		Interpreter:    []string{defaultInterpreter},
		ExecTimeout:    defaultExecTimeout,
		OutputLimit:    defaultOutputLimit,
		EngineModel:    defaultEngineModel,
		EngineTimeout:  defaultEngineTimeout,
	}

	if v := os.Getenv(envTaskPath); v != "" {
		cfg.TaskPath = v
	}
	if v := os.Getenv(envWorkspaceDir); v != "" {
		cfg.WorkspaceDir = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envRunID); v != "" {
		cfg.RunID = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envMetricsAddr); v != "" {
		cfg.MetricsAddr = v
	}
	if v, ok := lookupInt(envSteps); ok {
		cfg.Steps = v
	}
	if v, ok := lookupInt(envPoolSize); ok {
		cfg.PoolSize = v
	}
	if v, ok := lookupInt(envNodesPerWorker); ok {
		cfg.NodesPerWorker = v
	}
	if v, ok := lookupInt(envMinDrafts); ok {
		cfg.MinDrafts = v
	}
	if v := os.Getenv(envDebugProb); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DebugProb = f
		}
	}
	if v := os.Getenv(envDataPreview); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DataPreview = b
		}
	}
	if v := os.Getenv(envSandboxMode); v != "" {
		cfg.SandboxMode = v
	}
	if v := os.Getenv(envInterpreter); v != "" {
		cfg.Interpreter = strings.Fields(v)
	}
	if v := os.Getenv(envDockerImage); v != "" {
		cfg.DockerImage = v
	}
	if v, ok := lookupInt(envExecTimeoutS); ok {
		cfg.ExecTimeout = time.Duration(v) * time.Second
	}
	if v, ok := lookupInt(envOutputLimit); ok {
		cfg.OutputLimit = v
	}
	if v := os.Getenv(envEngineURL); v != "" {
		cfg.EngineURL = v
	}
	if v := os.Getenv(envEngineModel); v != "" {
		cfg.EngineModel = v
	}
	if v := os.Getenv(envEngineAPIKey); v != "" {
		cfg.EngineAPIKey = v
	}
	if v, ok := lookupInt(envEngineTimeoutS); ok {
		cfg.EngineTimeout = time.Duration(v) * time.Second
	}

	return cfg
}

// LoadTask reads the task description from a YAML file.
func LoadTask(path string) (model.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Task{}, fmt.Errorf("read task file: %w", err)
	}

	var task model.Task
	if err := yaml.Unmarshal(data, &task); err != nil {
		return model.Task{}, fmt.Errorf("parse task file %s: %w", path, err)
	}
	if task.Name == "" {
		return model.Task{}, fmt.Errorf("task file %s: name is required", path)
	}
	if task.Description == "" {
		return model.Task{}, fmt.Errorf("task file %s: description is required", path)
	}
	if task.Metric.Name == "" {
		task.Metric.Name = "metric"
	}
	return task, nil
}

func lookupInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the given level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
