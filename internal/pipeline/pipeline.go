// Package pipeline builds and runs the external extract and index commands.
//
// A Runner executes one Command and reports its combined output. ExecRunner starts a
// real OS process; DryRunner only logs what would run.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/hpungsan/docwatch/internal/config"
)

// Step names, in execution order.
const (
	StepExtract = "extract"
	StepIndex   = "index"
)

// Environment variables passed to both tools.
const (
	EnvCollection = "DOCWATCH_COLLECTION"
	EnvRepository = "DOCWATCH_REPOSITORY"
	EnvRunID      = "DOCWATCH_RUN_ID"
)

// Command describes one pipeline step invocation.
type Command struct {
	Step string
	Path string
	Args []string
	// Env is appended to the parent environment.
	Env []string
	Dir string
}

// Argv returns the full argument vector, program first.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// String renders the command for logs, quoting arguments that contain spaces.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, arg := range c.Argv() {
		if arg == "" || strings.ContainsAny(arg, " \t\n\"'") {
			arg = `"` + strings.ReplaceAll(arg, `"`, `\"`) + `"`
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// WithEnv returns a copy of c with extra environment entries.
func (c Command) WithEnv(kv ...string) Command {
	env := make([]string, 0, len(c.Env)+len(kv))
	env = append(env, c.Env...)
	env = append(env, kv...)
	c.Env = env
	c.Args = append([]string(nil), c.Args...)
	return c
}

// Result is the outcome of a finished command.
type Result struct {
	Output   string
	ExitCode int
	Duration time.Duration
}

// Runner executes a single command. A non-nil error means the step failed, either
// because the process could not be launched or because it exited non-zero; Result
// still carries whatever output was captured.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Build returns the extract and index commands for cfg.
//
//	extract: <extract_command...> <repository_path> <extracted_json_path>
//	index:   <index_command...> <index_config_path>
func Build(cfg *config.Config) []Command {
	env := []string{
		EnvCollection + "=" + cfg.CollectionName,
		EnvRepository + "=" + cfg.RepositoryPath,
	}

	extractArgs := append([]string(nil), cfg.ExtractCommand[1:]...)
	extractArgs = append(extractArgs, cfg.RepositoryPath, cfg.ExtractedJSONPath)

	indexArgs := append([]string(nil), cfg.IndexCommand[1:]...)
	indexArgs = append(indexArgs, cfg.IndexConfigPath)

	return []Command{
		{
			Step: StepExtract,
			Path: cfg.ExtractCommand[0],
			Args: extractArgs,
			Env:  env,
			Dir:  cfg.RepositoryPath,
		},
		{
			Step: StepIndex,
			Path: cfg.IndexCommand[0],
			Args: indexArgs,
			Env:  append([]string(nil), env...),
			Dir:  cfg.RepositoryPath,
		},
	}
}
