package agentrt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/codeready-toolchain/rustyops/pkg/messaging"
	"github.com/codeready-toolchain/rustyops/pkg/template"
)

const (
	stageBefore = "rusty-before"
	stageAfter  = "rusty-after"
)

// ExecutionInput bundles everything Runner.Execute needs to run one
// pipeline end to end.
type ExecutionInput struct {
	Pipeline domain.Pipeline
	Job      domain.Job
	Project  domain.Project
	Client   ServerClient
	Broker   messaging.Broker
	AgentID  string
}

// ExecutionResult reports the outcome of a full pipeline run.
type ExecutionResult struct {
	Success bool
	Err     error
}

// Runner executes pipelines under a per-pipeline working directory rooted
// at WorkdirRoot (cmd/agent uses /tmp/rustyops-agent-<agent id>), cleaning
// it up in every exit path —
// success, stage failure, or clone failure alike.
type Runner struct {
	workdirRoot string
	containers  *containerRuntime
}

// NewRunner constructs a Runner. workdirRoot may be empty, in which case
// os.TempDir is used.
func NewRunner(workdirRoot string) *Runner {
	if workdirRoot == "" {
		workdirRoot = os.TempDir()
	}
	return &Runner{workdirRoot: workdirRoot, containers: newContainerRuntime()}
}

func logQueueName(pipelineID string) string {
	return "pipeline-logs-" + pipelineID
}

// Execute runs the pipeline per spec §4.8.A: clone, before, layered stages,
// after, cleanup. Every exit path (including clone failure) deletes the
// working directory and publishes the log queue's EOF sentinel.
func (r *Runner) Execute(ctx context.Context, in ExecutionInput) ExecutionResult {
	queue := logQueueName(in.Pipeline.ID)
	pub := &logPublisher{broker: in.Broker, queue: queue}

	workdir := filepath.Join(r.workdirRoot, in.Pipeline.ID)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		pub.publishEOF(ctx)
		_ = in.Client.UpdateStage(ctx, in.Pipeline.ID, in.AgentID, stageBefore, "Failure")
		return ExecutionResult{Success: false, Err: fmt.Errorf("create workdir: %w", err)}
	}
	defer os.RemoveAll(workdir)

	branch := in.Project.MainBranch
	if in.Pipeline.Branch != "" {
		branch = in.Pipeline.Branch
	}
	if err := cloneRepository(ctx, in.Project.URL, branch, workdir); err != nil {
		pub.publishEOF(ctx)
		_ = in.Client.UpdateStage(ctx, in.Pipeline.ID, in.AgentID, stageBefore, "Failure")
		return ExecutionResult{Success: false, Err: fmt.Errorf("clone: %w", err)}
	}

	tpl, err := template.Parse(in.Job.Template)
	if err != nil {
		pub.publishEOF(ctx)
		_ = in.Client.UpdateStage(ctx, in.Pipeline.ID, in.AgentID, stageBefore, "Failure")
		return ExecutionResult{Success: false, Err: fmt.Errorf("parse template: %w", err)}
	}

	if tpl.Before != nil {
		if ok := r.runScriptBlock(ctx, in, pub, stageBefore, tpl.Before.Script, tpl.Env, workdir); !ok {
			pub.publishEOF(ctx)
			return ExecutionResult{Success: false}
		}
	}

	layers, err := tpl.Layers()
	if err != nil {
		pub.publishEOF(ctx)
		_ = in.Client.UpdateStage(ctx, in.Pipeline.ID, in.AgentID, stageBefore, "Failure")
		return ExecutionResult{Success: false, Err: fmt.Errorf("layer template: %w", err)}
	}

	for _, layer := range layers {
		if ok := r.runLayer(ctx, in, pub, tpl, layer, workdir); !ok {
			pub.publishEOF(ctx)
			return ExecutionResult{Success: false}
		}
	}

	if tpl.After != nil {
		if ok := r.runScriptBlock(ctx, in, pub, stageAfter, tpl.After.Script, tpl.Env, workdir); !ok {
			pub.publishEOF(ctx)
			return ExecutionResult{Success: false}
		}
	}

	pub.publishEOF(ctx)
	return ExecutionResult{Success: true}
}

// runLayer executes every stage in a layer concurrently and waits for all of
// them before advancing, per the layer-is-a-join-barrier model of spec §5.
func (r *Runner) runLayer(ctx context.Context, in ExecutionInput, pub *logPublisher, tpl *template.Template, layer []template.StageEntry, workdir string) bool {
	var wg sync.WaitGroup
	results := make([]bool, len(layer))

	for i, entry := range layer {
		wg.Add(1)
		go func(i int, entry template.StageEntry) {
			defer wg.Done()
			image := tpl.ResolveImage(entry.Stage)
			env := tpl.MergedEnv(entry.Stage)
			results[i] = r.runStage(ctx, in, pub, entry.Name, entry.Stage.Script, image, env, workdir)
		}(i, entry)
	}
	wg.Wait()

	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

func (r *Runner) runScriptBlock(ctx context.Context, in ExecutionInput, pub *logPublisher, name string, script []string, env map[string]string, workdir string) bool {
	return r.runStage(ctx, in, pub, name, script, "", env, workdir)
}

func (r *Runner) runStage(ctx context.Context, in ExecutionInput, pub *logPublisher, name string, script []string, image string, env map[string]string, workdir string) bool {
	_ = in.Client.UpdateStage(ctx, in.Pipeline.ID, in.AgentID, name, "InProgress")

	lineFn := func(line string) {
		pub.publish(ctx, domain.PipelineLogEntry{Stage: name, Line: line})
	}

	var err error
	if image != "" {
		err = r.containers.run(ctx, image, script, env, workdir, lineFn)
	} else {
		err = runShellScript(ctx, script, env, workdir, lineFn)
	}

	status := "Success"
	if err != nil {
		status = "Failure"
		slog.Error("stage failed", "pipeline_id", in.Pipeline.ID, "stage", name, "error", err)
	}
	_ = in.Client.UpdateStage(ctx, in.Pipeline.ID, in.AgentID, name, status)
	return err == nil
}

// cloneRepository shallow-clones branch of url into dir.
func cloneRepository(ctx context.Context, url, branch, dir string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--branch", branch, url, dir)
	return cmd.Run()
}

// logPublisher serializes PipelineLogEntry values to the pipeline's log
// queue as UTF-8 JSON, and the literal "EOF" sentinel unwrapped.
type logPublisher struct {
	broker messaging.Broker
	queue  string
}

func (p *logPublisher) publish(ctx context.Context, entry domain.PipelineLogEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		slog.Error("encode log line failed", "error", err)
		return
	}
	if err := p.broker.Publish(ctx, p.queue, raw); err != nil {
		slog.Error("publish log line failed", "queue", p.queue, "error", err)
	}
}

func (p *logPublisher) publishEOF(ctx context.Context) {
	if err := p.broker.Publish(ctx, p.queue, []byte(messaging.EOF)); err != nil {
		slog.Error("publish EOF failed", "queue", p.queue, "error", err)
	}
}
