package agentrt

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/codeready-toolchain/rustyops/pkg/domain"
	"github.com/codeready-toolchain/rustyops/pkg/messaging"
	memorybroker "github.com/codeready-toolchain/rustyops/pkg/messaging/memory"
	"github.com/codeready-toolchain/rustyops/pkg/template"
	"github.com/stretchr/testify/require"
)

// initLocalGitRepo creates a one-commit git repository on branch "main"
// under a fresh temp dir and returns its filesystem path, usable directly
// as a clone URL.
func initLocalGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("checkout", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("fixture\n"), 0o644))
	run("add", ".")
	run("-c", "user.email=test@example.com", "-c", "user.name=test", "commit", "-m", "init")
	return dir
}

// fakeStageClient records UpdateStage calls in order; every other
// ServerClient method is unused by Runner.Execute and panics if called.
type fakeStageClient struct {
	mu     sync.Mutex
	stages []string
}

func (f *fakeStageClient) UpdateStage(_ context.Context, _, _, stageName, stageStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stageName+":"+stageStatus)
	return nil
}

func (f *fakeStageClient) record() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.stages {
		out = append(out, s)
	}
	return out
}

func (f *fakeStageClient) Register(context.Context, string, time.Duration) error   { panic("unused") }
func (f *fakeStageClient) Heartbeat(context.Context, string, time.Duration) error  { panic("unused") }
func (f *fakeStageClient) Unregister(context.Context, string) error                { panic("unused") }
func (f *fakeStageClient) Assign(context.Context, string, string) error            { panic("unused") }
func (f *fakeStageClient) SetRunning(context.Context, string, string) error        { panic("unused") }
func (f *fakeStageClient) Finalize(context.Context, string, string, domain.PipelineStatus) error {
	panic("unused")
}
func (f *fakeStageClient) OldestDefined(context.Context) (*domain.Pipeline, error) { panic("unused") }
func (f *fakeStageClient) OldestAssignedTo(context.Context, string) (*domain.Pipeline, error) {
	panic("unused")
}
func (f *fakeStageClient) Job(context.Context, string) (*domain.Job, error)         { panic("unused") }
func (f *fakeStageClient) Project(context.Context, string) (*domain.Project, error) { panic("unused") }
func (f *fakeStageClient) Authenticate(context.Context, string, string) (string, error) {
	panic("unused")
}

func drainLogLines(t *testing.T, broker messaging.Broker, queue string) []domain.PipelineLogEntry {
	t.Helper()
	consumer, err := broker.GetConsumer(context.Background(), queue)
	require.NoError(t, err)
	var entries []domain.PipelineLogEntry
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		msg, ok, err := consumer.Next(ctx)
		cancel()
		require.NoError(t, err)
		require.True(t, ok, "expected a message before EOF")
		if string(msg) == messaging.EOF {
			return entries
		}
		var entry domain.PipelineLogEntry
		require.NoError(t, json.Unmarshal(msg, &entry))
		entries = append(entries, entry)
	}
}

func twoLayerTemplateYAML() []byte {
	return []byte(`
stages:
  build:
    script:
      - echo building
  test:
    depends_on: [build]
    script:
      - echo testing
`)
}

func TestRunStage_ShellSuccessUpdatesStageToSuccess(t *testing.T) {
	r := NewRunner(t.TempDir())
	client := &fakeStageClient{}
	ok := r.runStage(context.Background(), ExecutionInput{
		Pipeline: domain.Pipeline{ID: "p1"},
		Client:   client,
	}, &logPublisher{broker: memorybroker.New(), queue: "q1"}, "build", []string{"echo hi"}, "", nil, t.TempDir())

	require.True(t, ok)
	require.Equal(t, []string{"build:InProgress", "build:Success"}, client.record())
}

func TestRunStage_ShellFailureUpdatesStageToFailure(t *testing.T) {
	r := NewRunner(t.TempDir())
	client := &fakeStageClient{}
	ok := r.runStage(context.Background(), ExecutionInput{
		Pipeline: domain.Pipeline{ID: "p1"},
		Client:   client,
	}, &logPublisher{broker: memorybroker.New(), queue: "q1"}, "build", []string{"exit 1"}, "", nil, t.TempDir())

	require.False(t, ok)
	require.Equal(t, []string{"build:InProgress", "build:Failure"}, client.record())
}

func TestRunLayer_RunsFirstLayerStageToSuccess(t *testing.T) {
	tpl, err := template.ParseYAML(twoLayerTemplateYAML())
	require.NoError(t, err)
	layers, err := tpl.Layers()
	require.NoError(t, err)
	require.Len(t, layers, 2)

	r := NewRunner(t.TempDir())
	client := &fakeStageClient{}
	broker := memorybroker.New()
	pub := &logPublisher{broker: broker, queue: "q1"}

	ok := r.runLayer(context.Background(), ExecutionInput{
		Pipeline: domain.Pipeline{ID: "p1"},
		Client:   client,
	}, pub, tpl, layers[0], t.TempDir())
	require.True(t, ok)
	require.Contains(t, client.record(), "build:Success")
}

func TestExecute_StageFailureShortCircuitsLaterLayers(t *testing.T) {
	repoURL := initLocalGitRepo(t)

	job := domain.Job{ID: "job-1", Template: template.EncodeBase64URL([]byte(`
stages:
  build:
    script:
      - exit 1
  test:
    depends_on: [build]
    script:
      - echo testing
`))}

	client := &fakeStageClient{}
	broker := memorybroker.New()
	r := NewRunner(t.TempDir())

	result := r.Execute(context.Background(), ExecutionInput{
		Pipeline: domain.Pipeline{ID: "p1", JobID: job.ID},
		Job:      job,
		Project:  domain.Project{URL: repoURL, MainBranch: "main"},
		Client:   client,
		Broker:   broker,
	})

	require.False(t, result.Success)
	stages := client.record()
	require.Contains(t, stages, "build:Failure")
	require.NotContains(t, stages, "test:InProgress")
}

func TestLogPublisher_PublishesJSONLinesThenEOF(t *testing.T) {
	broker := memorybroker.New()
	pub := &logPublisher{broker: broker, queue: "q1"}
	ctx := context.Background()

	pub.publish(ctx, domain.PipelineLogEntry{Stage: "build", Line: "hello"})
	pub.publishEOF(ctx)

	entries := drainLogLines(t, broker, "q1")
	require.Equal(t, []domain.PipelineLogEntry{{Stage: "build", Line: "hello"}}, entries)
}
