package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwl-mcp/cwl-mcp/pkg/domain/errors"
	"github.com/cwl-mcp/cwl-mcp/pkg/domain/run"
	"github.com/cwl-mcp/cwl-mcp/pkg/infrastructure/core/runner"
	"github.com/cwl-mcp/cwl-mcp/pkg/infrastructure/persistence/runs"
	"github.com/cwl-mcp/cwl-mcp/pkg/service/registry"
)

const copyCWL = `
class: CommandLineTool
id: copy
baseCommand: cp
inputs:
  src:
    type: File
    inputBinding: {position: 1}
  dest:
    type: string
    inputBinding: {position: 2}
outputs:
  copied:
    type: File
    outputBinding:
      glob: $(inputs.dest)
`

const shellCWL = `
class: CommandLineTool
id: shell
baseCommand: [/bin/sh, -c]
inputs:
  script:
    type: string
    inputBinding: {position: 1}
outputs:
  log: stdout
`

type fixture struct {
	registry  *registry.ToolRegistry
	executor  *Executor
	store     *runs.BoltStore
	workspace string
	inputs    string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		registry:  registry.New(nil),
		workspace: t.TempDir(),
		inputs:    t.TempDir(),
	}

	store, err := runs.NewBoltStore(filepath.Join(t.TempDir(), "runs.db"), 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	f.store = store

	cfg.WorkspaceDir = f.workspace
	cfg.BaseDir = f.inputs
	f.executor, err = New(f.registry, runner.NewDefaultCommandRunner(nil), store, cfg, nil)
	require.NoError(t, err)
	return f
}

func (f *fixture) add(t *testing.T, doc string, opts ...registry.Option) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.cwl")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	_, err := f.registry.AddTool(path, opts...)
	require.NoError(t, err)
}

func (f *fixture) input(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.inputs, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInvokeReturnsOutputPaths(t *testing.T) {
	f := newFixture(t, Config{})
	f.add(t, copyCWL)
	f.input(t, "notes.txt", "hello\n")

	res, err := f.executor.Invoke(context.Background(), InvocationRequest{
		Tool:      "copy",
		Arguments: map[string]any{"src": "notes.txt", "dest": "copy.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, run.StatusSucceeded, res.Status)
	assert.Equal(t, 0, res.ExitCode)
	assert.True(t, strings.HasPrefix(res.JobDir, filepath.Join(f.workspace, "copy")))

	path, ok := res.Outputs["copied"].(string)
	require.True(t, ok, "outputs are paths without read_outs")
	assert.True(t, filepath.IsAbs(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestInvokeReadOutsReturnsContents(t *testing.T) {
	f := newFixture(t, Config{})
	f.add(t, copyCWL, registry.WithReadOuts(true))
	f.input(t, "notes.txt", "hello\n")

	res, err := f.executor.Invoke(context.Background(), InvocationRequest{
		Tool:      "copy",
		Arguments: map[string]any{"src": "notes.txt", "dest": "copy.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Outputs["copied"])
	assert.Empty(t, res.Truncated)
}

func TestInvokeReadOutsTruncates(t *testing.T) {
	f := newFixture(t, Config{MaxReadBytes: 4})
	f.add(t, copyCWL, registry.WithReadOuts(true))
	f.input(t, "notes.txt", "0123456789")

	res, err := f.executor.Invoke(context.Background(), InvocationRequest{
		Tool:      "copy",
		Arguments: map[string]any{"src": "notes.txt", "dest": "copy.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, "0123", res.Outputs["copied"])
	assert.Equal(t, []string{"copied"}, res.Truncated)
}

func TestInvokeReadOutsBinary(t *testing.T) {
	f := newFixture(t, Config{})
	f.add(t, copyCWL, registry.WithReadOuts(true))
	f.input(t, "blob.bin", string([]byte{0xff, 0xfe, 0x00, 0x01}))

	res, err := f.executor.Invoke(context.Background(), InvocationRequest{
		Tool:      "copy",
		Arguments: map[string]any{"src": "blob.bin", "dest": "out.bin"},
	})
	require.NoError(t, err)
	assert.Equal(t, BinaryContent{Encoding: "base64", Content: "//4AAQ=="}, res.Outputs["copied"])
}

func TestInvokeMissingRequiredInputDoesNotRun(t *testing.T) {
	f := newFixture(t, Config{})
	f.add(t, copyCWL)

	res, err := f.executor.Invoke(context.Background(), InvocationRequest{
		Tool:      "copy",
		Arguments: map[string]any{"dest": "copy.txt"},
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.IsValidation(err))
	violations := errors.Violations(err)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "src")

	entries, err := os.ReadDir(f.workspace)
	require.NoError(t, err)
	assert.Empty(t, entries, "no job directory is created for rejected requests")

	history, err := f.store.List(context.Background(), run.Filter{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

const countCWL = `
class: CommandLineTool
id: count
baseCommand: echo
inputs:
  n:
    type: int
    inputBinding: {position: 1}
outputs:
  out: stdout
`

func TestInvokeUnconvertibleRequiredInputDoesNotRun(t *testing.T) {
	f := newFixture(t, Config{})
	f.add(t, copyCWL)
	f.add(t, countCWL)

	tests := []struct {
		tool  string
		args  map[string]any
		input string
	}{
		{"copy", map[string]any{"src": "", "dest": "copy.txt"}, "src"},
		{"count", map[string]any{"n": 1e20}, "n"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			res, err := f.executor.Invoke(context.Background(), InvocationRequest{Tool: tt.tool, Arguments: tt.args})
			require.Error(t, err)
			assert.Nil(t, res)
			require.True(t, errors.IsValidation(err), "%v", err)
			violations := errors.Violations(err)
			require.Len(t, violations, 1)
			assert.Contains(t, violations[0], tt.input)
		})
	}

	entries, err := os.ReadDir(f.workspace)
	require.NoError(t, err)
	assert.Empty(t, entries)

	history, err := f.store.List(context.Background(), run.Filter{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestInvokeUnknownTool(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.executor.Invoke(context.Background(), InvocationRequest{Tool: "missing"})
	require.Error(t, err)
	assert.True(t, errors.IsUnknownTool(err))
	assert.Equal(t, 0, f.registry.Len())
}

func TestInvokeNonZeroExit(t *testing.T) {
	f := newFixture(t, Config{})
	f.add(t, shellCWL)

	res, err := f.executor.Invoke(context.Background(), InvocationRequest{
		Tool:      "shell",
		Arguments: map[string]any{"script": "echo broken >&2; exit 2"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsExecution(err))
	require.NotNil(t, res)
	assert.Equal(t, run.StatusFailed, res.Status)
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, "broken\n", res.Stderr)

	var coded *errors.Error
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, 2, coded.Fields["exit_code"])

	history, err := f.store.List(context.Background(), run.Filter{Tool: "shell"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, run.StatusFailed, history[0].Status)
	assert.Equal(t, string(errors.CodeToolExecutionFailed), history[0].ErrorCode)
}

func TestInvokeTimeout(t *testing.T) {
	f := newFixture(t, Config{Timeout: 200 * time.Millisecond})
	f.add(t, shellCWL)

	_, err := f.executor.Invoke(context.Background(), InvocationRequest{
		Tool:      "shell",
		Arguments: map[string]any{"script": "exec sleep 10"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsExecution(err))
	assert.Equal(t, errors.CodeTimeoutError, errors.CodeOf(err))
}

func TestInvokeStdoutCaptureAndHistory(t *testing.T) {
	f := newFixture(t, Config{})
	f.add(t, shellCWL, registry.WithName("sh"))

	res, err := f.executor.Invoke(context.Background(), InvocationRequest{
		Tool:      "sh",
		Arguments: map[string]any{"script": "echo captured"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(res.JobDir, "stdout.txt"), res.Outputs["log"])
	assert.Equal(t, "captured\n", res.Stdout)

	rec, err := f.store.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "sh", rec.Tool)
	assert.Equal(t, run.StatusSucceeded, rec.Status)
	assert.Equal(t, res.Outputs["log"], rec.Outputs["log"])
}

func TestNewRequiresWorkspace(t *testing.T) {
	_, err := New(registry.New(nil), runner.NewDefaultCommandRunner(nil), nil, Config{}, nil)
	assert.Equal(t, errors.CodeConfigurationInvalid, errors.CodeOf(err))
}

const pdftkCatCWL = `
cwlVersion: v1.2
class: CommandLineTool
id: pdftk_cat
baseCommand: pdftk
arguments:
  - position: 2
    valueFrom: cat
inputs:
  input:
    type: File[]
    inputBinding: {position: 1}
  pages:
    type: string[]?
    inputBinding: {position: 3}
  output:
    type: string
    inputBinding: {position: 4, prefix: output}
outputs:
  out:
    type: File
    outputBinding:
      glob: $(inputs.output)
`

func TestPdftkPageExtraction(t *testing.T) {
	if _, err := exec.LookPath("pdftk"); err != nil {
		t.Skip("pdftk is not installed")
	}

	f := newFixture(t, Config{})
	f.add(t, pdftkCatCWL)
	f.input(t, "test_123.pdf", string(buildPDF(3)))

	res, err := f.executor.Invoke(context.Background(), InvocationRequest{
		Tool:      "pdftk_cat",
		Arguments: map[string]any{"input": "test_123.pdf", "pages": "2,3", "output": "test_23.pdf"},
	})
	require.NoError(t, err)

	out, err := exec.Command("pdftk", res.Outputs["out"].(string), "dump_data").Output()
	require.NoError(t, err)
	assert.Contains(t, string(out), "NumberOfPages: 2")
}

// fakePdftk puts a pdftk on PATH that records its arguments, rejects comma page
// ranges the way pdftk does and copies its first input to the output file.
const fakePdftk = `#!/bin/sh
printf '%s\n' "$@" > "$PDFTK_ARGS_FILE"
for a in "$@"; do
  case "$a" in *,*) echo "Error: Unexpected text in page range: $a" >&2; exit 3 ;; esac
done
eval "out=\${$#}"
cp "$1" "$out"
`

func TestPdftkExampleDescriptorSplitsPageList(t *testing.T) {
	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, "pdftk"), []byte(fakePdftk), 0o755))
	argsFile := filepath.Join(t.TempDir(), "argv.txt")
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	t.Setenv("PDFTK_ARGS_FILE", argsFile)

	f := newFixture(t, Config{})
	_, err := f.registry.AddTool(filepath.Join("..", "..", "..", "examples", "pdf", "pdftk_cat.cwl"))
	require.NoError(t, err)
	input := f.input(t, "test_123.pdf", string(buildPDF(3)))

	res, err := f.executor.Invoke(context.Background(), InvocationRequest{
		Tool:      "pdftk_cat",
		Arguments: map[string]any{"input": "test_123.pdf", "pages": "2,3", "output": "test_23.pdf"},
	})
	require.NoError(t, err)
	assert.FileExists(t, res.Outputs["out"].(string))

	recorded, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, []string{input, "cat", "2", "3", "output", "test_23.pdf"},
		strings.Split(strings.TrimSpace(string(recorded)), "\n"))
}

// buildPDF writes a minimal document with n empty pages and a correct xref table.
func buildPDF(n int) []byte {
	var objects []string
	kids := make([]string, n)
	for i := 0; i < n; i++ {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n),
	)
	for i := 0; i < n; i++ {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] >>")
	}

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%EOF\n", len(objects)+1, xref)
	return []byte(b.String())
}
