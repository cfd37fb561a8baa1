package buildsys

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/Haggus/RoyalUr.net/pkg/posix"
)

// CommandSpec describes an external command. Every stage's stdout is piped into the next
// stage; the last stage's stdout goes to Output if it's set.
type CommandSpec struct {
	Stages [][]string
	Output string
	Env    map[string]string
}

// Output is whatever the command printed that wasn't redirected to a file.
type Output struct {
	Stdout []byte
	Stderr []byte
}

// ProcessError is returned if a command exited with a non-zero status or was killed.
type ProcessError struct {
	Command string
	Code    int
	Signal  int
}

func (e *ProcessError) Error() string {
	if e.Signal > 0 {
		return fmt.Sprintf("execution of %s was terminated by signal %d", e.Command, e.Signal)
	}
	return fmt.Sprintf("command %s resulted in the non-zero return code %d", e.Command, e.Code)
}

// Collaborator runs external commands for the build steps.
type Collaborator interface {
	Run(ctx context.Context, spec CommandSpec) (Output, error)
}

// Name returns the program of the last stage.
func (s CommandSpec) Name() string {
	if len(s.Stages) == 0 || len(s.Stages[len(s.Stages)-1]) == 0 {
		return ""
	}
	return s.Stages[len(s.Stages)-1][0]
}

// String renders the command as a single shell command line.
func (s CommandSpec) String() string {
	stmt, err := s.stmt()
	if err != nil {
		return fmt.Sprintf("<invalid command: %s>", err)
	}

	buffer := strings.Builder{}
	printer := syntax.NewPrinter(syntax.Minify(true))
	err = printer.Print(&buffer, stmt)
	if err != nil {
		return fmt.Sprintf("<invalid command: %s>", err)
	}
	return strings.TrimSpace(buffer.String())
}

func shellWord(value string) *syntax.Word {
	var part syntax.WordPart

	if value == "" || strings.ContainsAny(value, " \t\n$'\"\\*?[]{}~#&|;<>()`") {
		part = &syntax.SglQuoted{Value: value}
	} else {
		part = &syntax.Lit{Value: value}
	}

	return &syntax.Word{Parts: []syntax.WordPart{part}}
}

func (s CommandSpec) stmt() (*syntax.Stmt, error) {
	if len(s.Stages) == 0 {
		return nil, eris.New("command has no stages")
	}

	var result *syntax.Stmt
	for idx, stage := range s.Stages {
		if len(stage) == 0 {
			return nil, eris.Errorf("stage %d is empty", idx)
		}

		call := &syntax.CallExpr{Args: make([]*syntax.Word, len(stage))}
		for a, arg := range stage {
			call.Args[a] = shellWord(arg)
		}

		next := &syntax.Stmt{Cmd: call}
		if idx == len(s.Stages)-1 && s.Output != "" {
			next.Redirs = []*syntax.Redirect{{
				Op:   syntax.RdrOut,
				Word: shellWord(s.Output),
			}}
		}

		if result == nil {
			result = next
		} else {
			result = &syntax.Stmt{Cmd: &syntax.BinaryCmd{
				Op: syntax.Pipe,
				X:  result,
				Y:  next,
			}}
		}
	}

	return result, nil
}

// ShellCollaborator runs commands through an embedded POSIX shell. rm, mkdir and cp are always
// handled in-process so they behave the same on every platform.
type ShellCollaborator struct {
	// Dir is the working directory for all commands. Defaults to the current directory.
	Dir string
}

// lockedBuffer collects stderr which all stages of a pipe write to concurrently.
type lockedBuffer struct {
	lock   sync.Mutex
	buffer bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buffer.Write(p)
}

var defaultExecHandler = interp.DefaultExecHandler(2)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 && posix.Has(args[0]) {
		hc := interp.HandlerCtx(ctx)
		err := posix.Run(hc.Dir, args)
		if err != nil {
			fmt.Fprintf(hc.Stderr, "%s: %s\n", args[0], eris.ToString(err, false))
			return interp.NewExitStatus(1)
		}
		return nil
	}

	return defaultExecHandler(ctx, args)
}

// stageTracker remembers the exit status of every stage of a pipe. The runner only reports the
// status of the last stage.
type stageTracker struct {
	stages [][]string

	lock   sync.Mutex
	done   []bool
	status []uint8
}

func newStageTracker(stages [][]string) *stageTracker {
	return &stageTracker{
		stages: stages,
		done:   make([]bool, len(stages)),
		status: make([]uint8, len(stages)),
	}
}

func (t *stageTracker) execHandler(ctx context.Context, args []string) error {
	err := execHandler(ctx, args)
	if status, ok := interp.IsExitStatus(err); ok {
		t.record(args, status)
	}
	return err
}

func (t *stageTracker) record(args []string, status uint8) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for idx, stage := range t.stages {
		if !t.done[idx] && equalArgs(stage, args) {
			t.done[idx] = true
			t.status[idx] = status
			return
		}
	}
}

// firstFailure returns the leftmost stage that exited with a non-zero status.
func (t *stageTracker) firstFailure() (int, uint8, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for idx, status := range t.status {
		if status != 0 {
			return idx, status, true
		}
	}
	return 0, 0, false
}

func equalArgs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for idx := range a {
		if a[idx] != b[idx] {
			return false
		}
	}
	return true
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func commandEnv(spec CommandSpec) expand.Environ {
	envVars := os.Environ()

	for name, value := range spec.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, value))
	}

	return expand.ListEnviron(envVars...)
}

// Run executes spec and waits for it to finish.
func (c *ShellCollaborator) Run(ctx context.Context, spec CommandSpec) (Output, error) {
	var result Output

	stmt, err := spec.stmt()
	if err != nil {
		return result, eris.Wrap(err, "invalid command")
	}

	tracker := newStageTracker(spec.Stages)
	stdout := bytes.Buffer{}
	stderr := lockedBuffer{}
	options := []interp.RunnerOption{
		interp.Env(commandEnv(spec)),
		interp.ExecHandler(tracker.execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, &stdout, &stderr),
	}
	if c.Dir != "" {
		options = append(options, interp.Dir(c.Dir))
	}

	runner, err := interp.New(options...)
	if err != nil {
		return result, eris.Wrap(err, "failed to initialize runner")
	}

	line := spec.String()
	log(ctx).Info().Bool("command", true).Msg(line)

	err = runner.Run(ctx, stmt)
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.buffer.Bytes()

	if len(result.Stdout) > 0 {
		log(ctx).Info().Str("stream", "stdout").Msg(strings.TrimRight(string(result.Stdout), "\n"))
	}
	if len(result.Stderr) > 0 {
		log(ctx).Warn().Str("stream", "stderr").Msg(strings.TrimRight(string(result.Stderr), "\n"))
	}

	command := spec.Name()
	status := uint8(0)
	if err != nil {
		var ok bool
		status, ok = interp.IsExitStatus(err)
		if !ok {
			return result, eris.Wrapf(err, "execution of %s failed", command)
		}
	}

	// any failing stage fails the whole pipe, not just the last one
	if idx, stageStatus, failed := tracker.firstFailure(); failed {
		command = spec.Stages[idx][0]
		status = stageStatus
	}

	if status != 0 {
		procErr := &ProcessError{Command: command, Code: int(status)}
		// the runner reports signals as 128 + signal number
		if status > 128 {
			procErr.Signal = int(status) - 128
		}

		log(ctx).Error().Str("cmd", line).Msg(procErr.Error())
		return result, procErr
	}

	return result, nil
}
