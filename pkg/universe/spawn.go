package universe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/empirempi/empire/internal/logger"
	"github.com/empirempi/empire/internal/metrics"
	"github.com/empirempi/empire/pkg/types"
)

// SpawnCommandInfo describes one launch request in a batch
type SpawnCommandInfo struct {
	Command string
	Args    []string
	// MaxProcs is how many copies to start. Zero is treated as 1; negative
	// counts are rejected.
	MaxProcs int
}

// NewSpawnCommandInfo returns a request for a single copy of command
func NewSpawnCommandInfo(command string, args ...string) SpawnCommandInfo {
	return SpawnCommandInfo{Command: command, Args: args, MaxProcs: 1}
}

func (s SpawnCommandInfo) procs() int {
	if s.MaxProcs == 0 {
		return 1
	}
	return s.MaxProcs
}

// Outcome is the result of one flattened launch entry. Err is nil on a
// zero exit, otherwise a coded error: COMMAND_NOT_FOUND, IO or
// FAIL_EXIT_CODE.
type Outcome struct {
	WorldRank int
	Command   string
	PID       int
	Err       error
}

// OK reports whether the entry started and exited with status zero
func (o Outcome) OK() bool {
	return o.Err == nil
}

// SpawnResult is what a batch spawn hands back: the parent's end of the new
// inter-communicator and one outcome per flattened entry, in world rank
// order.
type SpawnResult struct {
	Comm     *Comm
	Outcomes []Outcome
}

// Failed returns the outcomes that did not succeed
func (r *SpawnResult) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}

// ExitCode extracts the child's exit status from a FAIL_EXIT_CODE outcome
func ExitCode(err error) (int, bool) {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}

type launchEntry struct {
	worldRank int
	info      SpawnCommandInfo
}

// flatten repeats each request MaxProcs times in input order. The position
// in the result is the entry's world rank.
func flatten(commands []SpawnCommandInfo) []launchEntry {
	var entries []launchEntry
	for _, info := range commands {
		for i := 0; i < info.procs(); i++ {
			entries = append(entries, launchEntry{worldRank: len(entries), info: info})
		}
	}
	return entries
}

// SpawnMultiple launches every command in the batch from the root rank of
// c and blocks until all started children have exited.
//
// Only a size-one communicator can spawn. Start failures and non-zero exits
// are reported per entry in the result and never abort the rest of the
// batch; the returned error covers only failures that prevented the batch
// from launching at all. The returned communicator is not registered.
func (c *Comm) SpawnMultiple(ctx context.Context, root int, commands []SpawnCommandInfo) (*SpawnResult, error) {
	if c.size != 1 {
		return nil, types.NewError(types.ErrCodeUnsupported,
			fmt.Sprintf("spawn from a communicator of size %d is not supported", c.size))
	}
	if root != c.rank {
		return nil, types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("spawn root %d is not the caller's rank %d", root, c.rank))
	}
	if len(commands) == 0 {
		panic("empire: spawn root must supply at least one command")
	}

	for i, cmd := range commands {
		if cmd.MaxProcs < 0 {
			return nil, types.NewError(types.ErrCodeInvalidArgument,
				fmt.Sprintf("command %d (%s) asks for %d processes", i, cmd.Command, cmd.MaxProcs))
		}
	}

	u := c.Universe()

	entries := flatten(commands)
	worldSize := len(entries)
	if worldSize > u.cfg.Spawn.MaxProcs {
		return nil, types.NewError(types.ErrCodeResourceExhausted,
			fmt.Sprintf("spawn of %d processes exceeds the limit of %d", worldSize, u.cfg.Spawn.MaxProcs))
	}

	if err := ctx.Err(); err != nil {
		return nil, types.WrapError(types.ErrCodeCanceled, "spawn canceled before launch", err)
	}

	inter, err := u.NewIntercomm(0)
	if err != nil {
		return nil, err
	}
	parentPort := inter.Port(0).Name()

	batchID := uuid.NewString()
	log := u.base.With("component", "spawn", "batch_id", batchID)
	log.Info("Spawning batch",
		"world_size", worldSize,
		"commands", len(commands),
		"parent_port", parentPort)

	s := &spawner{
		log:        log,
		capture:    u.cfg.Spawn.CaptureOutput,
		worldSize:  worldSize,
		parentPort: parentPort,
		outcomes:   make([]Outcome, worldSize),
	}

	start := time.Now()
	var g errgroup.Group
	for _, e := range entries {
		cmd, err := s.launch(e)
		if err != nil {
			s.record(e, 0, err)
			continue
		}
		g.Go(func() error {
			s.record(e, cmd.Process.Pid, s.wait(e, cmd))
			return nil
		})
	}
	_ = g.Wait()
	metrics.ObserveSpawnBatch(time.Since(start))

	result := &SpawnResult{Comm: inter, Outcomes: s.outcomes}
	log.Info("Batch finished",
		"world_size", worldSize,
		"failed", len(result.Failed()),
		"duration", time.Since(start))

	return result, nil
}

// spawner carries the state shared by the launches of one batch
type spawner struct {
	log        *logger.Logger
	capture    bool
	worldSize  int
	parentPort string

	mu       sync.Mutex
	outcomes []Outcome
}

// launch starts one entry without waiting for it
func (s *spawner) launch(e launchEntry) (*exec.Cmd, error) {
	cmd := exec.Command(e.info.Command, e.info.Args...)
	cmd.Env = append(os.Environ(), childEnv(e.worldRank, s.worldSize, s.parentPort)...)

	if s.capture {
		entryLog := s.log.With("world_rank", e.worldRank, "command", e.info.Command)
		cmd.Stdout = &lineWriter{log: entryLog, stream: "stdout"}
		cmd.Stderr = &lineWriter{log: entryLog, stream: "stderr"}
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, types.WrapError(types.ErrCodeCommandNotFound,
				fmt.Sprintf("command not found: %s", e.info.Command), err)
		}
		return nil, types.WrapError(types.ErrCodeIO,
			fmt.Sprintf("failed to start %s", e.info.Command), err)
	}

	s.log.Debug("Process started",
		"world_rank", e.worldRank,
		"command", e.info.Command,
		"pid", cmd.Process.Pid)

	return cmd, nil
}

// wait blocks until the entry's process exits and classifies the result
func (s *spawner) wait(e launchEntry, cmd *exec.Cmd) error {
	err := cmd.Wait()
	if w, ok := cmd.Stdout.(*lineWriter); ok {
		w.flush()
	}
	if w, ok := cmd.Stderr.(*lineWriter); ok {
		w.flush()
	}
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return types.WrapError(types.ErrCodeFailExitCode,
			fmt.Sprintf("%s exited with code %d", e.info.Command, exitErr.ExitCode()), err)
	}
	return types.WrapError(types.ErrCodeIO,
		fmt.Sprintf("failed waiting for %s", e.info.Command), err)
}

func (s *spawner) record(e launchEntry, pid int, err error) {
	s.mu.Lock()
	s.outcomes[e.worldRank] = Outcome{
		WorldRank: e.worldRank,
		Command:   e.info.Command,
		PID:       pid,
		Err:       err,
	}
	s.mu.Unlock()

	metrics.RecordSpawnOutcome(outcomeLabel(err))

	if err != nil {
		s.log.Warn("Process failed",
			"world_rank", e.worldRank,
			"command", e.info.Command,
			"code", types.GetErrorCode(err),
			"error", err)
		return
	}
	s.log.Debug("Process exited", "world_rank", e.worldRank, "command", e.info.Command, "pid", pid)
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ToLower(types.GetErrorCode(err))
}

// lineWriter logs a child's output one line at a time
type lineWriter struct {
	log    *logger.Logger
	stream string
	buf    bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Partial line, keep it for the next write.
			w.buf.WriteString(line)
			return len(p), nil
		}
		w.log.Debug("Process output", "stream", w.stream, "output", strings.TrimRight(line, "\r\n"))
	}
}

func (w *lineWriter) flush() {
	if w.buf.Len() == 0 {
		return
	}
	w.log.Debug("Process output", "stream", w.stream, "output", w.buf.String())
	w.buf.Reset()
}
