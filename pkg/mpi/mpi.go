// Package mpi is the handle boundary of empire. It keeps the one
// process-wide universe and exposes communicators through opaque Comm
// handles, reporting results as Status values.
//
// Usage violations panic: using CommNull where a communicator is required,
// using a system handle outside Init/Finalize, using or freeing a user
// handle after it was freed, and freeing a system handle.
package mpi

import (
	"context"
	"sync/atomic"

	"github.com/empirempi/empire/internal/config"
	"github.com/empirempi/empire/internal/logger"
	"github.com/empirempi/empire/pkg/types"
	"github.com/empirempi/empire/pkg/universe"
)

// MaxObjectName is the longest communicator name kept by CommSetName
const MaxObjectName = 128

type state struct {
	u   *universe.Universe
	log *logger.Logger
	// owned is the logger Init created, closed by Finalize.
	owned *logger.Logger
}

var current atomic.Pointer[state]

func mustUniverse() *universe.Universe {
	s := current.Load()
	if s == nil {
		panic("mpi: MPI is not currently initialized")
	}
	return s.u
}

// Init creates the process-wide universe from the user configuration and
// the spawn environment. A spawn environment that is not valid UTF-8
// panics; other startup failures are returned as a Status.
func Init() Status {
	cfg, err := config.Load()
	if err != nil {
		logger.Global().Error("Failed to load configuration", "error", err)
		return StatusOf(err)
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		logger.Global().Error("Failed to create logger", "error", err)
		return StatusOf(err)
	}

	status := initUniverse(universe.Options{Config: *cfg, Logger: log}, log)
	if status != Success {
		log.Close()
	}
	return status
}

// InitWithOptions is Init with an explicit configuration, logger and
// environment lookup. The caller keeps ownership of opts.Logger.
func InitWithOptions(opts universe.Options) Status {
	return initUniverse(opts, nil)
}

func initUniverse(opts universe.Options, owned *logger.Logger) Status {
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}

	if current.Load() != nil {
		log.Error("MPI is already initialized")
		return ErrOther
	}

	u, err := universe.New(opts)
	if err != nil {
		if types.IsErrCode(err, types.ErrCodeInvalid) {
			panic("mpi: failed to initialize: " + err.Error())
		}
		log.Error("Failed to initialize universe", "error", err)
		return StatusOf(err)
	}

	s := &state{u: u, log: u.Logger().With("component", "mpi"), owned: owned}
	if !current.CompareAndSwap(nil, s) {
		u.Finalize()
		log.Error("MPI is already initialized")
		return ErrOther
	}
	return Success
}

// Finalize tears down the process-wide universe. Every user handle still
// held becomes unusable.
func Finalize() Status {
	s := current.Swap(nil)
	if s == nil {
		logger.Global().Error("Finalize called without Init")
		return ErrOther
	}

	err := s.u.Finalize()
	if err != nil {
		s.log.Error("Finalize failed", "error", err)
	}
	if s.owned != nil {
		s.owned.Close()
	}
	return StatusOf(err)
}

// Initialized reports whether Init has run without a matching Finalize
func Initialized() bool {
	return current.Load() != nil
}

// CommRank returns the caller's rank in comm
func CommRank(comm Comm) (int, Status) {
	return comm.resolve().Rank(), Success
}

// CommSize returns the number of ranks in comm
func CommSize(comm Comm) (int, Status) {
	return comm.resolve().Size(), Success
}

// CommTestInter reports whether comm is an inter-communicator
func CommTestInter(comm Comm) (bool, Status) {
	return comm.resolve().IsIntercomm(), Success
}

// CommSetName sets the display name of comm, truncated to MaxObjectName
// bytes.
func CommSetName(comm Comm, name string) Status {
	c := comm.resolve()
	if len(name) > MaxObjectName {
		name = name[:MaxObjectName]
	}

	u := c.Universe()
	u.Lock()
	c.SetName(name)
	u.Unlock()
	return Success
}

// CommGetName returns the display name of comm
func CommGetName(comm Comm) (string, Status) {
	c := comm.resolve()

	u := c.Universe()
	u.RLock()
	defer u.RUnlock()
	return c.Name(), Success
}

// CommFree releases a user handle and overwrites it with CommNull
func CommFree(comm *Comm) Status {
	switch comm.kind {
	case kindNull:
		panic("mpi: MPI_COMM_NULL cannot be freed")
	case kindSystem:
		panic("mpi: " + comm.String() + " cannot be freed")
	case kindUser:
	default:
		panic("mpi: corrupt communicator handle")
	}

	reg := comm.reg
	*comm = CommNull
	return StatusOf(mustUniverse().FreeComm(reg))
}

// CommGetParent returns the parent inter-communicator of a spawned
// process.
//
// TODO: connect to the parent port advertised in the environment once the
// rendezvous handshake exists; until then this always yields CommNull.
func CommGetParent() (Comm, Status) {
	mustUniverse()
	return CommNull, Success
}

// CommSpawn starts maxProcs copies of command from root of comm. maxProcs
// must be at least 1. See CommSpawnMultiple.
func CommSpawn(ctx context.Context, command string, args []string, maxProcs int, root int, comm Comm) (Comm, []Status, Status) {
	return CommSpawnMultiple(ctx, []universe.SpawnCommandInfo{
		{Command: command, Args: args, MaxProcs: maxProcs},
	}, root, comm)
}

// CommSpawnMultiple launches the batch from root of comm and blocks until
// every started child has exited. It returns a new user handle for the
// inter-communicator and one status per launched process in world rank
// order. Per-process failures do not fail the call. Every command must ask
// for at least one process; otherwise nothing is launched and ErrArg is
// returned.
func CommSpawnMultiple(ctx context.Context, commands []universe.SpawnCommandInfo, root int, comm Comm) (Comm, []Status, Status) {
	c := comm.resolve()

	for _, cmd := range commands {
		if cmd.MaxProcs < 1 {
			c.Universe().Logger().Warn("Rejecting spawn with invalid process count",
				"component", "mpi", "command", cmd.Command, "max_procs", cmd.MaxProcs)
			return CommNull, nil, ErrArg
		}
	}

	result, err := c.SpawnMultiple(ctx, root, commands)
	if err != nil {
		return CommNull, nil, StatusOf(err)
	}

	errcodes := make([]Status, len(result.Outcomes))
	for i, o := range result.Outcomes {
		errcodes[i] = StatusOf(o.Err)
	}

	reg := c.Universe().RegisterComm(result.Comm)
	return Comm{kind: kindUser, reg: reg}, errcodes, Success
}

// OpenPort opens a named rendezvous port and returns its name
func OpenPort() (string, Status) {
	name, err := mustUniverse().OpenPort()
	return name, StatusOf(err)
}

// ClosePort closes a port opened with OpenPort. Unknown or already closed
// names yield ErrPort.
func ClosePort(name string) Status {
	return StatusOf(mustUniverse().ClosePort(name))
}
