// Package universe is the process-scope root of an empire runtime.
//
// A Universe owns every communicator through a registrar, keeps a table of
// named rendezvous ports, and holds the two standing communicators: self,
// of size one, and world, sized from the spawn environment. Communicators
// point back at their Universe without owning it; using one after Finalize
// panics.
//
// Batch spawning lives on the communicator, see (*Comm).SpawnMultiple.
package universe

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/empirempi/empire/internal/config"
	"github.com/empirempi/empire/internal/logger"
	"github.com/empirempi/empire/internal/metrics"
	"github.com/empirempi/empire/pkg/port"
	"github.com/empirempi/empire/pkg/registrar"
	"github.com/empirempi/empire/pkg/types"
)

// CommRegistration is a ticket for a communicator tracked by a Universe
type CommRegistration = registrar.Registration[Comm]

// Options configures a new Universe
type Options struct {
	// Config zero fields take their defaults.
	Config config.Config
	Logger *logger.Logger
	// Lookup reads the spawn environment. Defaults to os.LookupEnv.
	Lookup LookupFunc
}

// Universe holds the communicator registry, named ports and the standing
// communicators. A single RWMutex guards the registry and the port table.
type Universe struct {
	id     string
	cfg    config.Config
	logger *logger.Logger
	// base carries the universe id without a component tag, for the
	// components the universe creates.
	base *logger.Logger
	anchor *anchor
	env    SpawnEnv

	mu        sync.RWMutex
	comms     *registrar.Registrar[Comm]
	ports     map[string]*port.Port
	self      *CommRegistration
	world     *CommRegistration
	finalized bool
}

// New creates a Universe and its self and world communicators
func New(opts Options) (*Universe, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}

	cfg := opts.Config
	config.ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid universe configuration: %w", err)
	}

	id := uuid.NewString()
	base := log.With("universe_id", id)
	log = base.With("component", "universe")

	env, err := ReadSpawnEnv(opts.Lookup, log)
	if err != nil {
		return nil, err
	}

	u := &Universe{
		id:     id,
		cfg:    cfg,
		logger: log,
		base:   base,
		anchor: &anchor{},
		env:    env,
		comms:  registrar.New[Comm](),
		ports:  make(map[string]*port.Port),
	}
	u.anchor.u.Store(u)

	u.mu.Lock()
	defer u.mu.Unlock()

	self, err := u.NewIntracomm(0, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create self communicator: %w", err)
	}
	world, err := u.NewIntracomm(env.WorldRank, env.WorldSize)
	if err != nil {
		self.close()
		return nil, fmt.Errorf("failed to create world communicator: %w", err)
	}
	self.SetName("MPI_COMM_SELF")
	world.SetName("MPI_COMM_WORLD")

	u.self = u.track(self)
	u.world = u.track(world)

	u.logger.Info("Universe initialized",
		"world_rank", env.WorldRank,
		"world_size", env.WorldSize,
		"spawned", env.Spawned())

	return u, nil
}

// ID returns the unique identifier of the universe
func (u *Universe) ID() string {
	return u.id
}

// Config returns the configuration the universe was created with
func (u *Universe) Config() config.Config {
	return u.cfg
}

// Logger returns a logger tagged with the universe id
func (u *Universe) Logger() *logger.Logger {
	return u.base
}

// Env returns the spawn environment read at startup
func (u *Universe) Env() SpawnEnv {
	return u.env
}

// RLock acquires the universe lock for reading. Boundary code holds it
// around communicator queries.
func (u *Universe) RLock() { u.mu.RLock() }

// RUnlock releases a read lock taken with RLock
func (u *Universe) RUnlock() { u.mu.RUnlock() }

// Lock acquires the universe lock for writing
func (u *Universe) Lock() { u.mu.Lock() }

// Unlock releases a write lock taken with Lock
func (u *Universe) Unlock() { u.mu.Unlock() }

// CommSelf returns the standing size-one communicator
func (u *Universe) CommSelf() *Comm {
	u.mu.RLock()
	defer u.mu.RUnlock()
	u.mustBeLive()
	return u.self.MustGet()
}

// CommWorld returns the standing world communicator
func (u *Universe) CommWorld() *Comm {
	u.mu.RLock()
	defer u.mu.RUnlock()
	u.mustBeLive()
	return u.world.MustGet()
}

// RegisterComm starts tracking c and returns its registration
func (u *Universe) RegisterComm(c *Comm) *CommRegistration {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.mustBeLive()
	if c.owner != u.anchor {
		panic("empire: communicator belongs to a different universe")
	}
	return u.track(c)
}

func (u *Universe) track(c *Comm) *CommRegistration {
	reg := u.comms.Track(c)
	metrics.CommRegistered()
	u.logger.Debug("Communicator registered", "slot", reg.Index(), "comm", c.String())
	return reg
}

// FreeComm stops tracking the communicator behind reg and closes its ports.
// Freeing a standing communicator or an already freed registration panics.
func (u *Universe) FreeComm(reg *CommRegistration) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.mustBeLive()

	if reg == u.self || reg == u.world {
		panic("empire: standing communicators cannot be freed")
	}

	c := reg.Get()
	u.comms.Free(reg)
	metrics.CommFreed()
	u.logger.Debug("Communicator freed", "slot", reg.Index())

	return c.close()
}

// CommCount returns the number of tracked communicators, standing ones
// included
func (u *Universe) CommCount() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.comms.Len()
}

// OpenPort opens a named rendezvous port and returns its name
func (u *Universe) OpenPort() (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.mustBeLive()

	p, err := port.Open(u.cfg.Port, u.base)
	if err != nil {
		return "", err
	}
	u.ports[p.Name()] = p
	u.logger.Debug("Named port opened", "port_name", p.Name())
	return p.Name(), nil
}

// ClosePort closes the named port. A name that was never opened, or was
// already closed, yields a NO_SUCH_PORT error.
func (u *Universe) ClosePort(name string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.mustBeLive()

	p, ok := u.ports[name]
	if !ok {
		return types.NewError(types.ErrCodeNoSuchPort,
			fmt.Sprintf("empire could not find the port '%s'", name))
	}
	delete(u.ports, name)
	u.logger.Debug("Named port closed", "port_name", name)
	return p.Close()
}

// PortNames returns the names of all open named ports
func (u *Universe) PortNames() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()

	names := make([]string, 0, len(u.ports))
	for name := range u.ports {
		names = append(names, name)
	}
	return names
}

// Finalize tears the universe down: every named port and every tracked
// communicator is closed, and communicators still held by callers stop
// resolving their universe.
func (u *Universe) Finalize() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.finalized {
		return types.NewError(types.ErrCodeFailedPrecondition, "universe already finalized")
	}
	u.finalized = true
	u.anchor.u.Store(nil)

	var errs []error
	for name, p := range u.ports {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(u.ports, name)
	}

	var regs []int
	u.comms.Each(func(index int, c *Comm) {
		if err := c.close(); err != nil {
			errs = append(errs, err)
		}
		regs = append(regs, index)
	})
	for range regs {
		metrics.CommFreed()
	}
	u.comms.Reset()
	u.self, u.world = nil, nil

	u.logger.Info("Universe finalized", "communicators_closed", len(regs))

	return errors.Join(errs...)
}

func (u *Universe) mustBeLive() {
	if u.finalized {
		panic("empire: universe used after finalize")
	}
}
