package universe

import (
	"fmt"
	"sync/atomic"

	"github.com/empirempi/empire/pkg/port"
	"github.com/empirempi/empire/pkg/types"
)

// anchor is the non-owning link from a communicator back to its Universe.
// Finalize clears it; communicators never keep the Universe alive.
type anchor struct {
	u atomic.Pointer[Universe]
}

func (a *anchor) resolve() *Universe {
	u := a.u.Load()
	if u == nil {
		panic("empire: universe destroyed, communicator handle leaked")
	}
	return u
}

// Comm is a communicator: an intra-communicator over a single group, or an
// inter-communicator joining a local and a remote group.
//
// Rank, size and topology never change after construction. The name is
// mutable and guarded by the owning Universe's lock at the boundary.
type Comm struct {
	owner *anchor
	name  string
	rank  int
	size  int
	inter bool
	ports []*port.Port
}

// NewIntracomm creates an intra-communicator of the given size for the
// caller's rank, opening a rendezvous port for that rank only. Sizes above
// spawn.max_procs are rejected.
func (u *Universe) NewIntracomm(rank, size int) (*Comm, error) {
	if rank < 0 || rank >= size {
		return nil, types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("intracomm rank %d out of range for size %d", rank, size))
	}
	if size > u.cfg.Spawn.MaxProcs {
		return nil, types.NewError(types.ErrCodeResourceExhausted,
			fmt.Sprintf("intracomm size %d exceeds the limit of %d", size, u.cfg.Spawn.MaxProcs))
	}

	p, err := port.Open(u.cfg.Port, u.base)
	if err != nil {
		return nil, err
	}

	ports := make([]*port.Port, size)
	ports[rank] = p

	return &Comm{
		owner: u.anchor,
		rank:  rank,
		size:  size,
		ports: ports,
	}, nil
}

// NewIntercomm creates the local end of a two-group inter-communicator.
// Rank 0 owns a rendezvous port; rank 1's endpoint belongs to the peer
// group and is left empty.
func (u *Universe) NewIntercomm(rank int) (*Comm, error) {
	if rank != 0 && rank != 1 {
		return nil, types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("intercomm rank must be 0 or 1, got %d", rank))
	}

	ports := make([]*port.Port, 2)
	if rank == 0 {
		p, err := port.Open(u.cfg.Port, u.base)
		if err != nil {
			return nil, err
		}
		ports[0] = p
	}

	return &Comm{
		owner: u.anchor,
		rank:  rank,
		size:  2,
		inter: true,
		ports: ports,
	}, nil
}

// Rank returns the caller's rank in the communicator
func (c *Comm) Rank() int {
	return c.rank
}

// Size returns the number of ranks in the communicator
func (c *Comm) Size() int {
	return c.size
}

// IsIntercomm reports whether c is an inter-communicator
func (c *Comm) IsIntercomm() bool {
	return c.inter
}

// Name returns the communicator's display name, empty if unset
func (c *Comm) Name() string {
	return c.name
}

// SetName sets the communicator's display name
func (c *Comm) SetName(name string) {
	c.name = name
}

// Port returns the rendezvous port for local index idx, or nil when that
// slot is not populated in this process.
func (c *Comm) Port(idx int) *port.Port {
	if idx < 0 || idx >= len(c.ports) {
		return nil
	}
	return c.ports[idx]
}

// Universe returns the universe that created c. It panics if that universe
// has been finalized.
func (c *Comm) Universe() *Universe {
	return c.owner.resolve()
}

// close tears down every port the communicator owns
func (c *Comm) close() error {
	var firstErr error
	for i, p := range c.ports {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.ports[i] = nil
	}
	return firstErr
}

// String returns a string representation of the communicator
func (c *Comm) String() string {
	kind := "intra"
	if c.inter {
		kind = "inter"
	}
	return fmt.Sprintf("Comm{Name: %q, Kind: %s, Rank: %d, Size: %d}", c.name, kind, c.rank, c.size)
}
