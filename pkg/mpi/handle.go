package mpi

import (
	"fmt"

	"github.com/empirempi/empire/pkg/universe"
)

type handleKind uint8

const (
	kindNull handleKind = iota
	kindSystem
	kindUser
)

type systemComm uint8

const (
	systemSelf systemComm = iota
	systemWorld
)

// Comm is an opaque communicator handle. The zero value is CommNull.
//
// System handles name one of the universe's standing communicators and are
// resolved on every use. User handles own a registration and must be freed
// exactly once with CommFree.
type Comm struct {
	kind   handleKind
	system systemComm
	reg    *universe.CommRegistration
}

// Predefined handles
var (
	CommNull  = Comm{}
	CommSelf  = Comm{kind: kindSystem, system: systemSelf}
	CommWorld = Comm{kind: kindSystem, system: systemWorld}
)

// IsNull reports whether c is the null handle
func (c Comm) IsNull() bool {
	return c.kind == kindNull
}

// resolve returns the communicator behind c. Null handles, system handles
// without a live universe, and freed user handles panic.
func (c Comm) resolve() *universe.Comm {
	switch c.kind {
	case kindNull:
		panic("mpi: MPI_COMM_NULL is not allowed in this routine")
	case kindSystem:
		u := mustUniverse()
		switch c.system {
		case systemSelf:
			return u.CommSelf()
		case systemWorld:
			return u.CommWorld()
		default:
			panic(fmt.Sprintf("mpi: unknown system communicator %d", c.system))
		}
	case kindUser:
		return c.reg.MustGet()
	default:
		panic(fmt.Sprintf("mpi: corrupt communicator handle kind %d", c.kind))
	}
}

func (c Comm) String() string {
	switch c.kind {
	case kindNull:
		return "MPI_COMM_NULL"
	case kindSystem:
		if c.system == systemSelf {
			return "MPI_COMM_SELF"
		}
		return "MPI_COMM_WORLD"
	default:
		return fmt.Sprintf("MPI_Comm(slot %d)", c.reg.Index())
	}
}
