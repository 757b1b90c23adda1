package mpi

import (
	"fmt"

	"github.com/empirempi/empire/pkg/types"
)

// Status is the numeric result of a boundary call. Values follow the
// MPI error class numbering.
type Status int

const (
	Success                 Status = 0
	ErrComm                 Status = 5
	ErrArg                  Status = 13
	ErrOther                Status = 16
	ErrIntern               Status = 17
	ErrIO                   Status = 35
	ErrNoMem                Status = 39
	ErrNoSuchFile           Status = 42
	ErrPort                 Status = 43
	ErrSpawn                Status = 54
	ErrUnsupportedOperation Status = 56
)

var statusNames = map[Status]string{
	Success:                 "MPI_SUCCESS",
	ErrComm:                 "MPI_ERR_COMM",
	ErrArg:                  "MPI_ERR_ARG",
	ErrOther:                "MPI_ERR_OTHER",
	ErrIntern:               "MPI_ERR_INTERN",
	ErrIO:                   "MPI_ERR_IO",
	ErrNoMem:                "MPI_ERR_NO_MEM",
	ErrNoSuchFile:           "MPI_ERR_NO_SUCH_FILE",
	ErrPort:                 "MPI_ERR_PORT",
	ErrSpawn:                "MPI_ERR_SPAWN",
	ErrUnsupportedOperation: "MPI_ERR_UNSUPPORTED_OPERATION",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// StatusOf maps an error returned by the core onto the status space
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	switch types.GetErrorCode(err) {
	case types.ErrCodeCommandNotFound:
		return ErrNoSuchFile
	case types.ErrCodeNoSuchPort:
		return ErrPort
	case types.ErrCodeIO:
		return ErrIO
	case types.ErrCodeFailExitCode:
		return ErrSpawn
	case types.ErrCodeInvalidArgument:
		return ErrArg
	case types.ErrCodeUnsupported:
		return ErrUnsupportedOperation
	case types.ErrCodeResourceExhausted:
		return ErrNoMem
	case types.ErrCodeInternal:
		return ErrIntern
	default:
		return ErrOther
	}
}
