package universe

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"unicode/utf8"

	"github.com/empirempi/empire/internal/logger"
	"github.com/empirempi/empire/pkg/types"
)

// Environment variables injected into every spawned child
const (
	EnvWorldRank  = "EMPIRE_WORLD_RANK"
	EnvWorldSize  = "EMPIRE_WORLD_SIZE"
	EnvParentPort = "EMPIRE_PARENT_PORT"
)

// LookupFunc looks up an environment variable, like os.LookupEnv
type LookupFunc func(key string) (string, bool)

// SpawnEnv is what a process learns about its role from its environment
type SpawnEnv struct {
	WorldRank int
	WorldSize int
	// ParentPort is the parent's rendezvous address, empty when the process
	// was not started by a batch spawn.
	ParentPort string
}

// Spawned reports whether the process was started by a batch spawn
func (e SpawnEnv) Spawned() bool {
	return e.ParentPort != ""
}

// ReadSpawnEnv reads the world rank, world size and parent address.
// Missing or malformed rank and size fall back to 0 and 1. Values that are
// not valid UTF-8 are an error.
func ReadSpawnEnv(lookup LookupFunc, log *logger.Logger) (SpawnEnv, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if log == nil {
		log = logger.Global()
	}

	env := SpawnEnv{WorldRank: 0, WorldSize: 1}

	values := make(map[string]string, 3)
	for _, key := range []string{EnvWorldRank, EnvWorldSize, EnvParentPort} {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		if !utf8.ValidString(v) {
			return SpawnEnv{}, types.NewError(types.ErrCodeInvalid,
				fmt.Sprintf("environment variable %s is not valid UTF-8", key))
		}
		values[key] = v
	}

	if v, ok := values[EnvParentPort]; ok {
		if _, _, err := net.SplitHostPort(v); err != nil {
			log.Warn("Ignoring malformed parent port address", "variable", EnvParentPort, "value", v, "error", err)
		} else {
			env.ParentPort = v
		}
	}

	// A plain launch has none of these variables; only complain when the
	// process looks spawned.
	missing := log.Debug
	if env.Spawned() {
		missing = log.Warn
	}

	rank, rankOK := parseEnvInt(values, EnvWorldRank, 0, missing, log)
	size, sizeOK := parseEnvInt(values, EnvWorldSize, 1, missing, log)
	if rankOK {
		env.WorldRank = rank
	}
	if sizeOK {
		env.WorldSize = size
	}
	if env.WorldRank >= env.WorldSize {
		log.Warn("World rank is not below world size, using defaults",
			"world_rank", env.WorldRank, "world_size", env.WorldSize)
		env.WorldRank, env.WorldSize = 0, 1
	}

	return env, nil
}

// parseEnvInt parses values[key] as an integer no smaller than min.
// ok is false when the variable is absent or malformed.
func parseEnvInt(values map[string]string, key string, min int, missing func(string, ...any), log *logger.Logger) (int, bool) {
	raw, present := values[key]
	if !present {
		missing("Environment variable not set, using default", "variable", key, "default", min)
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		log.Warn("Malformed environment variable, using default", "variable", key, "value", raw, "default", min)
		return 0, false
	}
	return n, true
}

// childEnv returns the variables injected into a spawned child
func childEnv(worldRank, worldSize int, parentPort string) []string {
	return []string{
		EnvWorldRank + "=" + strconv.Itoa(worldRank),
		EnvWorldSize + "=" + strconv.Itoa(worldSize),
		EnvParentPort + "=" + parentPort,
	}
}
