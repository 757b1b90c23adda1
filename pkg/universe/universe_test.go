package universe

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empirempi/empire/internal/config"
	"github.com/empirempi/empire/internal/logger"
	"github.com/empirempi/empire/pkg/types"
)

// envMap returns a LookupFunc backed by vars
func envMap(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func newTestUniverse(t *testing.T, vars map[string]string) *Universe {
	t.Helper()
	u, err := New(Options{
		Config: *config.Default(),
		Logger: logger.NewNop(),
		Lookup: envMap(vars),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if !u.finalized {
			u.Finalize()
		}
	})
	return u
}

func TestNewCreatesStandingCommunicators(t *testing.T) {
	u := newTestUniverse(t, nil)

	self := u.CommSelf()
	assert.Equal(t, 0, self.Rank())
	assert.Equal(t, 1, self.Size())
	assert.False(t, self.IsIntercomm())
	assert.Equal(t, "MPI_COMM_SELF", self.Name())
	assert.NotNil(t, self.Port(0))

	world := u.CommWorld()
	assert.Equal(t, 0, world.Rank())
	assert.Equal(t, 1, world.Size())
	assert.Equal(t, "MPI_COMM_WORLD", world.Name())

	assert.Equal(t, 2, u.CommCount())
	assert.NotEmpty(t, u.ID())
	assert.Same(t, u, self.Universe())
}

func TestWorldSizedFromEnvironment(t *testing.T) {
	u := newTestUniverse(t, map[string]string{
		EnvWorldRank:  "2",
		EnvWorldSize:  "4",
		EnvParentPort: "127.0.0.1:5555",
	})

	world := u.CommWorld()
	assert.Equal(t, 2, world.Rank())
	assert.Equal(t, 4, world.Size())
	assert.Nil(t, world.Port(0), "only the own rank's slot is populated")
	assert.NotNil(t, world.Port(2))

	assert.True(t, u.Env().Spawned())
	assert.Equal(t, "127.0.0.1:5555", u.Env().ParentPort)
}

func TestNewWithZeroConfigUsesDefaults(t *testing.T) {
	skipWithoutShell(t)
	u, err := New(Options{Logger: logger.NewNop(), Lookup: envMap(nil)})
	require.NoError(t, err)
	defer u.Finalize()

	assert.Equal(t, config.DefaultPortHost, u.Config().Port.Host)
	assert.Equal(t, config.DefaultSpawnMaxProcs, u.Config().Spawn.MaxProcs)

	host, _, err := net.SplitHostPort(u.CommSelf().Port(0).Name())
	require.NoError(t, err)
	assert.True(t, net.ParseIP(host).IsLoopback(), "self port bound to %s", host)

	result, err := u.CommSelf().SpawnMultiple(context.Background(), 0, []SpawnCommandInfo{
		{Command: "/bin/sh", Args: []string{"-c", "exit 0"}, MaxProcs: 1},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Failed())
	result.Comm.close()
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{name: "non-loopback host", modify: func(c *config.Config) { c.Port.Host = "10.0.0.1" }},
		{name: "wildcard host", modify: func(c *config.Config) { c.Port.Host = "0.0.0.0" }},
		{name: "negative process limit", modify: func(c *config.Config) { c.Spawn.MaxProcs = -1 }},
		{name: "unknown log level", modify: func(c *config.Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.modify(cfg)
			_, err := New(Options{Config: *cfg, Logger: logger.NewNop(), Lookup: envMap(nil)})
			require.Error(t, err)
			assert.True(t, types.IsErrCode(err, types.ErrCodeInvalidArgument))
		})
	}
}

func TestNewRejectsWorldAboveProcessLimit(t *testing.T) {
	_, err := New(Options{
		Config: *config.Default(),
		Logger: logger.NewNop(),
		Lookup: envMap(map[string]string{EnvWorldRank: "0", EnvWorldSize: "2000000000"}),
	})
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeResourceExhausted))
}

func TestNewRejectsNonUTF8Environment(t *testing.T) {
	_, err := New(Options{
		Config: *config.Default(),
		Logger: logger.NewNop(),
		Lookup: envMap(map[string]string{EnvWorldRank: "\xff"}),
	})
	require.Error(t, err)
	assert.True(t, types.IsErrCode(err, types.ErrCodeInvalid))
}

func TestRegisterAndFreeComm(t *testing.T) {
	u := newTestUniverse(t, nil)

	c, err := u.NewIntercomm(0)
	require.NoError(t, err)
	reg := u.RegisterComm(c)

	assert.Equal(t, 3, u.CommCount())
	assert.Same(t, c, reg.Get())

	require.NoError(t, u.FreeComm(reg))
	assert.Equal(t, 2, u.CommCount())
	assert.Nil(t, reg.Get())
	assert.Nil(t, c.Port(0), "freeing closes the communicator's ports")

	assert.Panics(t, func() { u.FreeComm(reg) }, "double free")
}

func TestFreeingStandingCommPanics(t *testing.T) {
	u := newTestUniverse(t, nil)

	assert.Panics(t, func() { u.FreeComm(u.self) })
	assert.Panics(t, func() { u.FreeComm(u.world) })
}

func TestRegisterForeignCommPanics(t *testing.T) {
	a := newTestUniverse(t, nil)
	b := newTestUniverse(t, nil)

	c, err := b.NewIntercomm(1)
	require.NoError(t, err)
	assert.Panics(t, func() { a.RegisterComm(c) })
}

func TestNamedPorts(t *testing.T) {
	u := newTestUniverse(t, nil)

	name, err := u.OpenPort()
	require.NoError(t, err)
	assert.Contains(t, u.PortNames(), name)

	require.NoError(t, u.ClosePort(name))
	assert.NotContains(t, u.PortNames(), name)

	err = u.ClosePort(name)
	assert.True(t, types.IsErrCode(err, types.ErrCodeNoSuchPort), "closing twice")

	err = u.ClosePort("127.0.0.1:1")
	assert.True(t, types.IsErrCode(err, types.ErrCodeNoSuchPort), "never opened")
}

func TestFinalize(t *testing.T) {
	u := newTestUniverse(t, nil)

	self := u.CommSelf()
	extra, err := u.NewIntercomm(0)
	require.NoError(t, err)
	u.RegisterComm(extra)
	_, err = u.OpenPort()
	require.NoError(t, err)

	require.NoError(t, u.Finalize())

	assert.Empty(t, u.PortNames())
	assert.Equal(t, 0, u.CommCount())
	assert.Nil(t, extra.Port(0))

	assert.PanicsWithValue(t, "empire: universe destroyed, communicator handle leaked",
		func() { self.Universe() })
	assert.Panics(t, func() { u.CommSelf() })
	assert.Panics(t, func() { u.OpenPort() })

	err = u.Finalize()
	assert.True(t, types.IsErrCode(err, types.ErrCodeFailedPrecondition))
}
