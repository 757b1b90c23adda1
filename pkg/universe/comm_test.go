package universe

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empirempi/empire/pkg/types"
)

func TestNewIntracomm(t *testing.T) {
	u := newTestUniverse(t, nil)

	tests := []struct {
		name    string
		rank    int
		size    int
		wantErr bool
	}{
		{name: "single", rank: 0, size: 1},
		{name: "last rank", rank: 3, size: 4},
		{name: "rank equals size", rank: 2, size: 2, wantErr: true},
		{name: "rank above size", rank: 5, size: 2, wantErr: true},
		{name: "negative rank", rank: -1, size: 2, wantErr: true},
		{name: "empty", rank: 0, size: 0, wantErr: true},
	}

	t.Run("size above process limit", func(t *testing.T) {
		_, err := u.NewIntracomm(0, u.Config().Spawn.MaxProcs+1)
		require.Error(t, err)
		assert.True(t, types.IsErrCode(err, types.ErrCodeResourceExhausted))
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := u.NewIntracomm(tt.rank, tt.size)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, types.IsErrCode(err, types.ErrCodeInvalidArgument))
				return
			}
			require.NoError(t, err)
			defer c.close()

			assert.Equal(t, tt.rank, c.Rank())
			assert.Equal(t, tt.size, c.Size())
			assert.False(t, c.IsIntercomm())
			for i := 0; i < tt.size; i++ {
				if i == tt.rank {
					assert.NotNil(t, c.Port(i))
				} else {
					assert.Nil(t, c.Port(i))
				}
			}
		})
	}
}

func TestNewIntercomm(t *testing.T) {
	u := newTestUniverse(t, nil)

	for _, rank := range []int{0, 1} {
		c, err := u.NewIntercomm(rank)
		require.NoError(t, err)

		assert.Equal(t, 2, c.Size())
		assert.True(t, c.IsIntercomm())
		assert.Equal(t, rank, c.Rank())
		if rank == 0 {
			require.NotNil(t, c.Port(0))
			_, _, err := net.SplitHostPort(c.Port(0).Name())
			assert.NoError(t, err)
		}
		assert.Nil(t, c.Port(1))
		c.close()
	}

	_, err := u.NewIntercomm(2)
	assert.True(t, types.IsErrCode(err, types.ErrCodeInvalidArgument))
}

func TestCommAccessors(t *testing.T) {
	u := newTestUniverse(t, nil)

	c, err := u.NewIntracomm(0, 2)
	require.NoError(t, err)
	defer c.close()

	assert.Empty(t, c.Name())
	c.SetName("workers")
	assert.Equal(t, "workers", c.Name())

	assert.Nil(t, c.Port(-1))
	assert.Nil(t, c.Port(2))
	assert.Contains(t, c.String(), `Name: "workers"`)
	assert.Contains(t, c.String(), "Kind: intra")
}
