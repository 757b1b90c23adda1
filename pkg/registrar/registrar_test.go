package registrar

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	id int
}

func TestTrackAndGet(t *testing.T) {
	r := New[widget]()

	a := &widget{id: 1}
	b := &widget{id: 2}
	regA := r.Track(a)
	regB := r.Track(b)

	assert.Same(t, a, regA.Get())
	assert.Same(t, b, regB.Get())
	assert.Equal(t, 0, regA.Index())
	assert.Equal(t, 1, regB.Index())
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2, r.Cap())
}

func TestFreeClearsRegistration(t *testing.T) {
	r := New[widget]()
	reg := r.Track(&widget{id: 1})

	r.Free(reg)

	assert.Nil(t, reg.Get())
	assert.Equal(t, 0, r.Len())
	assert.PanicsWithValue(t, "registrar: object at slot 0 was already freed", func() {
		reg.MustGet()
	})
}

func TestFreedSlotIsReusedOldestFirst(t *testing.T) {
	r := New[widget]()
	regs := []*Registration[widget]{
		r.Track(&widget{id: 0}),
		r.Track(&widget{id: 1}),
		r.Track(&widget{id: 2}),
	}

	r.Free(regs[2])
	r.Free(regs[0])

	first := r.Track(&widget{id: 3})
	second := r.Track(&widget{id: 4})
	third := r.Track(&widget{id: 5})

	assert.Equal(t, 2, first.Index())
	assert.Equal(t, 0, second.Index())
	assert.Equal(t, 3, third.Index(), "grows once the free list is empty")
	assert.Nil(t, regs[0].Get(), "stale registration stays empty after its slot is reused")
	assert.Equal(t, 4, second.Get().id)
}

func TestDoubleFreePanics(t *testing.T) {
	r := New[widget]()
	reg := r.Track(&widget{id: 1})
	r.Free(reg)

	assert.Panics(t, func() { r.Free(reg) })
}

func TestStaleRegistrationAgainstReusedSlotPanics(t *testing.T) {
	r := New[widget]()
	stale := r.Track(&widget{id: 1})
	r.Free(stale)
	r.Track(&widget{id: 2})

	assert.Panics(t, func() { r.Free(stale) })
}

func TestForeignRegistrationPanics(t *testing.T) {
	r1 := New[widget]()
	r2 := New[widget]()
	r1.Track(&widget{id: 1})
	foreign := r2.Track(&widget{id: 2})

	assert.Panics(t, func() { r1.Free(foreign) })
	assert.NotNil(t, foreign.Get(), "a rejected free leaves the registration intact")
}

func TestEach(t *testing.T) {
	r := New[widget]()
	r.Track(&widget{id: 10})
	mid := r.Track(&widget{id: 11})
	r.Track(&widget{id: 12})
	r.Free(mid)

	var seen []int
	r.Each(func(index int, w *widget) {
		seen = append(seen, index*100+w.id)
	})
	assert.Equal(t, []int{10, 212}, seen)
}

func TestReset(t *testing.T) {
	r := New[widget]()
	a := r.Track(&widget{id: 1})
	b := r.Track(&widget{id: 2})

	r.Reset()

	assert.Nil(t, a.Get())
	assert.Nil(t, b.Get())
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Cap())
	assert.Panics(t, func() { r.Free(a) })

	assert.Equal(t, 0, r.Track(&widget{id: 3}).Index())
}

// Random track/free sequences: live registrations always resolve to the
// object they were issued for and no index is held twice.
func TestRandomTrackFreeSequence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	r := New[widget]()

	type entry struct {
		reg *Registration[widget]
		obj *widget
	}
	var live []entry
	var freed []*Registration[widget]

	for step := 0; step < 2000; step++ {
		if len(live) == 0 || rng.Intn(3) > 0 {
			obj := &widget{id: step}
			live = append(live, entry{reg: r.Track(obj), obj: obj})
		} else {
			i := rng.Intn(len(live))
			r.Free(live[i].reg)
			freed = append(freed, live[i].reg)
			live = append(live[:i], live[i+1:]...)
		}

		indices := make(map[int]bool, len(live))
		for _, e := range live {
			require.Same(t, e.obj, e.reg.Get())
			require.False(t, indices[e.reg.Index()], "index %d issued twice", e.reg.Index())
			indices[e.reg.Index()] = true
		}
		require.Equal(t, len(live), r.Len())
	}

	for _, reg := range freed {
		assert.Nil(t, reg.Get())
	}
}
