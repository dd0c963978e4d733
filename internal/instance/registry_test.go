package instance

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySetIfAbsent(t *testing.T) {
	r := NewRegistry()
	e := &Entry{Instance: &Instance{ProfileID: "club-a"}}

	assert.True(t, r.SetIfAbsent("club-a", e))
	assert.False(t, r.SetIfAbsent("club-a", &Entry{}), "second registration must lose")
	assert.Same(t, e, r.Get("club-a"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry()
	e := &Entry{Instance: &Instance{ProfileID: "club-a"}}
	r.SetIfAbsent("club-a", e)

	got := r.Clear("club-a")
	assert.Same(t, e, got)
	assert.Nil(t, r.Get("club-a"))
	assert.Equal(t, 0, r.Len())

	// Clearing again is a no-op.
	assert.Nil(t, r.Clear("club-a"))
}

func TestRegistryUpdate(t *testing.T) {
	r := NewRegistry()
	r.SetIfAbsent("club-a", &Entry{Instance: &Instance{ProfileID: "club-a"}})

	conn := &fakeConn{log: &eventLog{}}
	ok := r.Update("club-a", func(e *Entry) { e.Conn = conn })
	require.True(t, ok)
	assert.Same(t, conn, r.Get("club-a").Conn.(*fakeConn))

	r.Clear("club-a")
	assert.False(t, r.Update("club-a", func(e *Entry) {}), "update after clear must report the entry gone")
}

func TestRegistryConcurrentRegistration(t *testing.T) {
	r := NewRegistry()

	const attempts = 32
	var wg sync.WaitGroup
	wins := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- r.SetIfAbsent("club-a", &Entry{Instance: &Instance{ProfileID: "club-a"}})
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one registration wins")
	assert.Equal(t, 1, r.Len())
}

func TestRegistryListAll(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		r.SetIfAbsent(id, &Entry{Instance: &Instance{ProfileID: id}})
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, r.ListAll())
}
