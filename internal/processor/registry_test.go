package processor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"jobrunner/internal/job"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry(Empty{}, Sleep{})

	p, ok := r.Lookup("empty")
	require.True(t, ok)
	require.Equal(t, "empty", p.Name())

	_, ok = r.Lookup("missing")
	require.False(t, ok)
	require.Equal(t, []string{"empty", "sleep"}, r.Names())
}

func TestRegistry_ReplaceIsLastWriteWins(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")

	r := NewRegistry()
	r.Register(Func("work", func(context.Context, job.Arguments) error { return first }))
	r.Register(Func("work", func(context.Context, job.Arguments) error { return second }))

	p, ok := r.Lookup("work")
	require.True(t, ok)
	require.ErrorIs(t, p.Execute(context.Background(), nil), second)
	require.Equal(t, []string{"work"}, r.Names())
}

func TestRegistry_Deregister(t *testing.T) {
	r := NewRegistry(Empty{})
	r.Deregister("empty")
	require.False(t, r.Has("empty"))
	require.Empty(t, r.Names())
}

func TestRegistry_Missing(t *testing.T) {
	r := NewRegistry(Empty{})
	require.Equal(t, []string{"a", "b"}, r.Missing([]string{"a", "empty", "b"}))
	require.Nil(t, r.Missing([]string{"empty"}))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register(Func("p", func(context.Context, job.Arguments) error { return nil }))
			if i%2 == 0 {
				r.Deregister("p")
			}
		}()
		go func() {
			defer wg.Done()
			r.Lookup("p")
			r.Names()
		}()
	}
	wg.Wait()
}
