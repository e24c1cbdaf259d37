package blocks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temple-compute/horus/pkg/schema"
)

// stubBlock is a minimal Block for registry tests.
type stubBlock struct {
	typ  string
	desc string
}

func (s *stubBlock) Type() string        { return s.typ }
func (s *stubBlock) Description() string { return s.desc }
func (s *stubBlock) Execute(_ context.Context, _ Input) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}
func (s *stubBlock) Validate(_ json.RawMessage) error { return nil }

func TestRegistry_Register_Success(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&stubBlock{typ: "noop", desc: "A test block"})
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Count())
	assert.True(t, reg.Has("noop"))
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubBlock{typ: "dup"}))

	err := reg.Register(&stubBlock{typ: "dup"})
	require.Error(t, err)

	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeConflict, engErr.Code)
}

func TestRegistry_Register_Nil(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(nil)
	require.Error(t, err)

	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
}

func TestRegistry_Register_EmptyType(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&stubBlock{typ: ""})
	require.Error(t, err)

	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
}

func TestRegistry_Get_Success(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubBlock{typ: "fetch"}))

	got, err := reg.Get("fetch")
	require.NoError(t, err)
	assert.Equal(t, "fetch", got.Type())
}

func TestRegistry_Get_NotFound(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("missing")
	require.Error(t, err)

	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeNotFound, engErr.Code)
}

func TestRegistry_List_Sorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubBlock{typ: "zeta", desc: "last"}))
	require.NoError(t, reg.Register(&stubBlock{typ: "alpha", desc: "first"}))
	require.NoError(t, reg.Register(&stubBlock{typ: "mid", desc: "middle"}))

	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "alpha", infos[0].Type)
	assert.Equal(t, "first", infos[0].Description)
	assert.Equal(t, "mid", infos[1].Type)
	assert.Equal(t, "zeta", infos[2].Type)
}

func TestRegistry_List_Empty(t *testing.T) {
	reg := NewRegistry()
	assert.Empty(t, reg.List())
}

func TestDefaultRegistry_Builtins(t *testing.T) {
	reg := DefaultRegistry()
	assert.True(t, reg.Has("command"))
	assert.True(t, reg.Has("eval"))
	assert.Equal(t, 2, reg.Count())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 3)

	// Concurrent registers.
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			name := "concurrent." + string(rune('a'+i%26)) + string(rune('0'+i/26))
			_ = reg.Register(&stubBlock{typ: name})
		}(i)
	}

	// Concurrent gets.
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = reg.Get("concurrent.a0")
		}()
	}

	// Concurrent lists.
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = reg.List()
		}()
	}

	wg.Wait()
	assert.True(t, reg.Count() > 0)
}
