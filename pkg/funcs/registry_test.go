package funcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sampsyo/cluster-workers/internal/domain"
	"github.com/sampsyo/cluster-workers/internal/protocol"
)

func square(_ context.Context, args []any, _ map[string]any) (any, error) {
	n := args[0].(int)
	return n * n, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("square", square))

	fn, err := r.Lookup("square")
	require.NoError(t, err)
	out, err := fn(context.Background(), []any{7}, nil)
	require.NoError(t, err)
	assert.Equal(t, 49, out)

	assert.Equal(t, []string{"square"}, r.Names())
}

func TestRegistryErrors(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register("", square))
	assert.Error(t, r.Register("nil", nil))

	require.NoError(t, r.Register("square", square))
	assert.Error(t, r.Register("square", square))
	assert.Panics(t, func() { r.MustRegister("square", square) })

	_, err := r.Lookup("cube")
	assert.ErrorIs(t, err, domain.ErrFuncNotFound)
}

func TestRefRoundTrip(t *testing.T) {
	data, err := EncodeRef("square")
	require.NoError(t, err)

	ref, err := DecodeRef(data)
	require.NoError(t, err)
	assert.Equal(t, "square", ref.Name)

	other, err := protocol.EncodeBlob(42)
	require.NoError(t, err)
	_, err = DecodeRef(other)
	assert.Error(t, err)
}
