package source

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnisource/ingest/pkg/config"
	pkgerrors "github.com/omnisource/ingest/pkg/errors"
)

type namedAdapter string

func (n namedAdapter) Name() string { return string(n) }

func (n namedAdapter) Fetch(ctx context.Context, query string, limit int) ([]Result, error) {
	return nil, nil
}

func newEntry(name string) *Entry {
	return &Entry{Adapter: namedAdapter(name), Config: config.SourceConfig{Name: name}}
}

func TestRegistry_PreservesInvocationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"web", "preprint", "biomed"} {
		require.NoError(t, r.Register(newEntry(name)))
	}

	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, "web", all[0].Adapter.Name())
	assert.Equal(t, "biomed", all[2].Adapter.Name())

	// Resolution order follows registration order, not request order.
	selected, err := r.Resolve([]string{"biomed", "web"})
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, "web", selected[0].Adapter.Name())
	assert.Equal(t, "biomed", selected[1].Adapter.Name())
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newEntry("web")))
	require.Error(t, r.Register(newEntry("web")))
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newEntry("web")))

	// Empty selection means all sources.
	all, err := r.Resolve(nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Unknown names are skipped; a fully unknown set is an error.
	_, err = r.Resolve([]string{"nope"})
	require.ErrorIs(t, err, pkgerrors.ErrNoAvailableSources)

	selected, err := r.Resolve([]string{"web", "nope"})
	require.NoError(t, err)
	assert.Len(t, selected, 1)
}

func TestRegistry_EmptyResolve(t *testing.T) {
	_, err := NewRegistry().Resolve(nil)
	require.ErrorIs(t, err, pkgerrors.ErrNoAvailableSources)
}

func TestMapHTTPStatus(t *testing.T) {
	assert.NoError(t, MapHTTPStatus(http.StatusOK))
	assert.NoError(t, MapHTTPStatus(http.StatusNoContent))
	assert.ErrorIs(t, MapHTTPStatus(http.StatusTooManyRequests), pkgerrors.ErrRateLimited)
	assert.ErrorIs(t, MapHTTPStatus(http.StatusNotFound), pkgerrors.ErrNotFound)
	assert.ErrorIs(t, MapHTTPStatus(http.StatusInternalServerError), pkgerrors.ErrUpstreamUnavailable)
	assert.ErrorIs(t, MapHTTPStatus(http.StatusForbidden), pkgerrors.ErrUpstreamUnavailable)
}
