package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouteBuildsTargetFromPrefixBaseAndTable(t *testing.T) {
	router, err := NewRouter("gluesync:", "gluesync_events")
	require.NoError(t, err)

	ce, err := NewNormalizer(nil).Normalize(
		sourceEvent("INSERT", "customers", map[string]interface{}{"id": 1}, nil))
	require.NoError(t, err)

	require.Equal(t, StreamTarget("gluesync:gluesync_events:customers"), router.Route(ce))
}

func TestRouteWithoutPrefix(t *testing.T) {
	router, err := NewRouter("", "events")
	require.NoError(t, err)

	ce, err := NewNormalizer(nil).Normalize(
		sourceEvent("INSERT", "orders", map[string]interface{}{"id": 1}, nil))
	require.NoError(t, err)

	require.Equal(t, StreamTarget("events:orders"), router.Route(ce))
}

func TestNewRouterRejectsEmptyBaseName(t *testing.T) {
	_, err := NewRouter("gluesync:", "   ")
	require.Error(t, err)
}

func TestRouteIsDeterministic(t *testing.T) {
	router, err := NewRouter("p:", "base")
	require.NoError(t, err)

	ce, err := NewNormalizer(nil).Normalize(
		sourceEvent("UPDATE", "customers", map[string]interface{}{"id": 1}, nil))
	require.NoError(t, err)

	require.Equal(t, router.Route(ce), router.Route(ce))
}
