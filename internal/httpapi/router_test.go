package httpapi

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestEveryRouteHasMetricsName(t *testing.T) {
	engines := []*gin.Engine{
		NewIngestRouter(&IngestHandler{}, RouterOptions{}),
		NewQueryRouter(&QueryHandler{}, RouterOptions{}),
	}
	for _, r := range engines {
		for _, route := range r.Routes() {
			require.Contains(t, Routes, route.Path, "%s %s has no metrics name", route.Method, route.Path)
		}
	}
}
