package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(PrometheusMiddleware())
	r.GET("/api/tickets/:code", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "/api/tickets/:code", "404"))
	unmatchedBefore := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404"))

	for _, path := range []string{"/api/tickets/A1", "/api/tickets/B2", "/nowhere"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	// Route templates keep ticket codes out of label values
	assert.Equal(t, before+2, testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "/api/tickets/:code", "404")))
	assert.Equal(t, unmatchedBefore+1, testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")))
}
