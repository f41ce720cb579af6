package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordsRouteTemplate(t *testing.T) {
	app := fiber.New()
	app.Use(Metrics("/api/v1/health"))
	app.Get("/items/:id", func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	app.Get("/api/v1/health", func(c fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/boom", func(c fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTeapot, "short and stout")
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/items/:id", "204"))
	for _, id := range []string{"1", "2", "3"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
	assert.Equal(t, before+3, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/items/:id", "204")))

	healthBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/v1/health", "200"))
	_, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.NoError(t, err)
	assert.Equal(t, healthBefore, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/v1/health", "200")))

	teapotBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/boom", "418"))
	_, err = app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, teapotBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/boom", "418")))
}
