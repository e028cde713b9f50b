package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/civicgrid/civic-issues-api/api/handlers"
	"github.com/civicgrid/civic-issues-api/config"
)

func TestHealthCheckHandler(t *testing.T) {
	a := handlers.App{Config: config.Config{AdminJWTSecret: "test-secret"}}
	router := a.New()

	req, err := http.NewRequest("GET", "/health", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `{"alive":true}`, rr.Body.String())
}

func TestRouterUnknownRoute(t *testing.T) {
	a := handlers.App{Config: config.Config{AdminJWTSecret: "test-secret"}}
	router := a.New()

	req, err := http.NewRequest("GET", "/api/v1/nope", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouterAdminRouteRequiresJWT(t *testing.T) {
	a := handlers.App{Config: config.Config{AdminJWTSecret: "test-secret"}}
	router := a.New()

	req, err := http.NewRequest("GET", "/api/v1/reports", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouterCitizenRouteRequiresToken(t *testing.T) {
	a := handlers.App{Config: config.Config{AdminJWTSecret: "test-secret"}}
	router := a.New()

	req, err := http.NewRequest("POST", "/api/v1/report", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
