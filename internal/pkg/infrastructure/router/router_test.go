package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matryer/is"
)

func TestThatPanicsAreRecovered(t *testing.T) {
	is := is.New(t)

	r := New("test")
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/boom", nil))

	is.Equal(res.Code, http.StatusInternalServerError)
}

func TestThatCorsPreflightIsAnswered(t *testing.T) {
	is := is.New(t)

	r := New("test")
	r.Post("/api/v1/report", func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/report", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)

	is.True(res.Header().Get("Access-Control-Allow-Origin") != "")
}
