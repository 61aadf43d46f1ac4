package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func bodyEcho(limit int64) *gin.Engine {
	r := gin.New()
	r.Use(MaxBodySize(limit))
	r.POST("/echo", func(c *gin.Context) {
		var body struct {
			To string `json:"to_address"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.String(http.StatusBadRequest, "rejected")
			return
		}
		c.String(http.StatusOK, body.To)
	})
	return r
}

func TestMaxBodySize_WithinLimit(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"to_address":"d2"}`))
	bodyEcho(1024).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "d2", w.Body.String())
}

func TestMaxBodySize_Exceeded(t *testing.T) {
	big := `{"to_address":"` + strings.Repeat("a", 200) + `"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(big))
	bodyEcho(32).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMaxBodySize_NoBody(t *testing.T) {
	r := gin.New()
	r.Use(MaxBodySize(DefaultMaxBodyBytes))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
}
