package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/logging"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
	"github.com/chachabrian/mooveit-ridesync/pkg/utils"
)

const secret = "test-secret"

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/me", Auth(secret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": UserID(c), "type": UserType(c)})
	})
	r.GET("/drivers-only", Auth(secret), RequireRole(models.RoleDriver), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestAuth(t *testing.T) {
	r := newRouter()
	token, err := utils.GenerateToken(secret, 12, models.RoleDriver, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	forged, _ := utils.GenerateToken("other", 12, models.RoleDriver, time.Minute)

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"bearer header", "/me", "Bearer " + token, http.StatusOK},
		{"query token", "/me?token=" + token, "", http.StatusOK},
		{"missing", "/me", "", http.StatusUnauthorized},
		{"wrong scheme", "/me", "Basic " + token, http.StatusUnauthorized},
		{"forged", "/me", "Bearer " + forged, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Fatalf("status %d: %s", w.Code, w.Body.String())
			}
			if tt.status == http.StatusOK {
				var body struct {
					ID   uint   `json:"id"`
					Type string `json:"type"`
				}
				_ = json.Unmarshal(w.Body.Bytes(), &body)
				if body.ID != 12 || body.Type != models.RoleDriver {
					t.Fatalf("identity %+v", body)
				}
				return
			}
			var p apperr.Payload
			_ = json.Unmarshal(w.Body.Bytes(), &p)
			if p.Code != apperr.CodeUnauthenticated {
				t.Fatalf("code %q", p.Code)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	r := newRouter()
	passenger, _ := utils.GenerateToken(secret, 3, models.RolePassenger, time.Minute)
	driver, _ := utils.GenerateToken(secret, 4, models.RoleDriver, time.Minute)

	for token, want := range map[string]int{passenger: http.StatusForbidden, driver: http.StatusNoContent} {
		req := httptest.NewRequest(http.MethodGet, "/drivers-only", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("status %d, want %d", w.Code, want)
		}
	}
}

func TestRequestLoggerTagsRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestID(), RequestLogger(logging.New(&buf, "info")))
	r.GET("/rides/:rideId", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/rides/9", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-1" {
		t.Fatalf("response request id %q", got)
	}
	line := buf.String()
	for _, want := range []string{`"route":"/rides/:rideId"`, `"request_id":"req-1"`, `"status":200`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %s missing %s", line, want)
		}
	}
}
