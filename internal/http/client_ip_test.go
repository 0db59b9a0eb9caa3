package http_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pulsehttp "pulse/internal/http"
)

func TestClientIP(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(pulsehttp.ClientIP(c))
	})

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "first public forwarded address",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 198.51.100.2"},
			want:    "203.0.113.7",
		},
		{
			name:    "private forwarded addresses are skipped",
			headers: map[string]string{"X-Forwarded-For": "10.0.0.1, 192.168.1.4, 203.0.113.7"},
			want:    "203.0.113.7",
		},
		{
			name:    "ipv4 preferred over ipv6",
			headers: map[string]string{"X-Forwarded-For": "2001:db8::1, 203.0.113.7"},
			want:    "203.0.113.7",
		},
		{
			name:    "ipv6 when nothing else",
			headers: map[string]string{"X-Forwarded-For": "2001:db8::1"},
			want:    "2001:db8::1",
		},
		{
			name:    "ports are stripped",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7:8080"},
			want:    "203.0.113.7",
		},
		{
			name:    "mapped ipv4 is unmapped",
			headers: map[string]string{"X-Forwarded-For": "::ffff:203.0.113.7"},
			want:    "203.0.113.7",
		},
		{
			name:    "real ip header",
			headers: map[string]string{"X-Forwarded-For": "10.0.0.1", "X-Real-IP": "198.51.100.9"},
			want:    "198.51.100.9",
		},
		{
			name:    "cloudflare header",
			headers: map[string]string{"CF-Connecting-IP": "198.51.100.10"},
			want:    "198.51.100.10",
		},
		{
			name:    "forwarded header",
			headers: map[string]string{"Forwarded": `for="[2001:db8::2]:4711";proto=https, for=198.51.100.11`},
			want:    "198.51.100.11",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(body))
		})
	}
}
