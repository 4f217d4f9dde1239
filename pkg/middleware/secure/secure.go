package secure

import (
	"github.com/gin-gonic/gin"
	unrolled "github.com/unrolled/secure"
)

// New wraps unrolled/secure as gin middleware. Strict transport and redirects
// only apply in production.
func New(production bool) gin.HandlerFunc {
	opts := unrolled.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !production,
	}
	if production {
		opts.SSLRedirect = true
		opts.STSSeconds = 31536000
		opts.STSIncludeSubdomains = true
		opts.ContentSecurityPolicy = "default-src 'self'"
	}
	middleware := unrolled.New(opts)

	return func(c *gin.Context) {
		if err := middleware.Process(c.Writer, c.Request); err != nil {
			c.Abort()
			return
		}
		// Process writes redirects itself.
		if status := c.Writer.Status(); status > 300 && status < 399 {
			c.Abort()
			return
		}
		c.Next()
	}
}
