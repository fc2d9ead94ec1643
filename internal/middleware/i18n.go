// internal/middleware/i18n.go
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/marketstock/internal/i18n"
)

// I18nMiddleware stores the negotiated locale under "lang" and echoes it back.
func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := i18n.Negotiate(c.GetHeader("Accept-Language"))
		c.Set("lang", lang)
		c.Header("Content-Language", lang)
		c.Next()
	}
}
