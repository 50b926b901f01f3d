package middleware

import (
	"github.com/gin-gonic/gin"

	"gamecore-backend/pkg/errutil"
)

// Error renders the last handler error as the errutil JSON envelope.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil || c.Writer.Written() {
			return
		}

		be := errutil.FromError(err.Err)
		c.JSON(be.Code.HTTPStatus(), be.JSON())
	}
}
