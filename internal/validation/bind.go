package validation

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
)

// BindJSON decodes the request body into out. Decoding failures are
// reported as *SchemaError so the HTTP layer answers 400.
func BindJSON(c *gin.Context, out interface{}) error {
	if err := c.ShouldBindJSON(out); err != nil {
		if errors.Is(err, io.EOF) {
			return &SchemaError{Message: "request body is required"}
		}
		return &SchemaError{Message: "invalid request body: " + err.Error()}
	}
	return nil
}
