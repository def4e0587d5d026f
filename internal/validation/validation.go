// Package validation checks request shape before it reaches the escrow
// service: body size, path ids, and ledger address syntax.
package validation

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MaxRequestSize bounds request bodies. Escrow requests are a few hundred bytes.
const MaxRequestSize = 64 << 10

// Classic addresses are base58 in the ripple alphabet, which has no 0, O, I or l.
var classicAddress = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{24,34}$`)

// IsValidXRPLAddress reports whether addr has the shape of a classic
// address. It does not verify the checksum; the ledger rejects those.
func IsValidXRPLAddress(addr string) bool {
	return classicAddress.MatchString(addr)
}

// IsValidEscrowID reports whether id is a UUID in canonical lowercase form,
// which is how the registry stores them.
func IsValidEscrowID(id string) bool {
	if len(id) != 36 {
		return false
	}
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}

// RequestSizeMiddleware rejects declared oversize bodies with 413 and caps
// the rest so a lying Content-Length cannot stream more than maxSize.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "request_too_large",
				"message": "Request body is too large",
			})
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		}
		c.Next()
	}
}

// EscrowIDParamMiddleware answers 404 for a malformed :id, the same as for
// an unknown one, so callers cannot probe id formats.
func EscrowIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.Param("id"); id != "" && !IsValidEscrowID(id) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":   "escrow_not_found",
				"message": "Escrow not found",
			})
			return
		}
		c.Next()
	}
}
