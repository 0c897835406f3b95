// Package adapters runs a kernel's middleware inside gin, echo and fiber applications.
//
// Each adapter resolves the chain for the incoming request and runs it with the host
// framework's own handler chain as the final step. When the chain halts or raises an
// error, the host handlers are skipped; errors are written by the kernel's error filter.
package adapters

import (
	"net/http"

	"github.com/Suhaibinator/SKernel/pkg/kernel"
	"github.com/gin-gonic/gin"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/labstack/echo/v4"
)

// Gin returns a gin middleware running k. Gin handlers write through the chain's
// writer, so middleware that wraps the writer sees their response.
func Gin(k *kernel.Kernel) gin.HandlerFunc {
	return func(c *gin.Context) {
		reached := false
		original := c.Writer
		_ = k.Serve(c.Writer, c.Request, func(w http.ResponseWriter, r *http.Request) error {
			reached = true
			gw := &ginWriter{ResponseWriter: original, w: w, status: http.StatusOK, size: noWritten}
			c.Request = r
			c.Writer = gw
			c.Next()
			gw.WriteHeaderNow()
			return nil
		})
		c.Writer = original
		if !reached {
			c.Abort()
		}
	}
}

// Echo returns an echo middleware running k. Errors returned by echo handlers
// propagate to echo's HTTP error handler, not to the kernel's error filter.
func Echo(k *kernel.Kernel) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var handlerErr error
			resp := c.Response()
			original := resp.Writer
			_ = k.Serve(original, c.Request(), func(w http.ResponseWriter, r *http.Request) error {
				c.SetRequest(r)
				resp.Writer = w
				defer func() { resp.Writer = original }()
				handlerErr = next(c)
				return nil
			})
			return handlerErr
		}
	}
}

// Fiber returns a fiber handler running k through fiber's net/http adaptor.
// Headers and context values set before the chain continues are copied to the
// fiber context. Fiber handlers run after the chain has returned, so middleware
// cannot observe their response.
func Fiber(k *kernel.Kernel) fiber.Handler {
	return adaptor.HTTPMiddleware(k.Wrap)
}

const noWritten = -1

// ginWriter is a gin.ResponseWriter that sends the response through the chain's writer.
// Like gin's own writer it defers the status line until the first write.
type ginWriter struct {
	// Hijack, CloseNotify and Pusher go to gin's writer.
	gin.ResponseWriter
	w      http.ResponseWriter
	status int
	size   int
}

func (g *ginWriter) Header() http.Header {
	return g.w.Header()
}

func (g *ginWriter) WriteHeader(code int) {
	if code > 0 && !g.Written() {
		g.status = code
	}
}

func (g *ginWriter) WriteHeaderNow() {
	if !g.Written() {
		g.size = 0
		g.w.WriteHeader(g.status)
	}
}

func (g *ginWriter) Write(b []byte) (int, error) {
	g.WriteHeaderNow()
	n, err := g.w.Write(b)
	g.size += n
	return n, err
}

func (g *ginWriter) WriteString(s string) (int, error) {
	return g.Write([]byte(s))
}

func (g *ginWriter) Status() int {
	return g.status
}

func (g *ginWriter) Size() int {
	return g.size
}

func (g *ginWriter) Written() bool {
	return g.size != noWritten
}

func (g *ginWriter) Flush() {
	g.WriteHeaderNow()
	_ = http.NewResponseController(g.w).Flush()
}

// Unwrap returns the chain's writer for http.ResponseController.
func (g *ginWriter) Unwrap() http.ResponseWriter {
	return g.w
}
