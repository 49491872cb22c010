package openai

import (
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/constants"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/dispatch"
	apperrors "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/errors"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/handlers/common"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
)

var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.limit()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			common.AbortWithAPIError(c, apperrors.New(http.StatusRequestEntityTooLarge,
				"request_too_large", "invalid_request_error", "Request body is too large"))
			return
		}
		common.AbortWithAPIError(c, apperrors.BadRequest("Failed to read request body"))
		return
	}

	out, apiErr := h.disp.Dispatch(c.Request.Context(), body, c.Request.Header)
	if apiErr != nil {
		common.AbortWithAPIError(c, apiErr)
		return
	}
	c.Set(logging.CtxCredentialID, out.CredentialID)
	c.Set(logging.CtxUpstreamModel, out.Model)
	c.Set(logging.CtxAttempts, out.Attempts)
	relay(c, out)
}

func (h *Handler) limit() int64 {
	if h.maxBody > 0 {
		return h.maxBody
	}
	return constants.DefaultMaxRequestBody
}

// relay copies the upstream answer to the client, flushing after every
// chunk so event streams are not held back.
func relay(c *gin.Context, out *dispatch.Outcome) {
	defer out.Close()

	dst := c.Writer.Header()
	for k, vs := range out.Header {
		if hopByHopHeaders[k] {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	c.Status(out.StatusCode)
	c.Writer.WriteHeaderNow()

	fl, _ := c.Writer.(http.Flusher)
	buf := make([]byte, constants.StreamCopyBufferSize)
	for {
		n, err := out.Body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				logging.WithReq(c, log.Fields{"error": werr}).Debug("client went away during relay")
				return
			}
			if fl != nil {
				fl.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				logging.WithReq(c, log.Fields{"error": err}).Warn("upstream stream ended with error")
			}
			return
		}
	}
}
