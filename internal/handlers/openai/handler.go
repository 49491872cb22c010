package openai

import (
	"context"
	"net/http"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/dispatch"
	apperrors "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/errors"
)

// Dispatcher runs one chat completion through the pools.
type Dispatcher interface {
	Dispatch(ctx context.Context, body []byte, clientHeaders http.Header) (*dispatch.Outcome, *apperrors.APIError)
}

// Handler serves the OpenAI-compatible public routes.
type Handler struct {
	disp        Dispatcher
	publicModel func() string
	maxBody     int64
}

// New builds the handler. publicModel is read per request so config
// reloads apply without a restart.
func New(disp Dispatcher, publicModel func() string, maxBody int64) *Handler {
	return &Handler{disp: disp, publicModel: publicModel, maxBody: maxBody}
}
