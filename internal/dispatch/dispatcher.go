package dispatch

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/constants"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/credential"
	apperrors "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/errors"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring/tracing"
)

// Credentials is the slice of the credential pool the loop drives.
type Credentials interface {
	SelectNext(now time.Time) (credential.Selection, error)
	ApplyCooldown(id, retryAfter string, now time.Time) time.Time
	Invalidate(id string)
	MinCooldown(now time.Time) (time.Duration, bool)
}

// Models is the slice of the model pool the loop drives.
type Models interface {
	SelectNext() (string, error)
	RemoveModel(ctx context.Context, name, reason string) error
}

// Forwarder sends one chat completion attempt upstream.
type Forwarder interface {
	ChatCompletions(ctx context.Context, secret string, body []byte, clientHeaders http.Header) (*http.Response, error)
}

// Options tunes the loop.
type Options struct {
	// Timeout bounds each attempt until response headers arrive.
	Timeout       time.Duration
	ModelAttempts int
	Now           func() time.Time
}

// Dispatcher runs the credential/model selection and failure transitions
// for one inbound chat completion.
type Dispatcher struct {
	creds    Credentials
	models   Models
	upstream Forwarder
	timeout  atomic.Int64
	attempts atomic.Int32
	now      func() time.Time
}

// New builds a dispatcher.
func New(creds Credentials, models Models, upstream Forwarder, opts Options) *Dispatcher {
	d := &Dispatcher{
		creds:    creds,
		models:   models,
		upstream: upstream,
		now:      opts.Now,
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.Tune(opts.Timeout, opts.ModelAttempts)
	return d
}

// Tune swaps the header timeout and model attempt budget for requests that
// start after the call. attempts <= 0 means 3.
func (d *Dispatcher) Tune(timeout time.Duration, attempts int) {
	if attempts <= 0 {
		attempts = 3
	}
	d.timeout.Store(int64(timeout))
	d.attempts.Store(int32(attempts))
}

// Outcome is the upstream answer handed back to the route layer. Body must
// be closed by the caller.
type Outcome struct {
	StatusCode   int
	Header       http.Header
	Body         io.ReadCloser
	Model        string
	CredentialID string
	Attempts     int
	// Buffered is set when Body replays an already-read upstream body.
	Buffered bool
}

// Close releases the upstream body and the attempt context.
func (o *Outcome) Close() error {
	if o == nil || o.Body == nil {
		return nil
	}
	return o.Body.Close()
}

// Dispatch forwards body upstream. A non-nil APIError means no upstream
// response is relayed and the caller should write the error envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte, clientHeaders http.Header) (*Outcome, *apperrors.APIError) {
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return nil, apperrors.BadRequest("Request body must be a JSON object")
	}

	ctx, span := tracing.StartSpan(ctx, "dispatch", "dispatch.chat_completion")
	defer span.End()

	now := d.now()
	sel, err := d.creds.SelectNext(now)
	if err != nil {
		apiErr := d.exhaustedCredentials(now, err)
		span.SetStatus(codes.Error, apiErr.Code)
		return nil, apiErr
	}
	span.SetAttributes(attribute.String("credential.id", sel.ID))
	entry := logging.Component("dispatch").WithField("credential_id", sel.ID)

	attempts := int(d.attempts.Load())
	var last *Outcome
	for attempt := 1; attempt <= attempts; attempt++ {
		model, err := d.models.SelectNext()
		if err != nil {
			monitoring.DispatchOutcomes.WithLabelValues("no_model").Inc()
			span.SetStatus(codes.Error, "no_model")
			entry.WithField("attempt", attempt).Warn("model pool is empty")
			return nil, apperrors.NoModel()
		}

		payload, err := sjson.SetBytes(body, "model", model)
		if err != nil {
			return nil, apperrors.BadRequest("Request body could not be rewritten")
		}

		resp, release, err := d.forward(ctx, sel.Secret, payload, clientHeaders)
		if err != nil {
			apiErr := apperrors.MapNetworkError(err)
			outcome := "transport_error"
			if apiErr.HTTPStatus == http.StatusGatewayTimeout {
				outcome = "timeout"
			}
			monitoring.DispatchOutcomes.WithLabelValues(outcome).Inc()
			monitoring.UpstreamModelRequests.WithLabelValues(model, "error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			entry.WithError(err).WithFields(log.Fields{"model": model, "attempt": attempt}).Warn("upstream transport failure")
			return nil, apiErr
		}
		monitoring.UpstreamModelRequests.WithLabelValues(model, monitoring.StatusClass(resp.StatusCode)).Inc()
		span.SetAttributes(attribute.String("upstream.model", model), attribute.Int("upstream.status", resp.StatusCode))

		out := &Outcome{
			StatusCode:   resp.StatusCode,
			Header:       resp.Header.Clone(),
			Body:         &releasingBody{ReadCloser: resp.Body, release: release},
			Model:        model,
			CredentialID: sel.ID,
			Attempts:     attempt,
		}

		switch code := resp.StatusCode; {
		case code == http.StatusNotFound:
			raw, readErr := readCapped(out.Body)
			out.Body.Close()
			out.Body = io.NopCloser(bytes.NewReader(raw))
			out.Buffered = true
			stripLengthHeaders(out.Header)
			if readErr != nil || !IsModelNotFound(raw) {
				monitoring.DispatchOutcomes.WithLabelValues("passthrough").Inc()
				return out, nil
			}
			entry.WithFields(log.Fields{"model": model, "attempt": attempt}).Warn("upstream reports model not found")
			if err := d.models.RemoveModel(ctx, model, "upstream 404 model_not_found"); err != nil {
				monitoring.DispatchOutcomes.WithLabelValues("internal_error").Inc()
				span.SetStatus(codes.Error, "model_eviction_failed")
				return nil, apperrors.Internal("")
			}
			last = out
			continue
		case code == http.StatusTooManyRequests:
			until := d.creds.ApplyCooldown(sel.ID, resp.Header.Get("Retry-After"), d.now())
			entry.WithFields(log.Fields{"model": model, "until": until}).Info("upstream rate limited credential")
			monitoring.DispatchOutcomes.WithLabelValues("rate_limited").Inc()
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			d.creds.Invalidate(sel.ID)
			entry.WithFields(log.Fields{"model": model, "status": code}).Warn("upstream rejected credential")
			monitoring.DispatchOutcomes.WithLabelValues("invalidated").Inc()
		case code >= 200 && code < 300:
			monitoring.DispatchOutcomes.WithLabelValues("success").Inc()
		default:
			monitoring.DispatchOutcomes.WithLabelValues("passthrough").Inc()
		}
		return out, nil
	}

	monitoring.DispatchOutcomes.WithLabelValues("models_exhausted").Inc()
	span.SetStatus(codes.Error, "models_exhausted")
	entry.WithField("attempts", attempts).Warn("model attempts exhausted")
	return last, nil
}

func (d *Dispatcher) exhaustedCredentials(now time.Time, err error) *apperrors.APIError {
	if stderrors.Is(err, credential.ErrNoneAvailable) {
		wait, _ := d.creds.MinCooldown(now)
		monitoring.DispatchOutcomes.WithLabelValues("cooling_down").Inc()
		return apperrors.CredentialsCoolingDown(credential.RetryAfterSeconds(wait))
	}
	monitoring.DispatchOutcomes.WithLabelValues("no_credentials").Inc()
	logging.Component("dispatch").WithError(err).Warn("no usable credential")
	return apperrors.NoCredentials()
}

// forward runs one attempt. The timer only covers the wait for response
// headers; once they arrive the body streams under the caller's context.
func (d *Dispatcher) forward(ctx context.Context, secret string, body []byte, headers http.Header) (*http.Response, context.CancelFunc, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	var timer *time.Timer
	if timeout := time.Duration(d.timeout.Load()); timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			timedOut.Store(true)
			cancel()
		})
	}

	resp, err := d.upstream.ChatCompletions(attemptCtx, secret, body, headers)
	if timer != nil && !timer.Stop() && err == nil && timedOut.Load() {
		resp.Body.Close()
		err = context.DeadlineExceeded
	}
	if err != nil {
		cancel()
		if timedOut.Load() {
			return nil, nil, context.DeadlineExceeded
		}
		return nil, nil, err
	}
	return resp, cancel, nil
}

type releasingBody struct {
	io.ReadCloser
	release context.CancelFunc
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	if b.release != nil {
		b.release()
	}
	return err
}

func readCapped(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, constants.MaxBufferedErrorBody))
}

func stripLengthHeaders(h http.Header) {
	h.Del("Content-Length")
	h.Del("Content-Encoding")
}
