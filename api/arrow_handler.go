package api

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/VanDung-dev/spearman-engine/cache"
	"github.com/VanDung-dev/spearman-engine/logging"
	"github.com/VanDung-dev/spearman-engine/spearman"
)

// ArrowHandler handles processing of Arrow IPC correlation requests.
type ArrowHandler struct {
	calc        *spearman.Calculator
	codec       *Codec
	cache       *cache.ResultCache
	defaultMode spearman.Mode
	metrics     *Metrics
	logger      *logging.Logger
}

// HandlerOption configures an ArrowHandler.
type HandlerOption func(*ArrowHandler)

// WithCache answers repeated requests from c.
func WithCache(c *cache.ResultCache) HandlerOption {
	return func(h *ArrowHandler) { h.cache = c }
}

// WithDefaultMode sets the mode used when a request does not name one.
func WithDefaultMode(m spearman.Mode) HandlerOption {
	return func(h *ArrowHandler) { h.defaultMode = m }
}

// WithHandlerMetrics records request metrics on m.
func WithHandlerMetrics(m *Metrics) HandlerOption {
	return func(h *ArrowHandler) { h.metrics = m }
}

// WithHandlerLogger sets the handler's logger.
func WithHandlerLogger(l *logging.Logger) HandlerOption {
	return func(h *ArrowHandler) { h.logger = logging.OrNoop(l) }
}

// WithCodec sets the codec used for responses (for example to compress them).
func WithCodec(c *Codec) HandlerOption {
	return func(h *ArrowHandler) {
		if c != nil {
			h.codec = c
		}
	}
}

// NewArrowHandler creates a new ArrowHandler computing with calc.
func NewArrowHandler(calc *spearman.Calculator, opts ...HandlerOption) *ArrowHandler {
	if calc == nil {
		calc = spearman.NewCalculator()
	}
	codec, _ := NewCodec("none")
	h := &ArrowHandler{
		calc:        calc,
		codec:       codec,
		defaultMode: spearman.Everything,
		logger:      logging.NoopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ProcessBatch parses the input bytes as an Arrow IPC correlation request,
// computes the matrix and returns it as an IPC stream.
func (h *ArrowHandler) ProcessBatch(ctx context.Context, payload []byte) ([]byte, error) {
	body, _, err := h.process(ctx, payload)
	return body, err
}

// Serve answers one request on behalf of a transport. The returned bytes are
// a complete response: a status byte followed by the matrix or the error text.
func (h *ArrowHandler) Serve(ctx context.Context, transport string, payload []byte) []byte {
	start := time.Now()
	body, cached, err := h.process(ctx, payload)

	h.logger.WithRequestID(uuid.NewString()).LogRequest(ctx, transport, len(payload), cached, err)
	if h.metrics != nil {
		h.metrics.RecordRequest(transport, len(payload), time.Since(start), err)
	}

	if err != nil {
		return ErrorResponse(err)
	}
	return EncodeResponse(StatusOK, body)
}

func (h *ArrowHandler) process(ctx context.Context, payload []byte) ([]byte, bool, error) {
	if h.cache != nil {
		body, ok := h.cache.Get(payload)
		if h.metrics != nil {
			h.metrics.RecordCache(ok)
		}
		if ok {
			return body, true, nil
		}
	}

	x, y, name, err := h.codec.DecodeRequest(payload)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode request: %w", err)
	}

	mode := h.defaultMode
	if name != "" {
		if mode, err = spearman.ParseMode(name); err != nil {
			return nil, false, err
		}
	}

	m, err := h.calc.Compute(ctx, x, y, mode)
	if err != nil {
		return nil, false, err
	}

	body, err := h.codec.EncodeMatrix(m)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode matrix: %w", err)
	}
	if h.cache != nil {
		h.cache.Put(payload, body)
	}
	return body, false, nil
}
