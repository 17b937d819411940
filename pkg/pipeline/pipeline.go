// Package pipeline is the capture path: it enriches signals, binds them
// to the session, and hands them to durable storage. Nothing here ever
// panics past the boundary; a capture failure costs one signal.
package pipeline

import (
	"context"
	"encoding/json"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/executor"
	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/attribute"
	"github.com/pulsekit/pulsekit/pkg/config"
	pkerrors "github.com/pulsekit/pulsekit/pkg/errors"
	"github.com/pulsekit/pulsekit/pkg/exporter"
	"github.com/pulsekit/pulsekit/pkg/session"
	"github.com/pulsekit/pulsekit/pkg/storage"
	"github.com/pulsekit/pulsekit/pkg/util"
)

// SignalProcessor accepts raw signals from collectors and the public
// API, enriches them, and persists them off the caller's goroutine.
type SignalProcessor struct {
	store    *storage.Store
	files    *storage.FileStore
	sessions *session.Manager
	attrs    *attribute.Processor
	cfg      *config.Manager
	time     util.TimeProvider
	ids      util.IdProvider
	exec     *executor.Executor
	crash    *exporter.ExceptionExporter
	log      *zap.Logger
}

// NewSignalProcessor wires the capture path.
func NewSignalProcessor(store *storage.Store, files *storage.FileStore,
	sessions *session.Manager, attrs *attribute.Processor, cfg *config.Manager,
	timeProvider util.TimeProvider, ids util.IdProvider, exec *executor.Executor,
	crash *exporter.ExceptionExporter, log *zap.Logger) *SignalProcessor {
	return &SignalProcessor{
		store:    store,
		files:    files,
		sessions: sessions,
		attrs:    attrs,
		cfg:      cfg,
		time:     timeProvider,
		ids:      ids,
		exec:     exec,
		crash:    crash,
		log:      log,
	}
}

// TrackOptions carries the optional parts of a capture call.
type TrackOptions struct {
	UserTriggered bool
	ThreadName    string
	Attachments   []model.Attachment
	UserAttrs     map[string]model.AttributeValue
	// TimestampMillis overrides capture time when the signal was
	// observed earlier than it was tracked (collectors buffering).
	TimestampMillis int64
}

// Track captures one event. Enrichment and timestamping happen on the
// caller's goroutine so the context is accurate; persistence happens on
// the storage executor. Validation errors are returned synchronously.
func (p *SignalProcessor) Track(ctx context.Context, eventType model.EventType,
	data interface{}, opts TrackOptions) error {

	if err := p.validateUserAttrs(opts.UserAttrs); err != nil {
		return err
	}

	ev, err := p.buildEvent(ctx, eventType, data, opts)
	if err != nil {
		return err
	}

	if ok := p.exec.Submit(func(taskCtx context.Context) error {
		return p.persist(taskCtx, ev)
	}); !ok {
		return pkerrors.New(pkerrors.CodeInvalidSignal, "capture queue full, event dropped").
			WithContext("type", string(eventType))
	}
	return nil
}

// TrackCrash captures an exception event and exports the session
// synchronously. It returns only after the crash batch has been
// persisted and an upload attempt has finished, because the process is
// expected to die immediately after.
func (p *SignalProcessor) TrackCrash(ctx context.Context, data interface{}, opts TrackOptions) error {
	opts.UserTriggered = false
	ev, err := p.buildEvent(ctx, model.EventTypeException, data, opts)
	if err != nil {
		return err
	}

	// Persist through the executor so earlier queued events land first.
	if err := p.exec.SubmitWait(func(taskCtx context.Context) error {
		return p.persist(taskCtx, ev)
	}); err != nil {
		return err
	}

	if err := p.sessions.MarkCrashed(ctx); err != nil {
		p.log.Warn("failed to mark session crashed", zap.Error(err))
	}

	// The upload also runs on the executor so it cannot interleave with
	// captures still in the queue; the call blocks until it finishes.
	return p.exec.SubmitWait(func(taskCtx context.Context) error {
		p.crash.Export(taskCtx, ev.SessionID)
		return nil
	})
}

// OnSpanEnded implements tracing.SpanSink; ended spans persist through
// the same executor as events.
func (p *SignalProcessor) OnSpanEnded(data *model.SpanData) {
	if data.Attributes == nil {
		data.Attributes = make(map[string]model.AttributeValue)
	}
	p.attrs.AppendAttributes(data.Attributes)

	span := *data
	if ok := p.exec.Submit(func(taskCtx context.Context) error {
		if err := p.store.PutSpan(taskCtx, &span); err != nil {
			return err
		}
		p.sessions.OnEvent(span.EndTime)
		return nil
	}); !ok {
		p.log.Warn("capture queue full, span dropped", zap.String("span", data.Name))
	}
}

func (p *SignalProcessor) buildEvent(ctx context.Context, eventType model.EventType,
	data interface{}, opts TrackOptions) (*model.Event, error) {

	sessionID, err := p.sessions.SessionID(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeInvalidSignal, "failed to encode event payload").
			WithContext("type", string(eventType))
	}

	now := opts.TimestampMillis
	if now == 0 {
		now = p.time.Now()
	}

	attrs := make(map[string]model.AttributeValue)
	p.attrs.AppendAttributes(attrs)

	attachments := opts.Attachments
	for i := range attachments {
		if attachments[i].ID == "" {
			attachments[i].ID = p.ids.UUID()
		}
	}

	return &model.Event{
		ID:                    p.ids.UUID(),
		SessionID:             sessionID,
		Type:                  eventType,
		Timestamp:             p.time.ISO8601(now),
		TimestampMillis:       now,
		UserTriggered:         opts.UserTriggered,
		Data:                  payload,
		Attachments:           attachments,
		Attributes:            attrs,
		UserDefinedAttributes: opts.UserAttrs,
		ThreadName:            opts.ThreadName,
		Sampled:               true,
	}, nil
}

// persist spills oversized payloads and attachment bytes to the file
// store, then writes the event row.
func (p *SignalProcessor) persist(ctx context.Context, ev *model.Event) error {
	dataFilePath := ""
	if len(ev.Data) > p.cfg.Get().Ingest.MaxInlinePayloadBytes {
		path, err := p.files.WritePayload(ev.ID, ev.Data)
		if err != nil {
			return err
		}
		dataFilePath = path
	}

	for i := range ev.Attachments {
		att := &ev.Attachments[i]
		if len(att.Bytes) > 0 && att.Path == "" {
			path, err := p.files.WriteAttachment(att.ID, att.Bytes)
			if err != nil {
				return err
			}
			att.Path = path
			att.Bytes = nil
		}
	}

	if err := p.store.PutEvent(ctx, ev, dataFilePath); err != nil {
		return err
	}
	p.sessions.OnEvent(ev.TimestampMillis)
	return nil
}

// validateUserAttrs enforces the caller-supplied attribute limits.
func (p *SignalProcessor) validateUserAttrs(attrs map[string]model.AttributeValue) error {
	if len(attrs) == 0 {
		return nil
	}
	cfg := p.cfg.Get()

	if len(attrs) > cfg.Ingest.MaxUserDefinedAttrsPerEvent {
		return pkerrors.New(pkerrors.CodeInvalidAttribute, "too many user attributes").
			WithContext("count", len(attrs)).
			WithContext("max", cfg.Ingest.MaxUserDefinedAttrsPerEvent)
	}
	for k, v := range attrs {
		if k == "" || !utf8.ValidString(k) {
			return pkerrors.InvalidAttribute(k, "key must be non-empty valid UTF-8")
		}
		if len(k) > cfg.Ingest.MaxUserDefinedAttrKeyLen {
			return pkerrors.InvalidAttribute(k, "key too long")
		}
		if v.Kind() == model.AttrString && len(v.StringValue()) > cfg.Ingest.MaxUserDefinedAttrValueLen {
			return pkerrors.InvalidAttribute(k, "string value too long")
		}
	}
	return nil
}
