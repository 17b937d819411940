package exporter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/config"
	pkerrors "github.com/pulsekit/pulsekit/pkg/errors"
	"github.com/pulsekit/pulsekit/pkg/storage"
)

// NetworkClient assembles a batch's multipart payload and submits it to
// the ingestion server.
type NetworkClient struct {
	http  *HTTPClient
	store *storage.Store
	files *storage.FileStore
	cfg   *config.Manager
	log   *zap.Logger
}

// NewNetworkClient creates a network client over the shared transport.
func NewNetworkClient(httpClient *HTTPClient, store *storage.Store,
	files *storage.FileStore, cfg *config.Manager, log *zap.Logger) *NetworkClient {
	return &NetworkClient{
		http:  httpClient,
		store: store,
		files: files,
		cfg:   cfg,
		log:   log,
	}
}

// UploadBatch loads the batch's signals from storage and PUTs them to
// /events. The batch id travels as the request id so server-side
// dedupe makes retries idempotent.
func (n *NetworkClient) UploadBatch(ctx context.Context, batch *model.Batch) (Status, error) {
	cfg := n.cfg.Get()
	if cfg.Export.BaseURL == "" {
		return StatusUnknown, pkerrors.New(pkerrors.CodeMissingBaseURL, "export base url not configured")
	}
	if cfg.Export.APIKey == "" {
		return StatusUnknown, pkerrors.New(pkerrors.CodeMissingAPIKey, "export api key not configured")
	}

	parts, err := n.assembleParts(ctx, batch)
	if err != nil {
		return StatusUnknown, err
	}

	headers := map[string]string{
		"msr-req-id":    batch.ID,
		"Authorization": "Bearer " + cfg.Export.APIKey,
	}

	endpoint := strings.TrimRight(cfg.Export.BaseURL, "/") + "/events"
	start := time.Now()
	status, err := n.http.SendMultipart(ctx, http.MethodPut, endpoint, headers, parts)
	if err != nil {
		n.log.Warn("batch upload failed",
			zap.String("batch_id", batch.ID),
			zap.Error(err))
		return StatusUnknown, err
	}

	n.log.Info("batch uploaded",
		zap.String("batch_id", batch.ID),
		zap.String("status", status.String()),
		zap.Duration("elapsed", time.Since(start)))
	return status, nil
}

func (n *NetworkClient) assembleParts(ctx context.Context, batch *model.Batch) ([]Part, error) {
	events, err := n.store.EventPackets(ctx, batch.EventIDs)
	if err != nil {
		return nil, err
	}
	spans, err := n.store.SpanPackets(ctx, batch.SpanIDs)
	if err != nil {
		return nil, err
	}

	var parts []Part
	for _, ev := range events {
		body, err := encodeEventPart(ev, n.files)
		if err != nil {
			return nil, err
		}
		parts = append(parts, FieldPart("event", body))

		atts, err := n.store.AttachmentPackets(ctx, ev.EventID)
		if err != nil {
			return nil, err
		}
		for _, att := range atts {
			parts = append(parts, attachmentPart(att))
		}
	}

	for _, sp := range spans {
		body, err := json.Marshal(sp)
		if err != nil {
			return nil, pkerrors.Wrap(err, pkerrors.CodeExportRequest, "failed to encode span").
				WithContext("span_id", sp.SpanID)
		}
		parts = append(parts, FieldPart("span", body))
	}
	return parts, nil
}

// eventWire is the on-the-wire form of one event part.
type eventWire struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	Timestamp     string          `json:"timestamp"`
	Type          model.EventType `json:"type"`
	UserTriggered bool            `json:"user_triggered"`
	Data          json.RawMessage `json:"data,omitempty"`
	Attributes    json.RawMessage `json:"attributes,omitempty"`
	UserAttrs     json.RawMessage `json:"user_defined_attribute,omitempty"`
	Attachments   json.RawMessage `json:"attachments,omitempty"`
}

func encodeEventPart(ev *model.EventPacket, files *storage.FileStore) ([]byte, error) {
	data := []byte(ev.SerializedData)
	if ev.SerializedDataFilePath != "" {
		spilled, err := files.Read(ev.SerializedDataFilePath)
		if err != nil {
			return nil, err
		}
		data = spilled
	}

	wire := eventWire{
		ID:            ev.EventID,
		SessionID:     ev.SessionID,
		Timestamp:     ev.Timestamp,
		Type:          ev.Type,
		UserTriggered: ev.UserTriggered,
		Data:          rawOrNil(data),
		Attributes:    rawOrNil([]byte(ev.SerializedAttributes)),
		UserAttrs:     rawOrNil([]byte(ev.SerializedUserAttrs)),
		Attachments:   rawOrNil([]byte(ev.SerializedAttachments)),
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeExportRequest, "failed to encode event").
			WithContext("event_id", ev.EventID)
	}
	return body, nil
}

func rawOrNil(data []byte) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	return json.RawMessage(data)
}

// attachmentPart streams one attachment blob under the field name
// blob-<attachment id>.
func attachmentPart(att *model.AttachmentPacket) Part {
	path := att.FilePath
	return FilePart("blob-"+att.ID, att.Name, func() (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, pkerrors.Wrap(err, pkerrors.CodeExportRequest, "failed to open attachment").
				WithContext("path", path)
		}
		return f, nil
	})
}
