package exporter

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	pkerrors "github.com/pulsekit/pulsekit/pkg/errors"
)

// multipartBoundary is fixed so request size is predictable and server
// side parsing can be tested against stable fixtures.
const multipartBoundary = "--boundary-7MA4YWxkTrZu0gW"

// Status classifies a completed export attempt.
type Status int

const (
	// StatusSuccess: the server accepted the batch; delete it.
	StatusSuccess Status = iota

	// StatusRateLimited: 429; keep the batch and retry later.
	StatusRateLimited

	// StatusClientError: other 4xx; the batch will never be accepted.
	StatusClientError

	// StatusServerError: 5xx; keep the batch and retry later.
	StatusServerError

	// StatusUnknown: transport failure; keep the batch and retry later.
	StatusUnknown
)

// String renders the status for logging.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRateLimited:
		return "rate_limited"
	case StatusClientError:
		return "client_error"
	case StatusServerError:
		return "server_error"
	}
	return "unknown"
}

// Retryable reports whether the batch should be kept for a later
// attempt.
func (s Status) Retryable() bool {
	return s == StatusRateLimited || s == StatusServerError || s == StatusUnknown
}

// Part is one section of a multipart request body. Content is read
// lazily while the request streams.
type Part struct {
	FieldName string
	FileName  string
	Content   func() (io.ReadCloser, error)
}

// FieldPart builds a part from an in-memory value.
func FieldPart(fieldName string, value []byte) Part {
	return Part{
		FieldName: fieldName,
		Content: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(value)), nil
		},
	}
}

// FilePart builds a part streamed from disk.
func FilePart(fieldName, fileName string, open func() (io.ReadCloser, error)) Part {
	return Part{FieldName: fieldName, FileName: fileName, Content: open}
}

// HTTPClient sends multipart requests with manual redirect handling:
// only 307 and 308 are followed, preserving method and body, up to a
// configured hop limit.
type HTTPClient struct {
	client       *http.Client
	maxRedirects int
	log          *zap.Logger
}

// NewHTTPClient creates a client with the given timeout and redirect
// budget.
func NewHTTPClient(timeout time.Duration, maxRedirects int, log *zap.Logger) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
			// Redirects are replayed manually so the body can be rebuilt.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxRedirects: maxRedirects,
		log:          log,
	}
}

// SendMultipart PUTs the parts to rawURL and classifies the response.
// The body is built fresh for every redirect hop since streams cannot
// be replayed.
func (c *HTTPClient) SendMultipart(ctx context.Context, method, rawURL string,
	headers map[string]string, parts []Part) (Status, error) {

	target := rawURL
	for hop := 0; ; hop++ {
		status, redirect, err := c.sendOnce(ctx, method, target, headers, parts)
		if err != nil {
			return StatusUnknown, err
		}
		if redirect == "" {
			return status, nil
		}

		if hop+1 > c.maxRedirects {
			return StatusUnknown, pkerrors.New(pkerrors.CodeRedirectLoop, "too many redirects").
				WithContext("url", rawURL).
				WithContext("redirects", hop+1)
		}
		resolved, err := resolveRedirect(target, redirect)
		if err != nil {
			return StatusUnknown, pkerrors.Wrap(err, pkerrors.CodeRedirectLoop, "bad redirect location")
		}
		c.log.Debug("following redirect",
			zap.String("from", target),
			zap.String("to", resolved))
		target = resolved
	}
}

// sendOnce performs a single request. A non-empty redirect return means
// the server answered 307 or 308.
func (c *HTTPClient) sendOnce(ctx context.Context, method, target string,
	headers map[string]string, parts []Part) (Status, string, error) {

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	if err := mw.SetBoundary(multipartBoundary); err != nil {
		pr.Close()
		return StatusUnknown, "", pkerrors.Wrap(err, pkerrors.CodeExportRequest, "failed to set boundary")
	}

	go func() {
		pw.CloseWithError(writeParts(mw, parts))
	}()

	req, err := http.NewRequestWithContext(ctx, method, target, pr)
	if err != nil {
		pr.Close()
		return StatusUnknown, "", pkerrors.Wrap(err, pkerrors.CodeExportRequest, "failed to build request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return StatusUnknown, "", pkerrors.Wrap(err, pkerrors.CodeExportRequest, "request failed").
			WithContext("url", target)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTemporaryRedirect || resp.StatusCode == http.StatusPermanentRedirect {
		return StatusUnknown, resp.Header.Get("Location"), nil
	}
	return classify(resp.StatusCode), "", nil
}

func writeParts(mw *multipart.Writer, parts []Part) error {
	for _, part := range parts {
		var w io.Writer
		var err error
		if part.FileName != "" {
			w, err = mw.CreateFormFile(part.FieldName, part.FileName)
		} else {
			w, err = mw.CreateFormField(part.FieldName)
		}
		if err != nil {
			return err
		}

		rc, err := part.Content()
		if err != nil {
			return err
		}
		_, err = io.Copy(w, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return mw.Close()
}

// classify maps an HTTP status code to an export status.
func classify(code int) Status {
	switch {
	case code >= 200 && code < 300:
		return StatusSuccess
	case code == http.StatusTooManyRequests:
		return StatusRateLimited
	case code >= 400 && code < 500:
		return StatusClientError
	case code >= 500 && code < 600:
		return StatusServerError
	}
	return StatusUnknown
}

func resolveRedirect(current, location string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
