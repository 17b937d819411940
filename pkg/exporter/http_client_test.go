package exporter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	pkerrors "github.com/pulsekit/pulsekit/pkg/errors"
)

func testClient() *HTTPClient {
	return NewHTTPClient(5*time.Second, 5, zap.NewNop())
}

func TestMultipartBodyFormat(t *testing.T) {
	var gotContentType string
	var fields map[string][]string
	var fileNames map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fields = r.MultipartForm.Value
		fileNames = map[string]string{}
		for name, headers := range r.MultipartForm.File {
			if len(headers) > 0 {
				fileNames[name] = headers[0].Filename
			}
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	parts := []Part{
		FieldPart("event", []byte(`{"id":"ev-1"}`)),
		FieldPart("event", []byte(`{"id":"ev-2"}`)),
		FilePart("blob-att-1", "screenshot.png", func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("pngbytes")), nil
		}),
	}

	status, err := testClient().SendMultipart(context.Background(),
		http.MethodPut, srv.URL+"/events", map[string]string{"msr-req-id": "batch-1"}, parts)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusSuccess {
		t.Errorf("status = %v, want success", status)
	}

	if !strings.Contains(gotContentType, multipartBoundary) {
		t.Errorf("boundary missing from content type: %q", gotContentType)
	}
	if got := fields["event"]; len(got) != 2 || got[0] != `{"id":"ev-1"}` {
		t.Errorf("event fields = %v", got)
	}
	if fileNames["blob-att-1"] != "screenshot.png" {
		t.Errorf("file names = %v", fileNames)
	}
}

func TestResponseClassification(t *testing.T) {
	tests := []struct {
		code int
		want Status
	}{
		{200, StatusSuccess},
		{202, StatusSuccess},
		{400, StatusClientError},
		{401, StatusClientError},
		{413, StatusClientError},
		{429, StatusRateLimited},
		{500, StatusServerError},
		{503, StatusServerError},
	}

	for _, tt := range tests {
		code := tt.code
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		status, err := testClient().SendMultipart(context.Background(),
			http.MethodPut, srv.URL, nil, []Part{FieldPart("event", []byte("{}"))})
		srv.Close()
		if err != nil {
			t.Fatalf("code %d: %v", code, err)
		}
		if status != tt.want {
			t.Errorf("code %d classified %v, want %v", code, status, tt.want)
		}
	}
}

func TestFollowsTemporaryRedirectPreservingMethodAndBody(t *testing.T) {
	var finalMethod, finalBody string

	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		finalMethod = r.Method
		r.ParseMultipartForm(1 << 20)
		if vals := r.MultipartForm.Value["event"]; len(vals) > 0 {
			finalBody = vals[0]
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer final.Close()

	redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusTemporaryRedirect)
	}))
	defer redirecting.Close()

	status, err := testClient().SendMultipart(context.Background(),
		http.MethodPut, redirecting.URL, nil, []Part{FieldPart("event", []byte(`{"id":"ev-1"}`))})
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusSuccess {
		t.Errorf("status = %v", status)
	}
	if finalMethod != http.MethodPut {
		t.Errorf("redirected method = %s, want PUT", finalMethod)
	}
	if finalBody != `{"id":"ev-1"}` {
		t.Errorf("redirected body = %q", finalBody)
	}
}

func TestDoesNotFollowOtherRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 302 must be treated as a plain response, not followed.
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	status, err := testClient().SendMultipart(context.Background(),
		http.MethodPut, srv.URL, nil, []Part{FieldPart("event", []byte("{}"))})
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusUnknown {
		t.Errorf("302 classified %v, want unknown (3xx is unexpected)", status)
	}
}

func TestRedirectLoopAborts(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL, http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	_, err := testClient().SendMultipart(context.Background(),
		http.MethodPut, srv.URL, nil, []Part{FieldPart("event", []byte("{}"))})
	if !pkerrors.IsCode(err, pkerrors.CodeRedirectLoop) {
		t.Errorf("expected redirect loop error, got %v", err)
	}
}

func TestTransportFailureIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	status, err := testClient().SendMultipart(context.Background(),
		http.MethodPut, srv.URL, nil, []Part{FieldPart("event", []byte("{}"))})
	if err == nil {
		t.Fatal("expected a transport error")
	}
	if status != StatusUnknown {
		t.Errorf("status = %v, want unknown", status)
	}
}
