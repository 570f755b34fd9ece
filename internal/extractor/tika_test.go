package extractor

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"diario/internal/monitoring"
)

func testMonitor() *monitoring.Monitor {
	return monitoring.NewMonitor(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func writePDF(t *testing.T) string {
	t.Helper()
	return writeFile(t, "doc.pdf", []byte("%PDF-1.4\n1 0 obj\n<< >>\nendobj\ntrailer\n%%EOF\n"))
}

func writeZip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("inner.txt")
	if err != nil {
		t.Fatalf("zip entry: %v", err)
	}
	w.Write([]byte("dentro"))
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	f.Close()
	return path
}

func TestExtractTextPlainShortCircuit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("tika server should not be called for text/plain files")
	}))
	defer server.Close()

	path := writeFile(t, "doc.txt", []byte("conteúdo em texto puro"))
	ext := NewTikaExtractor(server.URL, testMonitor())
	text, err := ext.ExtractText(context.Background(), path)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "conteúdo em texto puro" {
		t.Errorf("text = %q", text)
	}
}

func TestExtractTextRejectsZip(t *testing.T) {
	ext := NewTikaExtractor("http://localhost:9998", testMonitor())
	_, err := ext.ExtractText(context.Background(), writeZip(t))
	if !errors.Is(err, ErrUnsupportedFileType) {
		t.Fatalf("err = %v, want ErrUnsupportedFileType", err)
	}
}

func TestExtractTextRejectsUnknownType(t *testing.T) {
	// PNG magic bytes
	path := writeFile(t, "img.png", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0})
	ext := NewTikaExtractor("http://localhost:9998", testMonitor())
	_, err := ext.ExtractText(context.Background(), path)
	if !errors.Is(err, ErrUnsupportedFileType) {
		t.Fatalf("err = %v, want ErrUnsupportedFileType", err)
	}
}

func TestExtractTextMissingFile(t *testing.T) {
	ext := NewTikaExtractor("http://localhost:9998", testMonitor())
	if _, err := ext.ExtractText(context.Background(), filepath.Join(t.TempDir(), "nope.pdf")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestExtractTextSendsFileToTika(t *testing.T) {
	var gotMethod, gotPath, gotContentType, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")
		io.Copy(io.Discard, r.Body)
		w.Write([]byte("texto extraído"))
	}))
	defer server.Close()

	ext := NewTikaExtractor(server.URL, testMonitor())
	text, err := ext.ExtractText(context.Background(), writePDF(t))
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "texto extraído" {
		t.Errorf("text = %q", text)
	}
	if gotMethod != http.MethodPut || gotPath != "/tika" {
		t.Errorf("request was %s %s, want PUT /tika", gotMethod, gotPath)
	}
	if gotContentType != "application/pdf" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotAccept != "text/plain" {
		t.Errorf("Accept = %q", gotAccept)
	}
}

func TestExtractTextRetriesTransientFailures(t *testing.T) {
	if testing.Short() {
		t.Skip("waits through retry backoff")
	}
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		if attempts.Add(1) <= 2 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	ext := NewTikaExtractor(server.URL, testMonitor())
	start := time.Now()
	text, err := ext.ExtractText(context.Background(), writePDF(t))
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "ok" {
		t.Errorf("text = %q", text)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("made %d attempts, want 3", got)
	}
	// Backoff before the second and third attempts: 1s + 2s.
	if elapsed < 3*time.Second {
		t.Errorf("elapsed %v, want at least 3s of backoff", elapsed)
	}
}

func TestExtractTextDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		io.Copy(io.Discard, r.Body)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	ext := NewTikaExtractor(server.URL, testMonitor())
	if _, err := ext.ExtractText(context.Background(), writePDF(t)); err == nil {
		t.Fatal("expected an error on a 400 response")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("made %d attempts, want 1", got)
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"pdf", writePDF(t), "application/pdf"},
		{"plain text", writeFile(t, "a.txt", []byte("apenas texto")), "text/plain"},
		{"zip", writeZip(t), "application/zip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectContentType(tt.path)
			if err != nil {
				t.Fatalf("DetectContentType: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"http 503", &httpStatusError{status: 503}, true},
		{"http 500", &httpStatusError{status: 500}, true},
		{"http 429", &httpStatusError{status: 429}, true},
		{"http 400", &httpStatusError{status: 400}, false},
		{"http 404", &httpStatusError{status: 404}, false},
		{"unsupported type", ErrUnsupportedFileType, false},
		{"missing file", os.ErrNotExist, false},
		{"url error", &url.Error{Op: "Put", URL: "http://x", Err: errors.New("connection refused")}, true},
		{"timeout", &net.DNSError{IsTimeout: true}, true},
		{"premature close", io.ErrUnexpectedEOF, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransient(tt.err); got != tt.want {
				t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
