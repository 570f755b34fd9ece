// Package extractor turns gazette binaries into plain text through an Apache
// Tika server.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"diario/internal/monitoring"
)

// ErrUnsupportedFileType reports that the sniffed MIME type cannot be
// extracted. ZIP archives are rejected through it as well: the caller skips
// the gazette without retrying.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// supportedTypes are the MIME types the Tika server accepts from us.
var supportedTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.oasis.opendocument.text":                                 true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain": true,
}

const (
	maxRetries     = 3
	connectTimeout = 30 * time.Second
	readTimeout    = 300 * time.Second
)

// TikaExtractor extracts text by streaming files to a Tika server over HTTP.
type TikaExtractor struct {
	serverURL string
	client    *http.Client
	monitor   *monitoring.Monitor
}

// NewTikaExtractor builds an extractor against the given Tika server URL.
func NewTikaExtractor(serverURL string, monitor *monitoring.Monitor) *TikaExtractor {
	return &TikaExtractor{
		serverURL: strings.TrimRight(serverURL, "/"),
		client: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
			},
		},
		monitor: monitor,
	}
}

// DetectContentType sniffs the MIME type of the file at path by content.
func DetectContentType(path string) (string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to detect content type of %s: %w", path, err)
	}
	// mimetype appends parameters like "; charset=utf-8" on text types.
	return strings.TrimSpace(strings.SplitN(mtype.String(), ";", 2)[0]), nil
}

// ExtractText returns the UTF-8 plain text of the file at path.
//
// text/plain files are read directly; ZIP archives and any other unsupported
// type surface ErrUnsupportedFileType. Everything else goes to the Tika
// server with up to three retries and exponential backoff on transient
// failures.
func (t *TikaExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("file does not exist: %s: %w", path, err)
	}

	contentType, err := DetectContentType(path)
	if err != nil {
		return "", err
	}
	if contentType == "application/zip" {
		return "", fmt.Errorf("%w: application/zip", ErrUnsupportedFileType)
	}
	if !supportedTypes[contentType] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, contentType)
	}

	if contentType == "text/plain" {
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		return string(content), nil
	}

	return t.extractWithRetry(ctx, path, contentType)
}

// extractWithRetry wraps the Tika call in up to maxRetries retries with
// exponential backoff: 1s, 2s, 4s.
func (t *TikaExtractor) extractWithRetry(ctx context.Context, path, contentType string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := t.extractOnce(ctx, path, contentType)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !isTransient(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("tika extraction failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (t *TikaExtractor) extractOnce(ctx context.Context, path, contentType string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("file does not exist: %s: %w", path, err)
	}
	t.monitor.LogTikaRequest(path, info.Size(), contentType, t.serverURL)

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.serverURL+"/tika", f)
	if err != nil {
		return "", fmt.Errorf("failed to build tika request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/plain")
	req.ContentLength = info.Size()

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.monitor.LogTikaError(path, "connection", err.Error(), time.Since(start), info.Size())
		return "", fmt.Errorf("tika request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	duration := time.Since(start)
	if err != nil {
		t.monitor.LogTikaError(path, "read", err.Error(), duration, info.Size())
		return "", fmt.Errorf("failed to read tika response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.monitor.LogTikaError(path, fmt.Sprintf("http_%d", resp.StatusCode), string(body), duration, info.Size())
		return "", &httpStatusError{status: resp.StatusCode}
	}

	t.monitor.LogTikaResponse(path, duration, len(body), resp.StatusCode)
	return string(body), nil
}

// httpStatusError carries a non-200 Tika response status.
type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("tika returned status %d", e.status)
}

// isTransient decides whether an extraction failure is worth retrying:
// refused connections, timeouts and premature closes are; client errors,
// unsupported types and missing files are not.
func isTransient(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		if statusErr.status == http.StatusTooManyRequests {
			return true
		}
		return statusErr.status >= 500
	}

	if errors.Is(err, ErrUnsupportedFileType) || errors.Is(err, os.ErrNotExist) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	return false
}
