package viewer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// LoadError reports a failed bitmap load: either the image service could not
// be reached or the payload could not be decoded. The surrounding viewer is
// expected to switch to direct display on this error, not retry.
type LoadError struct {
	SourceRef string
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load image %q: %v", e.SourceRef, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader fetches displayable bitmaps from the external image service by
// stable image identifier.
type Loader struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewLoader creates a loader for the image service at baseURL.
func NewLoader(baseURL string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// Load fetches and decodes the bitmap for sourceRef. Any failure is returned
// as a *LoadError.
func (l *Loader) Load(ctx context.Context, sourceRef string) (*Bitmap, error) {
	var buf bytes.Buffer
	if err := l.fetch(ctx, sourceRef, &buf); err != nil {
		return nil, &LoadError{SourceRef: sourceRef, Err: err}
	}
	bmp, err := Decode(&buf)
	if err != nil {
		l.logger.Error("decode bitmap", slog.String("source", sourceRef), slog.String("error", err.Error()))
		return nil, &LoadError{SourceRef: sourceRef, Err: err}
	}
	l.logger.Info("bitmap loaded",
		slog.String("source", sourceRef),
		slog.Int("width", bmp.Width()),
		slog.Int("height", bmp.Height()))
	return bmp, nil
}

// Download streams the original image bytes for sourceRef into w without any
// client-side transformation.
func (l *Loader) Download(ctx context.Context, sourceRef string, w io.Writer) error {
	if err := l.fetch(ctx, sourceRef, w); err != nil {
		return &LoadError{SourceRef: sourceRef, Err: err}
	}
	return nil
}

func (l *Loader) fetch(ctx context.Context, sourceRef string, w io.Writer) error {
	u := l.baseURL + "/images/" + url.PathEscape(sourceRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("image service returned %d", resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return err
	}
	return nil
}
