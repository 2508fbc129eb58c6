package viewer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func encodePNG(t *testing.T, w, h int, fill uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = fill
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestLoaderLoad(t *testing.T) {
	payload := encodePNG(t, 16, 8, 77)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/study-42" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	l := NewLoader(srv.URL, slog.Default())
	bmp, err := l.Load(context.Background(), "study-42")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if bmp.Width() != 16 || bmp.Height() != 8 {
		t.Fatalf("unexpected size %dx%d", bmp.Width(), bmp.Height())
	}
	if bmp.At(3, 3) != 77 {
		t.Fatalf("unexpected pixel value %d", bmp.At(3, 3))
	}
}

func TestLoaderLoadErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/images/missing":
			http.NotFound(w, r)
		case "/images/garbage":
			_, _ = w.Write([]byte("this is not an image"))
		}
	}))
	defer srv.Close()

	l := NewLoader(srv.URL, slog.Default())

	t.Run("http failure", func(t *testing.T) {
		_, err := l.Load(context.Background(), "missing")
		var le *LoadError
		if !errors.As(err, &le) {
			t.Fatalf("expected LoadError, got %v", err)
		}
		if le.SourceRef != "missing" {
			t.Fatalf("unexpected source ref %q", le.SourceRef)
		}
	})

	t.Run("undecodable payload", func(t *testing.T) {
		_, err := l.Load(context.Background(), "garbage")
		var le *LoadError
		if !errors.As(err, &le) {
			t.Fatalf("expected LoadError, got %v", err)
		}
	})
}

func TestLoaderDownloadIsUntransformed(t *testing.T) {
	raw := []byte{0x00, 0x01, 0x02, 0xff, 0xfe}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	l := NewLoader(srv.URL, slog.Default())
	var buf bytes.Buffer
	if err := l.Download(context.Background(), "study-42", &buf); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), raw) {
		t.Fatalf("downloaded bytes differ from original")
	}
}
