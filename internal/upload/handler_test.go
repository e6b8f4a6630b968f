package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type memorySaver struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memorySaver) Save(_ context.Context, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.files[name] = data
	return nil
}

func newUploadRouter(saver Saver, maxBytes int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(saver, Config{MaxBytes: maxBytes})
	router := gin.New()
	router.POST("/api/uploads", h.Upload)
	return router
}

func multipartRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile error: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadStoresImage(t *testing.T) {
	saver := &memorySaver{}
	router := newUploadRouter(saver, 1024)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "file", "../../Balaton nyár.png", pngHeader))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Success bool   `json:"success"`
		URL     string `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || !strings.HasPrefix(body.URL, "/uploads/") || !strings.HasSuffix(body.URL, "-Balatonnyr.png") {
		t.Fatalf("unexpected body: %+v", body)
	}

	name := strings.TrimPrefix(body.URL, "/uploads/")
	if !bytes.Equal(saver.files[name], pngHeader) {
		t.Fatal("stored content differs from upload")
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	saver := &memorySaver{}
	router := newUploadRouter(saver, 1024)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "file", "evil.png", []byte("<html><script>alert(1)</script></html>")))
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rec.Code)
	}
	if len(saver.files) != 0 {
		t.Fatal("rejected file must not be stored")
	}
}

func TestUploadRejectsLargeFile(t *testing.T) {
	saver := &memorySaver{}
	router := newUploadRouter(saver, 64)

	content := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 128)...)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "file", "big.png", content))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestUploadUsesDetectedExtension(t *testing.T) {
	saver := &memorySaver{}
	router := newUploadRouter(saver, 1024)

	content := append(append([]byte{}, pngHeader...), []byte("<script>alert(1)</script>")...)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "file", "x.html", content))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasSuffix(body.URL, "-x.png") {
		t.Fatalf("url = %q, want the sniffed .png extension", body.URL)
	}
	for name := range saver.files {
		if strings.HasSuffix(name, ".html") {
			t.Fatalf("stored with client extension: %q", name)
		}
	}
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	saver := &memorySaver{}
	router := newUploadRouter(saver, 64)

	content := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, formOverheadBytes+1024)...)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "file", "huge.png", content))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if len(saver.files) != 0 {
		t.Fatal("oversized file must not be stored")
	}
}

func TestStoredName(t *testing.T) {
	tests := []struct {
		in, ext, want string
	}{
		{"x.html", ".png", "x.png"},
		{"tour.photo.JPG", ".jpg", "tour.photo.jpg"},
		{"brochure", ".pdf", "brochure.pdf"},
		{"ööö", ".png", "file.png"},
		{"", ".webp", "file.webp"},
	}
	for _, tt := range tests {
		if got := storedName(tt.in, tt.ext); got != tt.want {
			t.Errorf("storedName(%q, %q) = %q, want %q", tt.in, tt.ext, got, tt.want)
		}
	}
}

func TestUploadRequiresFileField(t *testing.T) {
	router := newUploadRouter(&memorySaver{}, 1024)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "attachment", "a.png", pngHeader))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, ext, want string
	}{
		{"photo.jpg", ".jpg", "photo.jpg"},
		{"../../etc/passwd", "", "passwd"},
		{`C:\Users\me\kép 1.png`, ".png", "kp1.png"},
		{".htaccess", ".txt", "htaccess"},
		{"árvíztűrő", ".pdf", "rvztr"},
		{"ööö", ".pdf", "file.pdf"},
		{"", ".webp", "file.webp"},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in, tt.ext); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
