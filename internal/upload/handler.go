// Package upload は管理画面からのメディアアップロードを受け付けます。
package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// DefaultMaxBytes は 1 ファイルあたりの上限 (5MB) です。
	DefaultMaxBytes int64 = 5 * 1024 * 1024
	// DefaultPublicPrefix は保存したファイルを配信する URL の接頭辞です。
	DefaultPublicPrefix = "/uploads"

	// multipart のヘッダーや境界文字列の分だけ本文の上限に余裕を持たせる
	formOverheadBytes = 64 * 1024
	// mimetype が判定に使う先頭バイト数
	sniffBytes = 3072
)

// AllowedTypes はアップロードを許可する MIME タイプです。判定は内容から行います。
var AllowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/pdf",
	"video/mp4",
	"video/webm",
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Saver はファイルの保存先です。
type Saver interface {
	Save(ctx context.Context, name string, r io.Reader) error
}

// Config は Handler の設定です。
type Config struct {
	MaxBytes     int64
	PublicPrefix string
	Logger       *slog.Logger
}

// Handler は POST /api/uploads のハンドラーです。
type Handler struct {
	store  Saver
	cfg    Config
	logger *slog.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(store Saver, cfg Config) *Handler {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.PublicPrefix == "" {
		cfg.PublicPrefix = DefaultPublicPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, cfg: cfg, logger: logger}
}

// Error はアップロード失敗の理由です。
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

var (
	errNoFile      = &Error{Status: http.StatusBadRequest, Code: "INVALID_INPUT", Message: "file フィールドでファイルを送信してください"}
	errTooLarge    = &Error{Status: http.StatusRequestEntityTooLarge, Code: "LIMIT_EXCEEDED", Message: "ファイルサイズが上限を超えています"}
	errUnsupported = &Error{Status: http.StatusUnsupportedMediaType, Code: "UNSUPPORTED_TYPE", Message: "画像、PDF、動画のみアップロードできます"}
)

// Upload は multipart の file フィールドを保存し、公開 URL を返します。
func (h *Handler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxBytes+formOverheadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.respondWithError(c, errTooLarge)
			return
		}
		h.respondWithError(c, errNoFile)
		return
	}
	if fileHeader.Size > h.cfg.MaxBytes {
		h.respondWithError(c, errTooLarge)
		return
	}

	name, err := h.save(c.Request.Context(), fileHeader)
	if err != nil {
		h.respondWithError(c, err)
		return
	}

	url := strings.TrimRight(h.cfg.PublicPrefix, "/") + "/" + name
	h.logger.InfoContext(c.Request.Context(), "file uploaded", "name", name, "size", fileHeader.Size)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"url":     url,
	})
}

func (h *Handler) save(ctx context.Context, fileHeader *multipart.FileHeader) (string, error) {
	src, err := fileHeader.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	head = head[:n]

	detected := mimetype.Detect(head)
	if !allowed(detected) {
		h.logger.WarnContext(ctx, "upload rejected", "reason", "unsupported_type", "detected", detected.String())
		return "", errUnsupported
	}

	name := uuid.NewString() + "-" + storedName(fileHeader.Filename, detected.Extension())
	if err := h.store.Save(ctx, name, io.MultiReader(bytes.NewReader(head), src)); err != nil {
		return "", err
	}
	return name, nil
}

func allowed(detected *mimetype.MIME) bool {
	for _, t := range AllowedTypes {
		if detected.Is(t) {
			return true
		}
	}
	return false
}

// SanitizeName はパス要素と英数字・ . _ - 以外の文字を取り除きます。
// 何も残らなければ fallbackExt を使った名前にします。
func SanitizeName(original, fallbackExt string) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	cleaned := unsafeNameChars.ReplaceAllString(base, "")
	cleaned = strings.TrimLeft(cleaned, ".")
	if cleaned == "" {
		return "file" + fallbackExt
	}
	return cleaned
}

// storedName は元のファイル名の拡張子を判定結果の拡張子に置き換えます。
// 配信時の Content-Type は拡張子で決まるため、クライアントの拡張子は使いません。
func storedName(original, ext string) string {
	cleaned := SanitizeName(original, ext)
	base := strings.TrimSuffix(cleaned, filepath.Ext(cleaned))
	if base == "" {
		base = "file"
	}
	return base + ext
}

func (h *Handler) respondWithError(c *gin.Context, err error) {
	var upErr *Error
	if errors.As(err, &upErr) {
		c.JSON(upErr.Status, gin.H{
			"success": false,
			"code":    upErr.Code,
			"message": upErr.Message,
		})
		return
	}
	h.logger.ErrorContext(c.Request.Context(), "upload failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"code":    "INTERNAL_ERROR",
		"message": "ファイルの保存に失敗しました",
	})
}
