package sniffer

import (
	"bytes"
	"errors"
	"net/http"
	"path"
	"strings"
)

type MediaType string

const (
	TypeJPEG MediaType = "jpg"
	TypePNG  MediaType = "png"
	TypeGIF  MediaType = "gif"
	TypeWEBP MediaType = "webp"
	TypeAVIF MediaType = "avif"
	TypeSVG  MediaType = "svg"
	TypeBMP  MediaType = "bmp"
)

var ErrUnknownType = errors.New("unknown media type")

type Result struct {
	Type MediaType
	MIME string
}

// DetectHead sniffs the leading bytes of an image payload.
func DetectHead(head []byte) (Result, error) {
	if len(head) == 0 {
		return Result{}, ErrUnknownType
	}

	switch {
	case isJPEG(head):
		return Result{Type: TypeJPEG, MIME: "image/jpeg"}, nil
	case isPNG(head):
		return Result{Type: TypePNG, MIME: "image/png"}, nil
	case isGIF(head):
		return Result{Type: TypeGIF, MIME: "image/gif"}, nil
	case isWEBP(head):
		return Result{Type: TypeWEBP, MIME: "image/webp"}, nil
	case isAVIF(head):
		return Result{Type: TypeAVIF, MIME: "image/avif"}, nil
	case isBMP(head):
		return Result{Type: TypeBMP, MIME: "image/bmp"}, nil
	case isSVG(head):
		return Result{Type: TypeSVG, MIME: "image/svg+xml"}, nil
	}

	return Result{}, ErrUnknownType
}

func isJPEG(head []byte) bool {
	return len(head) > 3 &&
		head[0] == 0xff &&
		head[1] == 0xd8 &&
		head[2] == 0xff
}

func isPNG(head []byte) bool {
	pngMagic := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	return len(head) >= len(pngMagic) && bytes.Equal(head[:len(pngMagic)], pngMagic)
}

func isGIF(head []byte) bool {
	return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
}

func isWEBP(head []byte) bool {
	return len(head) >= 12 &&
		bytes.Equal(head[:4], []byte("RIFF")) &&
		bytes.Equal(head[8:12], []byte("WEBP"))
}

func isAVIF(head []byte) bool {
	if len(head) < 12 {
		return false
	}
	boxType := string(head[8:12])
	return boxType == "ftyp" && bytes.Contains(head[12:], []byte("avif"))
}

func isBMP(head []byte) bool {
	return len(head) >= 2 && head[0] == 'B' && head[1] == 'M'
}

func isSVG(head []byte) bool {
	trimmed := strings.TrimSpace(string(head))
	return strings.HasPrefix(trimmed, "<svg") || strings.HasPrefix(trimmed, "<?xml")
}

func MimeTypeFromHTTP(header http.Header) string {
	contentType := header.Get("Content-Type")
	if contentType == "" {
		return ""
	}
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		return strings.TrimSpace(contentType[:idx])
	}
	return strings.TrimSpace(contentType)
}

var extToMIME = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"avif": "image/avif",
	"svg":  "image/svg+xml",
	"bmp":  "image/bmp",
	"ico":  "image/x-icon",
	"tiff": "image/tiff",
	"tif":  "image/tiff",
}

var mimeToExt = map[string]string{
	"image/jpeg":    "jpg",
	"image/jpg":     "jpg",
	"image/png":     "png",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/avif":    "avif",
	"image/svg+xml": "svg",
	"image/bmp":     "bmp",
	"image/x-icon":  "ico",
	"image/apng":    "apng",
	"image/tiff":    "tiff",
}

// MIMEForFilename maps a filename extension to its MIME type.
func MIMEForFilename(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if mime, ok := extToMIME[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// ExtForMIME maps a Content-Type to a filename extension.
func ExtForMIME(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	if ext, ok := mimeToExt[strings.TrimSpace(contentType)]; ok {
		return ext
	}
	return ""
}
