package upload

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// File is a handle to one selected file. It satisfies backend.UploadFile.
type File struct {
	name      string
	mediaType string
	size      int64
	pages     int
	open      func() (io.ReadCloser, error)
}

// NewFile builds a handle from explicit metadata and an opener.
func NewFile(name, mediaType string, size int64, open func() (io.ReadCloser, error)) File {
	return File{name: name, mediaType: mediaType, size: size, open: open}
}

// BytesFile builds an in-memory handle.
func BytesFile(name, mediaType string, data []byte) File {
	return NewFile(name, mediaType, int64(len(data)), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

// FileFromPath stats path and declares its media type from the extension,
// falling back to sniffing the first bytes.
func FileFromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}

	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mediaType == "" {
		mediaType, err = sniff(path)
		if err != nil {
			return File{}, err
		}
	}
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = mt
	}

	return NewFile(filepath.Base(path), mediaType, info.Size(), func() (io.ReadCloser, error) {
		return os.Open(path)
	}), nil
}

func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return http.DetectContentType(buf[:n]), nil
}

func (f File) Name() string      { return f.name }
func (f File) MediaType() string { return f.mediaType }
func (f File) Size() int64       { return f.size }

// Pages is the PDF page count, known only after inspection.
func (f File) Pages() int { return f.pages }

func (f File) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("%s: no content", f.name)
	}
	return f.open()
}
