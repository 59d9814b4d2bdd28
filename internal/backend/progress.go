package backend

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// progressReader reports integer percentages of total as bytes are read.
// A callback fires only when the percentage changes.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(int)
}

func newProgressReader(r io.Reader, total int64, report func(int)) *progressReader {
	return &progressReader{r: r, total: total, last: -1, report: report}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		p.emit(int(p.read * 100 / p.total))
	}
	if err == io.EOF {
		p.emit(100)
	}
	return n, err
}

func (p *progressReader) emit(pct int) {
	if pct > 100 {
		pct = 100
	}
	if pct == p.last || p.report == nil {
		return
	}
	p.last = pct
	p.report(pct)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// multipartBody streams file as the single "file" field of a multipart form.
// Each call reopens the file, so a retried upload starts from byte zero.
func multipartBody(file UploadFile, onProgress func(int)) bodyFunc {
	return func() (io.ReadCloser, string, error) {
		src, err := file.Open()
		if err != nil {
			return nil, "", fmt.Errorf("opening %s: %w", file.Name(), err)
		}

		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)

		go func() {
			defer src.Close()

			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition",
				fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(file.Name())))
			ct := file.MediaType()
			if ct == "" {
				ct = "application/octet-stream"
			}
			h.Set("Content-Type", ct)

			part, err := mw.CreatePart(h)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := io.Copy(part, newProgressReader(src, file.Size(), onProgress)); err != nil {
				pw.CloseWithError(err)
				return
			}
			pw.CloseWithError(mw.Close())
		}()

		return pr, mw.FormDataContentType(), nil
	}
}
