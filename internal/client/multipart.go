package client

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"sort"
)

// File is an upload attached to a multipart request.
type File struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

func multipartBody(fields map[string]string, files []File) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := mw.WriteField(name, fields[name]); err != nil {
			return nil, "", err
		}
	}

	for _, f := range files {
		header := textproto.MIMEHeader{}
		filename := f.Name
		if filename == "" {
			filename = f.Field
		}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, filename))
		if f.ContentType != "" {
			header.Set("Content-Type", f.ContentType)
		}
		part, err := mw.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}
