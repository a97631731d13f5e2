package huntingcorner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	maxUploadSize = 20 * 1024 * 1024

	// uploadConcurrency bounds UploadFiles.
	uploadConcurrency = 3
)

// UploadsClient pushes media to the signed storage target returned by
// /uploads/sign. The storage request itself carries no bearer token.
type UploadsClient struct{ c *Client }

// Sign asks the backend for an upload target for filename.
func (u *UploadsClient) Sign(ctx context.Context, filename, contentType string) (*UploadSignature, error) {
	var sig UploadSignature
	body := map[string]string{"filename": filename, "content_type": contentType}
	if err := u.c.gateway.Post(ctx, "/uploads/sign", body, &sig); err != nil {
		return nil, err
	}
	if sig.UploadURL == "" {
		return nil, fmt.Errorf("upload: sign response has no upload_url")
	}
	return &sig, nil
}

// Upload signs and uploads data, returning the public URL of the stored file.
// FileName in opts is required. JPEG and PNG images are downscaled to at most
// 1920px per side first unless KeepOriginal is set.
func (u *UploadsClient) Upload(ctx context.Context, data []byte, opts *UploadOptions) (string, error) {
	if opts == nil || opts.FileName == "" {
		return "", fmt.Errorf("fileName is required when uploading bytes")
	}
	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = guessMimeType(opts.FileName)
	}
	if strings.HasPrefix(mimeType, "image/") && !opts.KeepOriginal {
		data = compressImage(data, mimeType)
	}
	size := int64(len(data))
	if size > maxUploadSize {
		return "", fmt.Errorf("file exceeds maximum size of 20 MB")
	}

	sig, err := u.Sign(ctx, opts.FileName, mimeType)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	// Storage targets expect the signed fields before the file part.
	for k, v := range sig.Fields {
		_ = w.WriteField(k, v)
	}
	part, err := w.CreateFormFile("file", opts.FileName)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write file data: %w", err)
	}
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sig.UploadURL, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := u.c.httpClient.Do(req)
	if err != nil {
		return "", &NetworkError{Op: "upload " + opts.FileName, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body)), Body: body}
	}

	if opts.OnProgress != nil {
		opts.OnProgress(size, size)
	}
	u.c.logger.Debug().Str("file", opts.FileName).Int64("size", size).Msg("upload complete")
	return sig.PublicURL, nil
}

// UploadFile uploads a local file. FileName and MimeType in opts are derived
// from the path when unset.
func (u *UploadsClient) UploadFile(ctx context.Context, path string, opts *UploadOptions) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	o := UploadOptions{}
	if opts != nil {
		o = *opts
	}
	if o.FileName == "" {
		o.FileName = filepath.Base(path)
	}
	return u.Upload(ctx, data, &o)
}

// UploadFiles uploads several local files concurrently and returns their
// public URLs in input order. The first failure cancels the rest.
func (u *UploadsClient) UploadFiles(ctx context.Context, paths []string) ([]string, error) {
	urls := make([]string, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for i, p := range paths {
		g.Go(func() error {
			url, err := u.UploadFile(gctx, p, nil)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(p), err)
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

// guessMimeType returns MIME type from file extension.
func guessMimeType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return "application/octet-stream"
	}
	// Fallback for types not in Go's builtin registry
	fallback := map[string]string{
		".heic": "image/heic", ".heif": "image/heif",
		".webp": "image/webp", ".webm": "video/webm",
		".mov": "video/quicktime", ".mp4": "video/mp4",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	t := mime.TypeByExtension(ext)
	if t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}
