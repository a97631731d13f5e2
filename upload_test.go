package huntingcorner

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("signs then stores without the bearer token", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})

		var progress []int64
		url, err := c.Uploads().Upload(ctx, []byte("antlers"), &UploadOptions{
			FileName:   "buck.jpg",
			OnProgress: func(uploaded, total int64) { progress = append(progress, uploaded, total) },
		})
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(url, srv.URL+"/storage/files/uploads/"))
		require.Equal(t, []int64{7, 7}, progress)

		key := strings.TrimPrefix(url, srv.URL+"/storage/files/")
		data, ok := srv.Uploaded(key)
		require.True(t, ok)
		require.Equal(t, "antlers", string(data))

		sign := srv.RequestsTo(http.MethodPost, "/uploads/sign")
		require.Len(t, sign, 1)
		require.JSONEq(t, `{"filename":"buck.jpg","content_type":"image/jpeg"}`, string(sign[0].Body))
		store := srv.RequestsTo(http.MethodPost, "/storage/upload")
		require.Len(t, store, 1)
		require.Empty(t, store[0].Authorization)

		resp, err := http.Get(url)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		require.Equal(t, "antlers", string(body))
	})

	t.Run("file name is required", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		_, err := c.Uploads().Upload(ctx, []byte("x"), nil)
		require.Error(t, err)
		_, err = c.Uploads().Upload(ctx, []byte("x"), &UploadOptions{})
		require.Error(t, err)
		require.Empty(t, srv.RequestsTo(http.MethodPost, "/uploads/sign"))
	})

	t.Run("size limit", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		_, err := c.Uploads().Upload(ctx, make([]byte, maxUploadSize+1), &UploadOptions{FileName: "big.mp4"})
		require.ErrorContains(t, err, "20 MB")
	})

	t.Run("storage rejection is an APIError", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		srv.Fail(http.MethodPost, "/storage/upload", http.StatusForbidden, 1, "expired signature")
		_, err := c.Uploads().Upload(ctx, []byte("x"), &UploadOptions{FileName: "a.png"})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusForbidden, apiErr.Status)
	})

	t.Run("network failure", func(t *testing.T) {
		srv := newBackend(t)
		c, tr := loginClient(t, srv, testClientOptions{})
		tr.down.Store(true)
		_, err := c.Uploads().Upload(ctx, []byte("x"), &UploadOptions{FileName: "a.png"})
		require.True(t, IsNetwork(err))
	})
}

func TestUploadFiles(t *testing.T) {
	ctx := context.Background()
	srv := newBackend(t)
	c, _ := loginClient(t, srv, testClientOptions{})

	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.jpg", "b.png", "c.mov", "d.webp"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("data-"+name), 0o644))
		paths = append(paths, p)
	}

	t.Run("single file", func(t *testing.T) {
		url, err := c.Uploads().UploadFile(ctx, paths[0], nil)
		require.NoError(t, err)
		require.True(t, strings.HasSuffix(url, "/a.jpg"))
	})

	t.Run("many files keep input order", func(t *testing.T) {
		urls, err := c.Uploads().UploadFiles(ctx, paths)
		require.NoError(t, err)
		require.Len(t, urls, len(paths))
		for i, u := range urls {
			name := filepath.Base(paths[i])
			require.True(t, strings.HasSuffix(u, "/"+name), u)
			data, ok := srv.Uploaded(strings.TrimPrefix(u, srv.URL+"/storage/files/"))
			require.True(t, ok)
			require.Equal(t, "data-"+name, string(data))
		}
	})

	t.Run("missing file fails the batch", func(t *testing.T) {
		_, err := c.Uploads().UploadFiles(ctx, []string{paths[0], filepath.Join(dir, "nope.jpg")})
		require.ErrorContains(t, err, "nope.jpg")
	})
}

func TestGuessMimeType(t *testing.T) {
	for name, want := range map[string]string{
		"photo.JPG":  "image/jpeg",
		"clip.mov":   "video/quicktime",
		"clip.MP4":   "video/mp4",
		"shot.heic":  "image/heic",
		"shot.webp":  "image/webp",
		"noext":      "application/octet-stream",
		"weird.zzzz": "application/octet-stream",
	} {
		require.Equal(t, want, guessMimeType(name), name)
	}
}
