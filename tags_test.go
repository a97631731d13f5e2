package huntingcorner

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTagsSuggest(t *testing.T) {
	ctx := context.Background()

	t.Run("short queries send nothing", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		for _, q := range []string{"", "d", " d ", "š"} {
			tags, err := c.Tags().Suggest(ctx, q)
			require.NoError(t, err)
			require.Nil(t, tags)
		}
		require.Empty(t, srv.RequestsTo(http.MethodGet, "/tags"))
	})

	t.Run("matches are memoized per lowercased query", func(t *testing.T) {
		srv := newBackend(t)
		srv.AddTag("deer", 12)
		srv.AddTag("Decoys", 3)
		srv.AddTag("boar", 7)
		c, _ := loginClient(t, srv, testClientOptions{})

		tags, err := c.Tags().Suggest(ctx, "De")
		require.NoError(t, err)
		require.Equal(t, []Tag{{Name: "deer", Count: 12}, {Name: "Decoys", Count: 3}}, tags)

		again, err := c.Tags().Suggest(ctx, "de")
		require.NoError(t, err)
		require.Equal(t, tags, again)
		require.Len(t, srv.RequestsTo(http.MethodGet, "/tags"), 1)

		_, err = c.Tags().Suggest(ctx, "bo")
		require.NoError(t, err)
		require.Len(t, srv.RequestsTo(http.MethodGet, "/tags"), 2)
	})

	t.Run("errors are not memoized", func(t *testing.T) {
		srv := newBackend(t)
		srv.AddTag("deer", 1)
		c, _ := loginClient(t, srv, testClientOptions{})
		srv.Fail(http.MethodGet, "/tags", http.StatusInternalServerError, 1, "boom")

		_, err := c.Tags().Suggest(ctx, "de")
		require.Error(t, err)
		tags, err := c.Tags().Suggest(ctx, "de")
		require.NoError(t, err)
		require.Len(t, tags, 1)
	})

	t.Run("offline without a memo fails", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		c.Queue().SetOnline(false)
		_, err := c.Tags().Suggest(ctx, "deer")
		require.ErrorIs(t, err, ErrOffline)
	})
}

func TestDecodeTags(t *testing.T) {
	for name, raw := range map[string]string{
		"wrapped objects": `{"data":[{"name":"deer","count":2},{"name":"elk"}]}`,
		"bare objects":    `[{"name":"deer","count":2},{"name":"elk"}]`,
		"bare strings":    ` ["deer","elk"]`,
	} {
		tags, err := decodeTags([]byte(raw))
		require.NoError(t, err, name)
		require.Len(t, tags, 2, name)
		require.Equal(t, "deer", tags[0].Name, name)
		require.Equal(t, "elk", tags[1].Name, name)
	}

	_, err := decodeTags([]byte(`{"data":"nope"}`))
	require.Error(t, err)
}
