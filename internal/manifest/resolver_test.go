package manifest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"sora/internal/media"
)

func newManifestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveSelectsVariant(t *testing.T) {
	srv := newManifestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != "https://embed.example/" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(master))
	})

	r := NewResolver(srv.Client(), nil)
	res, err := r.Resolve(context.Background(), srv.URL+"/hls/master.m3u8", map[string]string{"Referer": "https://embed.example/"}, media.QualityMedium)
	require.NoError(t, err)
	require.False(t, res.Fallback)
	require.Equal(t, "480p (SD)", res.Label)
	require.Equal(t, srv.URL+"/hls/480/index.m3u8", res.URL)
	require.Len(t, res.Variants, 4)
}

func TestResolveAutoReturnsManifest(t *testing.T) {
	srv := newManifestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(master))
	})

	manifestURL := srv.URL + "/hls/master.m3u8"
	res, err := NewResolver(srv.Client(), nil).Resolve(context.Background(), manifestURL, nil, media.QualityAuto)
	require.NoError(t, err)
	require.Equal(t, manifestURL, res.URL)
	require.Equal(t, AutoLabel, res.Label)
}

func TestResolvePermissionErrorFallsBackToManifest(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, http.StatusUnauthorized} {
		srv := newManifestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		manifestURL := srv.URL + "/master.m3u8"
		res, err := NewResolver(srv.Client(), nil).Resolve(context.Background(), manifestURL, nil, media.QualityBest)
		require.NoError(t, err)
		require.True(t, res.Fallback)
		require.Equal(t, manifestURL, res.URL)
	}
}

func TestResolveOtherStatusIsAnError(t *testing.T) {
	srv := newManifestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := NewResolver(srv.Client(), nil).Resolve(context.Background(), srv.URL+"/master.m3u8", nil, media.QualityBest)
	require.Error(t, err)
}

func TestResolveNoVariantsUsesManifest(t *testing.T) {
	srv := newManifestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXTINF:10,\nseg0.ts\n"))
	})
	manifestURL := srv.URL + "/index.m3u8"
	res, err := NewResolver(srv.Client(), nil).Resolve(context.Background(), manifestURL, nil, media.QualityHigh)
	require.NoError(t, err)
	require.True(t, res.Fallback)
	require.Equal(t, manifestURL, res.URL)
}

func TestResolveUnusableVariantFallsBackToFirst(t *testing.T) {
	body := `#EXTM3U
#EXT-X-STREAM-INF:RESOLUTION=1920x1080
https://cdn.example.com/1080.m3u8
#EXT-X-STREAM-INF:RESOLUTION=640x360
http://[::1
`
	srv := newManifestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})
	res, err := NewResolver(srv.Client(), nil).Resolve(context.Background(), srv.URL+"/master.m3u8", nil, media.QualityLow)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/1080.m3u8", res.URL)
	require.False(t, res.Fallback)
}

func TestResolveInvalidManifestURL(t *testing.T) {
	_, err := NewResolver(nil, nil).Resolve(context.Background(), "not a url", nil, media.QualityBest)
	require.True(t, errors.Is(err, ErrNoFallback))
}
