package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newSandbox(t *testing.T) *Sandbox {
	t.Helper()
	sb := New(Options{AppInfo: AppInfo{Name: "Sora", Version: "1.2.3"}})
	t.Cleanup(sb.Close)
	return sb
}

func TestBase64RoundTrip(t *testing.T) {
	sb := newSandbox(t)
	require.NoError(t, sb.LoadScript("b64", `
function roundTrip(s) { return _decodeBase64(_encodeBase64(s)); }
function browserRoundTrip(s) { return atob(btoa(s)); }
`))

	inputs := []string{
		"",
		"hello",
		"héllo wörld",
		"日本語のテキスト",
		"emoji 🎬🍿 and more",
		"tabs\tand\nnewlines\r\n",
		`{"json": ["quoted", "é"]}`,
	}
	for _, in := range inputs {
		for _, fn := range []string{"roundTrip", "browserRoundTrip"} {
			got, err := sb.CallSync(context.Background(), fn, in)
			require.NoError(t, err, "%s(%q)", fn, in)
			require.Equal(t, in, got, "%s(%q)", fn, in)
		}
	}
}

func TestEncodeBase64MatchesStandardAlphabet(t *testing.T) {
	sb := newSandbox(t)
	require.NoError(t, sb.LoadScript("b64", `function enc(s) { return btoa(s); }`))

	got, err := sb.CallSync(context.Background(), "enc", "é")
	require.NoError(t, err)
	require.Equal(t, "w6k=", got)
}

func TestCallSyncReturnsJSON(t *testing.T) {
	sb := newSandbox(t)
	require.NoError(t, sb.LoadScript("sync", `
function searchResults(html) {
  return JSON.stringify([{title: "A " + html, image: "i", href: "/a"}]);
}
function rawArray() { return [{title: "B", image: "", href: "/b"}]; }
`))

	out, err := sb.CallSync(context.Background(), "searchResults", "q")
	require.NoError(t, err)
	items := DecodeSearch(out)
	require.Len(t, items, 1)
	require.Equal(t, "A q", items[0].Title)

	out, err = sb.CallSync(context.Background(), "rawArray")
	require.NoError(t, err)
	items = DecodeSearch(out)
	require.Len(t, items, 1)
	require.Equal(t, "/b", items[0].Href)
}

func TestCallAsyncUsesFetchBridge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test") != "yes" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"title":"Found","image":"img","href":"/found"}]`)
	}))
	defer srv.Close()

	sb := newSandbox(t)
	require.NoError(t, sb.LoadScript("async", `
async function searchResults(url) {
  const resp = await fetchv2(url, {"X-Test": "yes"});
  if (resp.status !== 200) { return JSON.stringify([]); }
  const data = await resp.json();
  return JSON.stringify(data);
}
`))

	out, err := sb.CallAsync(context.Background(), "searchResults", srv.URL)
	require.NoError(t, err)
	items := DecodeSearch(out)
	require.Len(t, items, 1)
	require.Equal(t, "Found", items[0].Title)
}

func TestLegacyFetchResolvesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>page</html>")
	}))
	defer srv.Close()

	sb := newSandbox(t)
	require.NoError(t, sb.LoadScript("legacy", `
async function get(url) { return await fetch(url); }
`))
	out, err := sb.CallAsync(context.Background(), "get", srv.URL)
	require.NoError(t, err)
	require.Equal(t, "<html>page</html>", out)
}

func TestFetchRejectsGETWithBody(t *testing.T) {
	sb := newSandbox(t)
	require.NoError(t, sb.LoadScript("reject", `
async function run(url) {
  try {
    await fetchv2(url, {}, "GET", "payload");
    return "resolved";
  } catch (e) {
    return "rejected: " + e;
  }
}
`))
	out, err := sb.CallAsync(context.Background(), "run", "https://example.invalid/")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "rejected: "), out)
	require.Contains(t, out, "invalid input")
}

func TestUnhandledRejectionSurfacesAsError(t *testing.T) {
	sb := newSandbox(t)
	require.NoError(t, sb.LoadScript("reject", `
async function run() { await fetchv2("ftp://example.com/file"); return "x"; }
`))
	_, err := sb.CallAsync(context.Background(), "run")
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.Contains(t, rej.Reason, "invalid input")
}

func TestMissingFunction(t *testing.T) {
	sb := newSandbox(t)
	require.NoError(t, sb.LoadScript("empty", `var x = 1;`))

	_, err := sb.CallSync(context.Background(), "searchResults", "q")
	require.ErrorIs(t, err, ErrMissingFunction)
	require.False(t, sb.HasFunction(context.Background(), "searchResults"))
}

func TestCallWithoutScript(t *testing.T) {
	sb := newSandbox(t)
	_, err := sb.CallSync(context.Background(), "searchResults", "q")
	require.ErrorIs(t, err, ErrNoScript)
}

func TestThrowingLoadLeavesNoContext(t *testing.T) {
	sb := newSandbox(t)
	require.NoError(t, sb.LoadScript("good", `function f() { return "ok"; }`))

	err := sb.LoadScript("bad", `throw new Error("boom");`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")

	_, loaded := sb.Loaded()
	require.False(t, loaded)
	_, err = sb.CallSync(context.Background(), "f")
	require.ErrorIs(t, err, ErrNoScript)
}

func TestLoadScriptReplacesPendingCalls(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	sb := newSandbox(t)
	require.NoError(t, sb.LoadScript("first", `
async function slow(url) { const r = await fetchv2(url); return "first:" + r.status; }
`))

	errc := make(chan error, 1)
	go func() {
		_, err := sb.CallAsync(context.Background(), "slow", srv.URL)
		errc <- err
	}()

	// Give the call time to reach the bridge.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, sb.LoadScript("second", `function slow() { return "second"; }`))

	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrContextReplaced)
	case <-time.After(5 * time.Second):
		t.Fatal("pending call was not failed by reload")
	}

	id, loaded := sb.Loaded()
	require.True(t, loaded)
	require.Equal(t, "second", id)
	out, err := sb.CallSync(context.Background(), "slow")
	require.NoError(t, err)
	require.Equal(t, "second", out)
}

func TestCallHonorsContextCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	sb := newSandbox(t)
	require.NoError(t, sb.LoadScript("slow", `
async function slow(url) { await fetchv2(url); return "done"; }
`))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := sb.CallAsync(ctx, "slow", srv.URL)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestAppInfoIsReadOnly(t *testing.T) {
	sb := newSandbox(t)
	require.NoError(t, sb.LoadScript("info", `
function info() {
  AppInfo.name = "changed";
  return AppInfo.name + "|" + AppInfo.version + "|" + AppInfo.platform;
}
`))
	out, err := sb.CallSync(context.Background(), "info")
	require.NoError(t, err)
	require.Equal(t, "Sora|1.2.3|"+runtime.GOOS, out)
}

func TestConsoleDoesNotThrow(t *testing.T) {
	sb := newSandbox(t)
	require.NoError(t, sb.LoadScript("console", `
function run() { console.log("a", 1, {b: 2}); console.error("e"); console.warn("w"); return "ok"; }
`))
	out, err := sb.CallSync(context.Background(), "run")
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}

func TestUndefinedResultIsEmpty(t *testing.T) {
	sb := newSandbox(t)
	require.NoError(t, sb.LoadScript("undef", `function nothing() {}`))
	out, err := sb.CallSync(context.Background(), "nothing")
	require.NoError(t, err)
	require.Empty(t, out)
	require.Empty(t, DecodeEpisodes(out))
}

func TestHoldsTracksScriptText(t *testing.T) {
	sb := New(Options{})
	defer sb.Close()

	require.False(t, sb.Holds("m", "var a = 1;"))
	require.NoError(t, sb.LoadScript("m", "function a() {}"))
	require.True(t, sb.Holds("m", "function a() {}"))
	require.False(t, sb.Holds("m", "function b() {}"))
	require.False(t, sb.Holds("other", "function a() {}"))

	require.True(t, sb.HasFunction(context.Background(), "a"))
	require.False(t, sb.HasFunction(context.Background(), "b"))
}
