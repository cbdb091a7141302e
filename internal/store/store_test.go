package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	b, err := OpenBadger(dir+"/badger", nil)
	require.NoError(t, err)
	sq, err := OpenSQLite(dir + "/kv.db")
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemory(),
		"badger": b,
		"sqlite": sq,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, found, err := s.Get("missing")
			require.NoError(t, err)
			require.False(t, found)

			require.NoError(t, s.Set("k", []byte("v1")))
			require.NoError(t, s.Set("k", []byte("v2")))
			v, found, err := s.Get("k")
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, "v2", string(v))

			require.NoError(t, s.Remove("k"))
			_, found, err = s.Get("k")
			require.NoError(t, err)
			require.False(t, found)

			require.NoError(t, s.Remove("never-set"))
		})
	}
}

func TestJSONAndFloatHelpers(t *testing.T) {
	s := NewMemory()

	type doc struct {
		Name  string
		Count int
	}
	require.NoError(t, SetJSON(s, "doc", doc{Name: "a", Count: 2}))
	var got doc
	found, err := GetJSON(s, "doc", &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, doc{Name: "a", Count: 2}, got)

	require.NoError(t, SetFloat(s, "pos", 12.5))
	f, found, err := GetFloat(s, "pos")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 12.5, f)

	require.NoError(t, s.Set("bad", []byte("not-a-number")))
	_, found, err = GetFloat(s, "bad")
	require.True(t, found)
	require.Error(t, err)
}

func TestMemoryCopiesValues(t *testing.T) {
	s := NewMemory()
	buf := []byte("abc")
	require.NoError(t, s.Set("k", buf))
	buf[0] = 'x'

	v, _, _ := s.Get("k")
	require.Equal(t, "abc", string(v))
	_, found, err := s.Get("x")
	require.NoError(t, err)
	require.False(t, found)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("etcd", t.TempDir(), nil)
	require.Error(t, err)
}
