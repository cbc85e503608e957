package pagecache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	testCases := []struct {
		url    string
		expect string
		err    bool
	}{
		{url: "https://www.basketball-reference.com/boxscores/202301010ABC.html", expect: "202301010ABC.html"},
		{url: "https://www.basketball-reference.com/leagues/NBA_2022_games-october.html", expect: "NBA_2022_games-october.html"},
		{url: "https://www.basketball-reference.com/boxscores/202301010ABC.html?x=1#frag", expect: "202301010ABC.html"},
		{url: "/a/b c", expect: "b_c.html"},
		{url: "https://www.basketball-reference.com/", err: true},
		{url: "https://www.basketball-reference.com", err: true},
	}
	for _, test := range testCases {
		key, err := KeyFor(test.url)
		if test.err {
			require.Error(t, err, test.url)
			continue
		}
		require.NoError(t, err, test.url)
		require.Equal(t, test.expect, key, test.url)
	}
}

func TestStore(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "scores"))
	require.NoError(t, err)

	url := "https://www.basketball-reference.com/boxscores/202301010ABC.html"
	require.False(t, store.Has(url))

	_, err = store.Get("202301010ABC.html")
	require.ErrorIs(t, err, ErrNotCached)

	key, err := store.Put(context.Background(), url, []byte("<html>game</html>"))
	require.NoError(t, err)
	require.Equal(t, "202301010ABC.html", key)
	require.True(t, store.Has(url))

	contents, err := store.Get(key)
	require.NoError(t, err)
	require.Equal(t, "<html>game</html>", string(contents))

	_, err = store.Put(context.Background(), "https://www.basketball-reference.com/boxscores/202212300XYZ.html", []byte("x"))
	require.NoError(t, err)

	// a stray temp file is never listed
	err = os.WriteFile(filepath.Join(store.Dir(), ".202301020DEF.html.123.tmp"), []byte("partial"), 0600)
	require.NoError(t, err)

	keys, err := store.List()
	require.NoError(t, err)
	require.Equal(t, []string{"202212300XYZ.html", "202301010ABC.html"}, keys)
}

func TestStoreConcurrentPutSameKey(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	url := "https://www.basketball-reference.com/boxscores/202301010ABC.html"
	wg := sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Put(context.Background(), url, []byte(fmt.Sprintf("content-%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	contents, err := store.Get("202301010ABC.html")
	require.NoError(t, err)
	require.Regexp(t, `^content-\d$`, string(contents))

	keys, err := store.List()
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestStoreWriteError(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	_, err = store.Put(context.Background(), "https://x.com/boxscores/a.html", []byte("x"))
	var writeErr *WriteError
	require.True(t, errors.As(err, &writeErr))
	require.Equal(t, "a.html", writeErr.Key)
}
