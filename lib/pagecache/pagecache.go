// Package pagecache stores fetched html documents on disk, keyed by the
// trailing path segment of the url they were fetched from.
package pagecache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"nbagames/lib/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("nbagames.lib.pagecache")
var meter = telemetry.Meter("nbagames.lib.pagecache")
var writeCounter, _ = meter.Int64Counter("cache.writes")

const extension = ".html"

var ErrNotCached = errors.New("page is not cached")

// WriteError is returned when a document could not be persisted, the
// cache can no longer be trusted to reflect what was fetched.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write cache entry %q: %s", e.Key, e.Err.Error())
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// KeyFor derives the cache key of a url from its last path segment,
// "https://x.com/boxscores/202301010ABC.html" -> "202301010ABC.html".
func KeyFor(rawUrl string) (string, error) {
	link, err := url.Parse(rawUrl)
	if err != nil {
		return "", err
	}
	segment := path.Base(link.Path)
	if segment == "." || segment == "/" || segment == "" {
		return "", fmt.Errorf("url %q has no trailing path segment", rawUrl)
	}
	key := unsafeChars.ReplaceAllString(segment, "_")
	if !strings.HasSuffix(key, extension) {
		key += extension
	}
	return key, nil
}

type Store struct {
	dir string
}

// New opens (creating if needed) a store rooted at dir.
func New(dir string) (*Store, error) {
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return nil, &WriteError{Key: dir, Err: err}
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key)
}

// HasKey reports whether a fully written document exists under key.
func (s *Store) HasKey(key string) bool {
	info, err := os.Stat(s.path(key))
	return err == nil && info.Mode().IsRegular()
}

// Has reports whether the document for rawUrl is cached, urls that
// produce no key are never cached.
func (s *Store) Has(rawUrl string) bool {
	key, err := KeyFor(rawUrl)
	if err != nil {
		return false
	}
	return s.HasKey(key)
}

// Put persists content under the key of rawUrl. the document is written
// to a temporary file and renamed into place so readers never observe a
// partial write, concurrent puts of the same key resolve last-writer-wins.
func (s *Store) Put(ctx context.Context, rawUrl string, content []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "Put")
	defer span.End()

	key, err := KeyFor(rawUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create cache key")
		return "", err
	}
	span.SetAttributes(
		attribute.String("cache_key", key),
		attribute.Int("content_length", len(content)),
	)

	err = s.writeAtomic(key, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write cache entry")
		return key, &WriteError{Key: key, Err: err}
	}

	writeCounter.Add(ctx, 1, metricAttrs(s.dir))
	return key, nil
}

func (s *Store) writeAtomic(key string, content []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+key+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	_, err = tmp.Write(content)
	if err != nil {
		return cleanup(err)
	}
	err = tmp.Sync()
	if err != nil {
		return cleanup(err)
	}
	err = tmp.Close()
	if err != nil {
		os.Remove(tmpName)
		return err
	}
	err = os.Rename(tmpName, s.path(key))
	if err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *Store) Get(key string) ([]byte, error) {
	contents, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotCached, key)
	}
	return contents, err
}

// List returns every cached key in lexical order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, extension) {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys, nil
}
