package mediabridge

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/boxes-ltd/imaging"
	"go.uber.org/zap"
)

// thumbnailKey identifies one piece of artwork by (artist, album),
// case-insensitively. Empty components are valid.
type thumbnailKey struct {
	artist string
	album  string
}

func newThumbnailKey(artist, album string) thumbnailKey {
	return thumbnailKey{
		artist: strings.ToLower(artist),
		album:  strings.ToLower(album),
	}
}

func (k thumbnailKey) String() string {
	return fmt.Sprintf("%s|%s", k.artist, k.album)
}

// thumbnailCache decodes, center-crops, resizes and JPEG-encodes artwork,
// keeping the encoded bytes per (artist, album) key. Entries are immutable
// once stored and are never evicted individually; the cache is cleared
// wholesale at shutdown.
type thumbnailCache struct {
	logger  *zap.SugaredLogger
	size    int
	quality int

	lock     sync.Mutex
	entries  map[thumbnailKey][]byte
	inflight map[thumbnailKey]chan struct{}
}

func newThumbnailCache(logger *zap.SugaredLogger, size int, quality int) *thumbnailCache {
	logger = logger.Named("thumbnails")

	tc := &thumbnailCache{
		logger:   logger,
		size:     size,
		quality:  quality,
		entries:  make(map[thumbnailKey][]byte),
		inflight: make(map[thumbnailKey]chan struct{}),
	}

	logger.Debugw("Created thumbnail cache instance", "size", size, "quality", quality)

	return tc
}

// Lookup returns the cached encoded artwork for the key, without decoding.
func (tc *thumbnailCache) Lookup(artist, album string) ([]byte, bool) {
	key := newThumbnailKey(artist, album)

	tc.lock.Lock()
	defer tc.lock.Unlock()

	data, ok := tc.entries[key]
	return data, ok
}

// Get returns the encoded artwork for the key, decoding the source on a miss.
// Concurrent callers for the same unresolved key share a single decode: the
// first caller runs the pipeline while the rest wait for its outcome.
// A failed decode returns nil without populating the cache, so a later call
// with a fresh source is retried rather than poisoned.
func (tc *thumbnailCache) Get(artist, album string, source ArtworkSource) []byte {
	if source == nil {
		return nil
	}

	key := newThumbnailKey(artist, album)

	tc.lock.Lock()

	if data, ok := tc.entries[key]; ok {
		tc.lock.Unlock()
		return data
	}

	if done, ok := tc.inflight[key]; ok {
		// Someone else is decoding this key; wait for their result.
		tc.lock.Unlock()
		<-done

		tc.lock.Lock()
		data := tc.entries[key]
		tc.lock.Unlock()

		// nil means the shared decode failed. Absent, not poisoned.
		return data
	}

	done := make(chan struct{})
	tc.inflight[key] = done
	tc.lock.Unlock()

	data := tc.process(key, source)

	tc.lock.Lock()
	if data != nil {
		tc.entries[key] = data
	}
	delete(tc.inflight, key)
	tc.lock.Unlock()
	close(done)

	return data
}

// Clear drops every cached entry. Invoked once at shutdown.
func (tc *thumbnailCache) Clear() {
	tc.lock.Lock()
	defer tc.lock.Unlock()

	tc.logger.Debugw("Clearing thumbnail cache", "entries", len(tc.entries))
	tc.entries = make(map[thumbnailKey][]byte)
}

// process runs the full decode -> crop -> resize -> encode pipeline.
// Failures are silent no-ops at this layer: the artwork field simply stays
// absent and the caller may retry later.
func (tc *thumbnailCache) process(key thumbnailKey, source ArtworkSource) []byte {
	reader, err := source.Open()
	if err != nil {
		tc.logger.Debugw("Failed to open artwork source", "key", key, "error", err)
		return nil
	}
	defer reader.Close()

	img, err := imaging.Decode(reader)
	if err != nil {
		tc.logger.Debugw("Failed to decode artwork", "key", key, "error", err)
		return nil
	}

	// Largest centered square crop, then scale to the configured size.
	bounds := img.Bounds()
	cropSize := bounds.Dx()
	if bounds.Dy() < cropSize {
		cropSize = bounds.Dy()
	}

	img = imaging.CropCenter(img, cropSize, cropSize)
	img = imaging.Resize(img, tc.size, tc.size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(tc.quality)); err != nil {
		tc.logger.Debugw("Failed to encode artwork", "key", key, "error", err)
		return nil
	}

	tc.logger.Debugw("Processed artwork", "key", key, "bytes", buf.Len())

	return buf.Bytes()
}
