package cafs

import (
	"bytes"
	"context"
	"io"
	"path"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/klauspost/compress/zstd"
	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/dlogger"
	"github.com/oneconcern/tablemon/pkg/errors"
	"github.com/oneconcern/tablemon/pkg/metrics"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/oneconcern/tablemon/pkg/storage"
	storagestatus "github.com/oneconcern/tablemon/pkg/storage/status"
	"go.uber.org/zap"
)

// Cache holds the locally materialized fragments, on top of a storage backend
type Cache struct {
	metrics.Enable
	m *M

	store    storage.Store
	codec    codec
	zenc     *zstd.Encoder
	zdec     *zstd.Decoder
	l        *zap.Logger
	maxChain int

	// decoded fragments, by object ID. Fragments are immutable and shared by callers.
	fragments     *lru.Cache
	fragmentsSize int
}

// DefaultFragmentsCacheSize is the number of decoded fragments kept in memory
const DefaultFragmentsCacheSize = 256

// New fragment cache on some storage backend
func New(store storage.Store, opts ...Option) (*Cache, error) {
	c := &Cache{
		store:    store,
		l:             dlogger.MustGetLogger("info"),
		maxChain:      MaxChainLength,
		fragmentsSize: DefaultFragmentsCacheSize,
	}
	for _, apply := range opts {
		apply(c)
	}

	var err error
	if c.fragments, err = lru.New(c.fragmentsSize); err != nil {
		return nil, err
	}
	if c.codec, err = newCodec(); err != nil {
		return nil, err
	}
	if c.zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		return nil, err
	}
	if c.zdec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1)); err != nil {
		return nil, err
	}
	if c.MetricsEnabled() {
		c.m = c.EnsureMetrics("cafs", &M{}).(*M)
	}
	return c, nil
}

// Close releases the compression resources
func (c *Cache) Close() error {
	c.zdec.Close()
	return c.zenc.Close()
}

// Store returns the underlying storage backend
func (c *Cache) Store() storage.Store {
	return c.store
}

func (c *Cache) String() string {
	return "cafs@" + c.store.String()
}

// KeyFor returns the storage key of an object
func KeyFor(id string) string {
	if len(id) < 2 {
		return id
	}
	return path.Join(id[:2], id)
}

// Put encodes and stores a fragment, then returns the metadata of the new object.
//
// Putting the same content twice yields the same object.
func (c *Cache) Put(ctx context.Context, namespace string, f Fragment) (meta model.ObjectMeta, err error) {
	if c.m != nil {
		defer func(start time.Time) {
			c.m.Volume.IO.IORecord(start, "put")(meta.Size, err)
		}(time.Now())
	}

	if f.Rows, err = NormalizeRows(f.Rows); err != nil {
		return model.ObjectMeta{}, status.ErrInvalidArgument.Wrap(err)
	}
	if f.Deleted, err = NormalizeRows(f.Deleted); err != nil {
		return model.ObjectMeta{}, status.ErrInvalidArgument.Wrap(err)
	}
	if err = f.Validate(); err != nil {
		return model.ObjectMeta{}, status.ErrInvalidArgument.Wrap(err)
	}

	canonical, err := c.codec.encode(f)
	if err != nil {
		return model.ObjectMeta{}, err
	}
	id := contentID(canonical)
	compressed := c.zenc.EncodeAll(canonical, nil)

	meta = model.ObjectMeta{
		ID:        id,
		Format:    f.Format,
		Parents:   f.Parents(),
		Namespace: namespace,
		Size:      int64(len(compressed)),
	}

	has, err := c.store.Has(ctx, KeyFor(id))
	if err != nil {
		return model.ObjectMeta{}, err
	}
	if has {
		c.l.Debug("fragment already cached", zap.String("object", id))
		return meta, nil
	}

	if err = c.store.Put(ctx, KeyFor(id), bytes.NewReader(compressed), storage.OverWrite); err != nil {
		return model.ObjectMeta{}, err
	}
	if c.m != nil {
		c.m.Volume.Objects.Inc("put")
		c.m.Volume.Objects.Size(meta.Size, "put")
		c.m.Volume.Fragments.Record(f.Format, len(f.Rows), len(f.Deleted))
	}
	c.l.Debug("fragment cached",
		zap.String("object", id),
		zap.String("format", f.Format),
		zap.Int("rows", len(f.Rows)),
		zap.Int64("size", meta.Size),
	)
	return meta, nil
}

// Get a fragment from the cache.
//
// Recently used fragments are served decoded from memory. The returned fragment must not be modified.
func (c *Cache) Get(ctx context.Context, id string) (Fragment, error) {
	if cached, ok := c.fragments.Get(id); ok {
		if c.m != nil {
			c.m.Volume.Decoded.Hit("fragments")
		}
		return cached.(Fragment), nil
	}
	if c.m != nil {
		c.m.Volume.Decoded.Miss("fragments")
	}

	raw, err := storage.ReadAll(ctx, c.store, KeyFor(id))
	if err != nil {
		if errors.Is(err, storagestatus.ErrNotExists) {
			return Fragment{}, status.ErrNotFound.Wrapf("object %s is not cached locally", id)
		}
		return Fragment{}, err
	}
	f, _, err := c.decode(id, raw)
	if err != nil {
		return Fragment{}, err
	}
	c.fragments.Add(id, f)
	return f, nil
}

// decode and verify a raw object
func (c *Cache) decode(id string, raw []byte) (Fragment, []byte, error) {
	canonical, err := c.zdec.DecodeAll(raw, nil)
	if err != nil {
		return Fragment{}, nil, status.ErrIntegrityViolation.Wrapf("object %s cannot be decompressed: %v", id, err)
	}
	if got := contentID(canonical); got != id {
		return Fragment{}, nil, status.ErrIntegrityViolation.Wrapf("object %s has content hash %s", id, got)
	}
	f, err := c.codec.decode(canonical)
	if err != nil {
		return Fragment{}, nil, status.ErrIntegrityViolation.Wrapf("object %s cannot be decoded: %v", id, err)
	}
	return f, canonical, nil
}

// Has tells if an object is materialized in the local cache
func (c *Cache) Has(ctx context.Context, id string) (bool, error) {
	return c.store.Has(ctx, KeyFor(id))
}

// Keys lists all objects materialized in the local cache
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		id := path.Base(key)
		if model.IsValidHash(id) && KeyFor(id) == key {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Delete an object from the local cache
func (c *Cache) Delete(ctx context.Context, id string) error {
	c.fragments.Remove(id)
	if err := c.store.Delete(ctx, KeyFor(id)); err != nil {
		return err
	}
	if c.m != nil {
		c.m.Volume.Objects.Inc("delete")
	}
	return nil
}

// Raw returns the encoded content of an object, e.g. to upload it elsewhere
func (c *Cache) Raw(ctx context.Context, id string) (io.ReadCloser, error) {
	rdr, err := c.store.Get(ctx, KeyFor(id))
	if err != nil {
		if errors.Is(err, storagestatus.ErrNotExists) {
			return nil, status.ErrNotFound.Wrapf("object %s is not cached locally", id)
		}
		return nil, err
	}
	return rdr, nil
}

// PutRaw stores the encoded content of an object fetched from elsewhere.
//
// The content is verified against its ID before it is stored.
func (c *Cache) PutRaw(ctx context.Context, id string, rdr io.Reader) error {
	raw, err := io.ReadAll(rdr)
	if err != nil {
		return err
	}
	if _, _, err = c.decode(id, raw); err != nil {
		return err
	}
	if err = c.store.Put(ctx, KeyFor(id), bytes.NewReader(raw), storage.OverWrite); err != nil {
		return err
	}
	if c.m != nil {
		c.m.Volume.Objects.Inc("download")
		c.m.Volume.Objects.Size(int64(len(raw)), "download")
	}
	return nil
}

// Fragments loads a list of objects from the cache, in order
func (c *Cache) Fragments(ctx context.Context, ids []string) ([]Fragment, error) {
	fragments := make([]Fragment, 0, len(ids))
	for _, id := range ids {
		f, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, f)
	}
	return fragments, nil
}

// Materialize the content of a table, from the ordered list of its objects
func (c *Cache) Materialize(ctx context.Context, ids []string) (model.Schema, []Row, error) {
	fragments, err := c.Fragments(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	return c.Apply(fragments)
}
