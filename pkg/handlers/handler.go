package handlers

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/oneconcern/tablemon/pkg/cafs"
	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/dlogger"
	"github.com/oneconcern/tablemon/pkg/metrics"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/oneconcern/tablemon/pkg/storage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// Handler moves object data to and from some location outside the local store
type Handler interface {
	// Name of the handler, as recorded in object locations
	Name() string

	// UploadObjects uploads locally cached objects, and returns one location per object, in the same order
	UploadObjects(context.Context, []string) ([]string, error)

	// DownloadObjects fetches objects from their locations into the local cache
	DownloadObjects(context.Context, []model.ObjectLocation) error
}

// M describes metrics for external handlers
type M struct {
	Transfers struct {
		Objects metrics.ObjectsMetrics `group:"objects" description:"objects transferred by external handlers"`
		IO      metrics.IOMetrics      `group:"io" description:"transfers by external handlers"`
	} `group:"transfers" description:"data transfers to and from external locations"`
}

// storeHandler transfers objects to a storage backend
type storeHandler struct {
	metrics.Enable
	m *M

	name        string
	base        string
	target      storage.Store
	cache       *cafs.Cache
	concurrency int
	l           *zap.Logger
}

// NewStoreHandler builds a handler which copies objects to and from a storage backend.
//
// Locations of objects are built as base/key.
func NewStoreHandler(name, base string, target storage.Store, cache *cafs.Cache, opts ...Option) Handler {
	h := &storeHandler{
		name:        name,
		base:        strings.TrimSuffix(base, "/"),
		target:      target,
		cache:       cache,
		concurrency: defaultConcurrency,
		l:           dlogger.MustGetLogger("info"),
	}
	for _, apply := range opts {
		apply(h)
	}
	if h.MetricsEnabled() {
		h.m = h.EnsureMetrics("handlers", &M{}).(*M)
	}
	return h
}

func (h *storeHandler) Name() string {
	return h.name
}

func (h *storeHandler) String() string {
	return h.name + "@" + h.target.String()
}

func (h *storeHandler) location(id string) string {
	return h.base + "/" + cafs.KeyFor(id)
}

func (h *storeHandler) key(location string) (string, error) {
	key := strings.TrimPrefix(location, h.base+"/")
	if key == location || key == "" {
		return "", status.ErrTransferFailure.Wrapf("location %q is not served by handler %s", location, h)
	}
	return key, nil
}

func (h *storeHandler) UploadObjects(ctx context.Context, ids []string) ([]string, error) {
	locations := make([]string, len(ids))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(h.concurrency)
	for i := range ids {
		i, id := i, ids[i]
		group.Go(func() error {
			loc, err := h.upload(gctx, id)
			if err != nil {
				return status.ErrTransferFailure.Wrapf("uploading object %s with handler %s: %v", id, h, err)
			}
			locations[i] = loc
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	h.l.Info("objects uploaded", zap.String("handler", h.name), zap.Int("objects", len(ids)))
	return locations, nil
}

func (h *storeHandler) upload(ctx context.Context, id string) (loc string, err error) {
	var size int64
	if h.m != nil {
		defer func(start time.Time) {
			h.m.Transfers.IO.IORecord(start, "upload")(size, err)
		}(time.Now())
	}

	loc = h.location(id)
	key, err := h.key(loc)
	if err != nil {
		return "", err
	}
	has, err := h.target.Has(ctx, key)
	if err != nil {
		return "", err
	}
	if has {
		h.l.Debug("object already uploaded", zap.String("object", id), zap.String("location", loc))
		return loc, nil
	}

	rdr, err := h.cache.Raw(ctx, id)
	if err != nil {
		return "", err
	}
	counter := &countingReader{r: rdr}
	err = h.target.Put(ctx, key, counter, storage.OverWrite)
	err = multierr.Append(err, rdr.Close())
	if err != nil {
		return "", err
	}
	size = counter.n
	if h.m != nil {
		h.m.Transfers.Objects.Inc("upload")
		h.m.Transfers.Objects.Size(size, "upload")
	}
	return loc, nil
}

func (h *storeHandler) DownloadObjects(ctx context.Context, locations []model.ObjectLocation) error {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(h.concurrency)
	for _, toPin := range locations {
		loc := toPin
		group.Go(func() error {
			if err := h.download(gctx, loc); err != nil {
				return status.ErrTransferFailure.Wrapf("downloading object %s from %q with handler %s: %v", loc.ObjectID, loc.Location, h, err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	h.l.Info("objects downloaded", zap.String("handler", h.name), zap.Int("objects", len(locations)))
	return nil
}

func (h *storeHandler) download(ctx context.Context, loc model.ObjectLocation) (err error) {
	if h.m != nil {
		defer func(start time.Time) {
			h.m.Transfers.IO.IORecord(start, "download")(0, err)
		}(time.Now())
	}

	key, err := h.key(loc.Location)
	if err != nil {
		return err
	}
	rdr, err := h.target.Get(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, rdr.Close())
	}()
	if err = h.cache.PutRaw(ctx, loc.ObjectID, rdr); err != nil {
		return err
	}
	if h.m != nil {
		h.m.Transfers.Objects.Inc("download")
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
