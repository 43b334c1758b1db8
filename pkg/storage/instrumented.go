// Copyright © 2018 One Concern

package storage

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"
)

// Instrument decorates a store with debug logs for every call
func Instrument(logger *zap.Logger, store Store) Store {
	return &instrumentedStore{
		store: store,
		l:     logger.With(zap.String("store", store.String())),
	}
}

type instrumentedStore struct {
	store Store
	l     *zap.Logger
}

func (i *instrumentedStore) done(op string, key string, start time.Time, err error) {
	fields := []zap.Field{zap.String("op", op), zap.Duration("elapsed", time.Since(start))}
	if key != "" {
		fields = append(fields, zap.String("key", key))
	}
	if err != nil {
		i.l.Debug("storage call failed", append(fields, zap.Error(err))...)
		return
	}
	i.l.Debug("storage call", fields...)
}

func (i *instrumentedStore) Has(ctx context.Context, key string) (has bool, err error) {
	defer func(start time.Time) { i.done("has", key, start, err) }(time.Now())
	return i.store.Has(ctx, key)
}

func (i *instrumentedStore) Get(ctx context.Context, key string) (rdr io.ReadCloser, err error) {
	defer func(start time.Time) { i.done("get", key, start, err) }(time.Now())
	return i.store.Get(ctx, key)
}

func (i *instrumentedStore) Put(ctx context.Context, key string, rdr io.Reader, exclusive bool) (err error) {
	defer func(start time.Time) { i.done("put", key, start, err) }(time.Now())
	return i.store.Put(ctx, key, rdr, exclusive)
}

func (i *instrumentedStore) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { i.done("delete", key, start, err) }(time.Now())
	return i.store.Delete(ctx, key)
}

func (i *instrumentedStore) Keys(ctx context.Context) (keys []string, err error) {
	defer func(start time.Time) { i.done("keys", "", start, err) }(time.Now())
	return i.store.Keys(ctx)
}

func (i *instrumentedStore) Clear(ctx context.Context) (err error) {
	defer func(start time.Time) { i.done("clear", "", start, err) }(time.Now())
	return i.store.Clear(ctx)
}

func (i *instrumentedStore) String() string {
	return i.store.String()
}
