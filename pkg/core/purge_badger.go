package core

import (
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v3"
	badgeroptions "github.com/dgraph-io/badger/v3/options"
	"github.com/oneconcern/tablemon/pkg/errors"
)

// kvBadger provides a KV store implementation based on dgraph-io/badger/v3,
// to index the set of referenced objects
type kvBadger struct {
	*badger.DB
}

func (kv *kvBadger) Exists(key []byte) (bool, error) {
	err := kv.DB.View(func(txn *badger.Txn) error {
		_, e := txn.Get(key)

		return e
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}

		// some technical error occurred: interrupt
		return false, err
	}

	return true, nil
}

// SetIfNotExists tells if the key was actually inserted
func (kv *kvBadger) SetIfNotExists(key []byte) (bool, error) {
	var inserted bool
	err := backoff.Retry(func() error {
		inserted = false
		return kv.DB.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(key)
			if err == nil {
				return nil
			}

			if !errors.Is(err, badger.ErrKeyNotFound) {
				return backoff.Permanent(err)
			}

			err = txn.Set(key, []byte{})
			if err != nil {
				if errors.Is(err, badger.ErrConflict) {
					return err // retry
				}

				return backoff.Permanent(err)
			}
			inserted = true

			return nil
		})
	},
		backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 100),
	)

	return inserted, err
}

func makeKVBadger(options *purgeOptions) (*kvBadger, error) {
	var opts badger.Options
	if options.localStorePath == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(options.localStorePath, 0700); err != nil {
			return nil, fmt.Errorf("makeKV: mkdir: %w", err)
		}
		opts = badger.LSMOnlyOptions(options.localStorePath).
			WithCompression(badgeroptions.None) // a set of keys that are random hashes is unlikely to compress well
	}

	db, err := badger.Open(opts.WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open KV: %w", err)
	}

	//  scratch any pre-existing local index
	if err = db.DropAll(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("scratch KV: %w", err)
	}

	return &kvBadger{DB: db}, nil
}
