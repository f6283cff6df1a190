// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

// Package report persists per-module optimization results in an
// embedded bolt database, so they can be inspected after the run. A
// later run replaces the stored report for the same design, module and
// pass.
package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"
)

var (
	mon = monkit.Package()

	// Error is the default report errs class.
	Error = errs.Class("report error")
)

var reportsBucket = []byte("reports")

// Report is the persisted result of one pass over one module.
type Report struct {
	Design       string    `json:"design"`
	Module       string    `json:"module"`
	Pass         string    `json:"pass"`
	Muxes        int       `json:"muxes"`
	Roots        int       `json:"roots"`
	RemovedPorts int       `json:"removed_ports"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r Report) key() []byte {
	return []byte(r.Design + "/" + r.Module + "/" + r.Pass)
}

// Store is a bolt-backed report store.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) a report store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(reportsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, Error.Wrap(err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return Error.Wrap(s.db.Close())
}

// Put stores a report, replacing any previous report for the same
// design, module and pass.
func (s *Store) Put(ctx context.Context, r Report) (err error) {
	defer mon.Task()(&ctx)(&err)

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	value, err := json.Marshal(r)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(reportsBucket).Put(r.key(), value)
	}))
}

// List returns all stored reports in key order.
func (s *Store) List(ctx context.Context) (reports []Report, err error) {
	defer mon.Task()(&ctx)(&err)

	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(reportsBucket).ForEach(func(key, value []byte) error {
			var r Report
			if err := json.Unmarshal(value, &r); err != nil {
				return err
			}
			reports = append(reports, r)
			return nil
		})
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return reports, nil
}
