// Copyright 2025 Google LLC.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package perf

import (
	"context"
	"errors"
	"sync"

	"github.com/LIS/lis-guest-tests"
)

// Constants read by NewPublisher.
const (
	ConstDBDriver = "PERF_DB_DRIVER"
	ConstDBDSN    = "PERF_DB_DSN"
	ConstTextfile = "PERF_TEXTFILE"
)

// Publisher sends records to the sinks configured in the constants file.
// With no sink configured, Publish only keeps the records.
type Publisher struct {
	store    *Store
	textfile string

	mu        sync.Mutex
	published []Record
}

// NewPublisher opens the sinks named in c.
func NewPublisher(ctx context.Context, c *guesttest.Constants) (*Publisher, error) {
	p := &Publisher{textfile: c.String(ConstTextfile, "")}
	driver := c.String(ConstDBDriver, "")
	if driver == "" {
		return p, nil
	}
	store, err := OpenStore(driver, c.String(ConstDBDSN, ""))
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	p.store = store
	return p, nil
}

// Publish stores records and rewrites the textfile with every record
// published so far.
func (p *Publisher) Publish(ctx context.Context, records ...Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, records...)

	var errs []error
	if p.store != nil {
		errs = append(errs, p.store.Insert(ctx, records...))
	}
	if p.textfile != "" {
		errs = append(errs, WriteTextfile(p.textfile, p.published))
	}
	return errors.Join(errs...)
}

// Published returns a copy of the records published so far.
func (p *Publisher) Published() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Record(nil), p.published...)
}

// Close closes the store, if any.
func (p *Publisher) Close() error {
	if p.store == nil {
		return nil
	}
	return p.store.Close()
}
