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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/LIS/lis-guest-tests"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testRecords() []Record {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := Meta{
		RunID:         "0b5e9d8c-2a57-4f7e-9a53-6f0c1d2e3f40",
		Platform:      "Azure",
		Location:      "westus2",
		VMSize:        "Standard_D8s_v5",
		DistroVersion: "ubuntu 22.04",
		KernelVersion: "6.5.0-1025-azure",
	}
	tcp := m.With("iperf3_tcp_1", ToolIperf3, "TCP")
	lat := m.With("lagscope", ToolLagscope, "TCP")
	recs := []Record{
		tcp.Record("throughput_in_gbps", 9.5, "Gbps", HigherIsBetter),
		tcp.Record("retransmitted_segments", 42, "count", LowerIsBetter),
		lat.Record("average_latency_us", 294.313, "us", LowerIsBetter),
	}
	for i := range recs {
		recs[i].CreatedAt = created
	}
	return recs
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(DriverSQLite, filepath.Join(t.TempDir(), "perf.db"))
	if err != nil {
		t.Fatalf("OpenStore() err = %v", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() err = %v", err)
	}
	// Idempotent.
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() second call err = %v", err)
	}
	recs := testRecords()
	if err := store.Insert(ctx, recs...); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}
	got, err := store.Query(ctx, "iperf3_tcp_1")
	if err != nil {
		t.Fatalf("Query() err = %v", err)
	}
	if diff := cmp.Diff(recs[:2], got); diff != "" {
		t.Errorf("Query() returned diff (-want +got):\n%s", diff)
	}
	got, err = store.Query(ctx, "missing")
	if err != nil || len(got) != 0 {
		t.Errorf("Query(missing) = %v, %v; want no records", got, err)
	}
}

func TestOpenStoreUnsupported(t *testing.T) {
	if _, err := OpenStore("postgres", "host=localhost"); err == nil {
		t.Errorf("OpenStore(postgres) err = nil")
	}
}

func TestWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lisa.prom")
	if err := WriteTextfile(path, testRecords()); err != nil {
		t.Fatalf("WriteTextfile() err = %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"throughput_in_gbps":     "9.5",
		"retransmitted_segments": "42",
		"average_latency_us":     "294.313",
	}
	got := map[string]string{}
	for _, line := range strings.Split(string(b), "\n") {
		if !strings.HasPrefix(line, MetricName+"{") {
			continue
		}
		for metric := range want {
			if strings.Contains(line, `metric="`+metric+`"`) {
				got[metric] = line[strings.LastIndex(line, " ")+1:]
			}
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("WriteTextfile() samples diff (-want +got):\n%s\nfile:\n%s", diff, b)
	}
	if !strings.Contains(string(b), "# TYPE "+MetricName+" gauge") {
		t.Errorf("WriteTextfile() output has no gauge TYPE line:\n%s", b)
	}
}

func TestTable(t *testing.T) {
	out := Table(testRecords())
	for _, want := range []string{"iperf3_tcp_1", "throughput_in_gbps", "9.5", "294.313", "Gbps"} {
		if !strings.Contains(out, want) {
			t.Errorf("Table() output missing %q:\n%s", want, out)
		}
	}
}

func TestPublisher(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	textfile := filepath.Join(dir, "lisa.prom")
	c := guesttest.NewConstants(map[string]string{
		ConstDBDriver: DriverSQLite,
		ConstDBDSN:    filepath.Join(dir, "perf.db"),
		ConstTextfile: textfile,
	})
	p, err := NewPublisher(ctx, c)
	if err != nil {
		t.Fatalf("NewPublisher() err = %v", err)
	}
	defer p.Close()
	recs := testRecords()
	if err := p.Publish(ctx, recs[:2]...); err != nil {
		t.Fatalf("Publish() err = %v", err)
	}
	if err := p.Publish(ctx, recs[2]); err != nil {
		t.Fatalf("Publish() err = %v", err)
	}
	if n := len(p.Published()); n != 3 {
		t.Errorf("Published() returned %d records, want 3", n)
	}
	b, err := os.ReadFile(textfile)
	if err != nil {
		t.Fatal(err)
	}
	// The textfile holds every record, not only the last batch.
	if !strings.Contains(string(b), `metric="throughput_in_gbps"`) || !strings.Contains(string(b), `metric="average_latency_us"`) {
		t.Errorf("textfile does not hold all published records:\n%s", b)
	}
	stored, err := p.store.Query(ctx, "lagscope")
	if err != nil || len(stored) != 1 {
		t.Errorf("store Query(lagscope) = %v, %v; want 1 record", stored, err)
	}
}

func TestPublisherNoSinks(t *testing.T) {
	p, err := NewPublisher(context.Background(), guesttest.NewConstants(nil))
	if err != nil {
		t.Fatalf("NewPublisher() err = %v", err)
	}
	if err := p.Publish(context.Background(), testRecords()...); err != nil {
		t.Errorf("Publish() with no sinks err = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() err = %v", err)
	}
}
