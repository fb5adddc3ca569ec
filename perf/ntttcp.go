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
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// NtttcpRole selects the receiver (-r) or sender (-s) side.
type NtttcpRole string

const (
	NtttcpReceiver NtttcpRole = "receiver"
	NtttcpSender   NtttcpRole = "sender"
)

// NtttcpReady is printed by the receiver once it listens.
const NtttcpReady = "threads created"

// NtttcpOptions configures one side of an ntttcp run.
type NtttcpOptions struct {
	ServerIP string
	// Ports is the number of receiver ports, -P.
	Ports int
	// ThreadsPerPort is the number of sender threads per port, -n.
	ThreadsPerPort int
	Duration       time.Duration
	Warmup         time.Duration
	Cooldown       time.Duration
	// BufferKB is the buffer size in KiB, -b.
	BufferKB int
	// NIC is reported with --show-nic-packets.
	NIC string
	UDP bool
	// DevInterrupts is the /proc/interrupts differentiator.
	DevInterrupts string
}

// DefaultDevInterrupts matches the Hyper-V vmbus interrupts.
const DefaultDevInterrupts = "Hypervisor callback interrupts"

// NtttcpArgs returns the ntttcp arguments for role.
func NtttcpArgs(role NtttcpRole, o NtttcpOptions) []string {
	var args []string
	if role == NtttcpReceiver {
		args = append(args, "-r"+o.ServerIP)
	} else {
		args = append(args, "-s"+o.ServerIP)
	}
	if o.Ports > 0 {
		args = append(args, "-P", strconv.Itoa(o.Ports))
	}
	if role == NtttcpSender && o.ThreadsPerPort > 0 {
		args = append(args, "-n", strconv.Itoa(o.ThreadsPerPort))
	}
	if o.Duration > 0 {
		args = append(args, "-t", strconv.Itoa(int(o.Duration.Seconds())))
	}
	args = append(args,
		"-W", strconv.Itoa(int(o.Warmup.Seconds())),
		"-C", strconv.Itoa(int(o.Cooldown.Seconds())),
	)
	if o.BufferKB > 0 {
		args = append(args, "-b", strconv.Itoa(o.BufferKB)+"k")
	}
	if o.NIC != "" {
		args = append(args, "--show-nic-packets", o.NIC)
	}
	if o.UDP {
		args = append(args, "-u")
	}
	if role == NtttcpReceiver {
		args = append(args, "-e")
	}
	if o.DevInterrupts != "" {
		args = append(args, "--show-dev-interrupts", o.DevInterrupts)
	}
	return args
}

var (
	ntttcpConnectionsRe = regexp.MustCompile(`connections created in ([\d.]+) microseconds`)
	ntttcpThroughputRe  = regexp.MustCompile(`throughput\s*:\s*([\d.]+)\s*(Mbps|Gbps)`)
	ntttcpRetransRe     = regexp.MustCompile(`retrans segs\s*:\s*([\d.]+)`)
	ntttcpTxRe          = regexp.MustCompile(`tx_packets\s*:\s*([\d.]+)`)
	ntttcpRxRe          = regexp.MustCompile(`rx_packets\s*:\s*([\d.]+)`)
	ntttcpPktsIntrRe    = regexp.MustCompile(`pkts/interrupt\s*:\s*([\d.]+)`)
	ntttcpCyclesRe      = regexp.MustCompile(`cycles/byte\s*:\s*([\d.]+)`)
)

// NtttcpResult holds the totals of one side of an ntttcp run.
type NtttcpResult struct {
	ConnectionsCreatedUsec float64
	ThroughputGbps         float64
	RetransSegs            float64
	TxPackets              float64
	RxPackets              float64
	PktsPerInterrupt       float64
	CyclesPerByte          float64
}

func findFloat(re *regexp.Regexp, s string) (float64, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	return v, err == nil
}

// ParseNtttcp parses the text report of ntttcp. Throughput is normalized to
// Gbps.
func ParseNtttcp(out string) (NtttcpResult, error) {
	var r NtttcpResult
	r.ConnectionsCreatedUsec, _ = findFloat(ntttcpConnectionsRe, out)

	_, totals, ok := strings.Cut(out, "Totals:")
	if !ok {
		return r, errors.New("ntttcp: no totals in output")
	}
	m := ntttcpThroughputRe.FindStringSubmatch(totals)
	if m == nil {
		return r, errors.New("ntttcp: no throughput in totals")
	}
	tp, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return r, fmt.Errorf("ntttcp: bad throughput %q: %w", m[1], err)
	}
	if m[2] == "Mbps" {
		tp /= 1000
	}
	r.ThroughputGbps = tp

	var found bool
	if r.CyclesPerByte, found = findFloat(ntttcpCyclesRe, totals); !found {
		return r, errors.New("ntttcp: no cycles/byte in totals")
	}
	r.RetransSegs, _ = findFloat(ntttcpRetransRe, totals)
	r.TxPackets, _ = findFloat(ntttcpTxRe, totals)
	r.RxPackets, _ = findFloat(ntttcpRxRe, totals)
	r.PktsPerInterrupt, _ = findFloat(ntttcpPktsIntrRe, totals)
	return r, nil
}

// NtttcpRecords combines the sender and receiver reports of one run into
// perf records, the way LISA reports them: throughput and tx from the sender,
// rx from the receiver and cycles/byte from both. UDP runs report the
// throughput of both sides and the data loss between them instead of a
// single throughput.
func NtttcpRecords(m Meta, sender, receiver NtttcpResult, udp bool) []Record {
	protocol := "TCP"
	if udp {
		protocol = "UDP"
	}
	m = m.With(m.TestCaseName, ToolNtttcp, protocol)
	var recs []Record
	if udp {
		recs = append(recs,
			m.Record("tx_throughput_in_gbps", sender.ThroughputGbps, "Gbps", HigherIsBetter),
			m.Record("rx_throughput_in_gbps", receiver.ThroughputGbps, "Gbps", HigherIsBetter),
		)
		if sender.ThroughputGbps > 0 {
			loss := 100 * (sender.ThroughputGbps - receiver.ThroughputGbps) / sender.ThroughputGbps
			recs = append(recs, m.Record("data_loss", loss, "%", LowerIsBetter))
		}
	} else {
		recs = append(recs, m.Record("throughput_in_gbps", sender.ThroughputGbps, "Gbps", HigherIsBetter))
	}
	recs = append(recs,
		m.Record("connections_created_time", sender.ConnectionsCreatedUsec, "us", LowerIsBetter),
		m.Record("tx_packets", sender.TxPackets, "count", RelativityNA),
		m.Record("rx_packets", receiver.RxPackets, "count", RelativityNA),
		m.Record("sender_cycles_per_byte", sender.CyclesPerByte, "cycles/byte", LowerIsBetter),
		m.Record("receiver_cycles_per_byte", receiver.CyclesPerByte, "cycles/byte", LowerIsBetter),
	)
	if !udp {
		recs = append(recs,
			m.Record("retrans_segments", sender.RetransSegs, "count", LowerIsBetter),
			m.Record("pkts_interrupts", sender.PktsPerInterrupt, "count", HigherIsBetter),
		)
	}
	return recs
}
