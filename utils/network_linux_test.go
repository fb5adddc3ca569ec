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

package utils

import (
	"errors"
	"slices"
	"testing"

	"github.com/vishvananda/netlink"
)

// fakeLinkOps keeps links in memory and fails the operation named in fail.
type fakeLinkOps struct {
	links   map[string]netlink.Link
	fail    string
	deleted []string
}

func newFakeLinkOps(fail string, names ...string) *fakeLinkOps {
	f := &fakeLinkOps{links: map[string]netlink.Link{}, fail: fail}
	for i, n := range names {
		f.links[n] = &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Name: n, Index: i + 2}}
	}
	return f
}

func (f *fakeLinkOps) err(op string) error {
	if f.fail == op {
		return errors.New(op + " failed")
	}
	return nil
}

func (f *fakeLinkOps) LinkByName(name string) (netlink.Link, error) {
	if l, ok := f.links[name]; ok {
		return l, nil
	}
	return nil, errors.New("link not found")
}

func (f *fakeLinkOps) LinkAdd(link netlink.Link) error {
	if err := f.err("LinkAdd"); err != nil {
		return err
	}
	f.links[link.Attrs().Name] = link
	return nil
}

func (f *fakeLinkOps) LinkDel(link netlink.Link) error {
	delete(f.links, link.Attrs().Name)
	f.deleted = append(f.deleted, link.Attrs().Name)
	return nil
}

func (f *fakeLinkOps) LinkSetUp(link netlink.Link) error {
	if link.Attrs().Name != "eth0" {
		return f.err("LinkSetUp")
	}
	return nil
}

func (f *fakeLinkOps) LinkSetMaster(link, master netlink.Link) error {
	return f.err("LinkSetMaster")
}

func (f *fakeLinkOps) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	return f.err("AddrAdd")
}

func TestCreateVlanRollback(t *testing.T) {
	tests := []struct {
		fail        string
		wantDeleted []string
		wantLinks   []string
	}{
		{fail: "", wantLinks: []string{"eth0", "eth0.10"}},
		{fail: "LinkAdd", wantLinks: []string{"eth0"}},
		{fail: "AddrAdd", wantDeleted: []string{"eth0.10"}, wantLinks: []string{"eth0"}},
		{fail: "LinkSetUp", wantDeleted: []string{"eth0.10"}, wantLinks: []string{"eth0"}},
	}
	for _, tc := range tests {
		t.Run("fail_"+tc.fail, func(t *testing.T) {
			ops := newFakeLinkOps(tc.fail, "eth0")
			name, err := createVlan(ops, "eth0", 10, "10.0.10.4", "255.255.255.0")
			if (err != nil) != (tc.fail != "") {
				t.Fatalf("createVlan() = %q, %v, want error %v", name, err, tc.fail != "")
			}
			if !slices.Equal(ops.deleted, tc.wantDeleted) {
				t.Errorf("createVlan() deleted %q, want %q", ops.deleted, tc.wantDeleted)
			}
			var links []string
			for n := range ops.links {
				links = append(links, n)
			}
			slices.Sort(links)
			if !slices.Equal(links, tc.wantLinks) {
				t.Errorf("links after createVlan() = %q, want %q", links, tc.wantLinks)
			}
		})
	}
}

func TestCreateVlanInvalid(t *testing.T) {
	ops := newFakeLinkOps("", "eth0")
	if _, err := createVlan(ops, "eth0", MaxVlanID+1, "10.0.10.4", "24"); err == nil {
		t.Errorf("createVlan(id %d) = nil, want error", MaxVlanID+1)
	}
	if _, err := createVlan(ops, "eth9", 10, "10.0.10.4", "24"); err == nil {
		t.Errorf("createVlan(missing parent) = nil, want error")
	}
	if len(ops.deleted) != 0 || len(ops.links) != 1 {
		t.Errorf("createVlan() with invalid input touched links: deleted %q, links %d", ops.deleted, len(ops.links))
	}
}

func TestSetupBridgeRollback(t *testing.T) {
	tests := []struct {
		fail       string
		members    []string
		wantBridge bool
	}{
		{fail: "", members: []string{"eth1"}, wantBridge: true},
		{fail: "LinkSetMaster", members: []string{"eth1"}},
		{fail: "AddrAdd", members: []string{"eth1"}},
		{fail: "LinkSetUp", members: []string{"eth1"}},
		{fail: "", members: []string{"eth9"}},
	}
	for _, tc := range tests {
		t.Run("fail_"+tc.fail+"_"+tc.members[0], func(t *testing.T) {
			ops := newFakeLinkOps(tc.fail, "eth0", "eth1")
			err := setupBridge(ops, "lisbr0", "10.0.2.4", "24", tc.members...)
			if (err != nil) == tc.wantBridge {
				t.Fatalf("setupBridge() = %v, want error %v", err, !tc.wantBridge)
			}
			_, exists := ops.links["lisbr0"]
			if exists != tc.wantBridge {
				t.Errorf("bridge exists after setupBridge() = %v, want %v", exists, tc.wantBridge)
			}
			if !tc.wantBridge && !slices.Equal(ops.deleted, []string{"lisbr0"}) {
				t.Errorf("setupBridge() deleted %q, want [lisbr0]", ops.deleted)
			}
		})
	}
}
