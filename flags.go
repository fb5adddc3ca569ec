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

package guesttest

import (
	"fmt"
	"sort"
	"strings"
)

// KeyValueFlag collects repeated KEY=value command line arguments.
type KeyValueFlag map[string]string

// String implements flag.Value.
func (f KeyValueFlag) String() string {
	var pairs []string
	for k, v := range f {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

// Set implements flag.Value.
func (f KeyValueFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return fmt.Errorf("%q is not in KEY=value form", s)
	}
	f[k] = v
	return nil
}
