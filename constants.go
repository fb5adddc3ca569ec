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
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"
)

const (
	// ConstantsEnv names the environment variable pointing at the constants
	// file of the current run.
	ConstantsEnv = "LISA_CONSTANTS_FILE"
	// ConstantsFileName is the default constants file name.
	ConstantsFileName = "constants.sh"
)

// ErrMissingConstants is returned when required keys are absent.
var ErrMissingConstants = errors.New("missing required constants")

// Constants are the shell variable definitions parametrizing a run.
type Constants struct {
	values map[string]string
}

// NewConstants returns a Constants holding a copy of values.
func NewConstants(values map[string]string) *Constants {
	c := &Constants{values: make(map[string]string, len(values))}
	for k, v := range values {
		c.values[k] = v
	}
	return c
}

// LoadConstants parses the constants file at path.
func LoadConstants(path string) (*Constants, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read constants file %s: %w", path, err)
	}
	c, err := ParseConstants(string(b))
	if err != nil {
		return nil, fmt.Errorf("could not parse constants file %s: %w", path, err)
	}
	return c, nil
}

// ParseConstants parses constants file content.
func ParseConstants(content string) (*Constants, error) {
	values, err := godotenv.Unmarshal(content)
	if err != nil {
		return nil, err
	}
	return &Constants{values: values}, nil
}

// ConstantsPath returns the constants file for the current process.
func ConstantsPath() string {
	if p := os.Getenv(ConstantsEnv); p != "" {
		return p
	}
	return ConstantsFileName
}

// Get returns the raw value of key and whether it is set.
func (c *Constants) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// String returns the value of key, or def when unset or empty.
func (c *Constants) String(key, def string) string {
	if v, ok := c.values[key]; ok && v != "" {
		return v
	}
	return def
}

// Int returns the value of key as an int, or def when unset.
func (c *Constants) Int(key string, def int) (int, error) {
	v, ok := c.values[key]
	if !ok || v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("constant %s=%q is not an integer: %w", key, v, err)
	}
	return i, nil
}

// Bool returns the value of key as a bool, or def when unset. Shell style
// yes/no values are accepted.
func (c *Constants) Bool(key string, def bool) (bool, error) {
	v, ok := c.values[key]
	if !ok || v == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "true", "1", "on":
		return true, nil
	case "no", "n", "false", "0", "off":
		return false, nil
	}
	return def, fmt.Errorf("constant %s=%q is not a boolean", key, v)
}

// Duration returns the value of key as a duration. Bare integers are read as
// seconds.
func (c *Constants) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := c.values[key]
	if !ok || v == "" {
		return def, nil
	}
	if s, err := strconv.Atoi(v); err == nil {
		return time.Duration(s) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("constant %s=%q is not a duration: %w", key, v, err)
	}
	return d, nil
}

// List splits the value of key on commas and whitespace.
func (c *Constants) List(key string) []string {
	return strings.FieldsFunc(c.values[key], func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// Float returns the value of key as a float64, or def when unset.
func (c *Constants) Float(key string, def float64) (float64, error) {
	v, ok := c.values[key]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def, fmt.Errorf("constant %s=%q is not a number: %w", key, v, err)
	}
	return f, nil
}

// Ints returns the List of key converted to ints, or def when unset.
func (c *Constants) Ints(key string, def []int) ([]int, error) {
	items := c.List(key)
	if len(items) == 0 {
		return def, nil
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		i, err := strconv.Atoi(item)
		if err != nil {
			return def, fmt.Errorf("constant %s: %q is not an integer: %w", key, item, err)
		}
		out = append(out, i)
	}
	return out, nil
}

// Set overrides key.
func (c *Constants) Set(key, value string) {
	c.values[key] = value
}

// Merge overrides c with every value in overrides.
func (c *Constants) Merge(overrides map[string]string) {
	for k, v := range overrides {
		c.values[k] = v
	}
}

// Keys returns the sorted set of defined keys.
func (c *Constants) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the values.
func (c *Constants) Map() map[string]string {
	m := make(map[string]string, len(c.values))
	for k, v := range c.values {
		m[k] = v
	}
	return m
}

// Require returns an error naming every key in keys that is unset or empty.
func (c *Constants) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if c.values[k] == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConstants, strings.Join(missing, ", "))
	}
	return nil
}

// Write stores the constants at path in shell-compatible form.
func (c *Constants) Write(path string) error {
	return godotenv.Write(c.values, path)
}

// GuestConstants loads the constants of the current run for a guest test.
// Tests skip when no constants file exists, which is the case everywhere
// except a prepared guest. The test fails if any of keys is missing.
func GuestConstants(t *testing.T, keys ...string) *Constants {
	t.Helper()
	path := ConstantsPath()
	if _, err := os.Stat(path); err != nil {
		t.Skipf("constants file %s not found, not running in a prepared guest", path)
	}
	c, err := LoadConstants(path)
	if err != nil {
		t.Fatalf("LoadConstants(%q) = %v, want nil", path, err)
	}
	if err := c.Require(keys...); err != nil {
		t.Fatalf("%s: %v", path, err)
	}
	return c
}
