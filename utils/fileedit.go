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
	"fmt"
	"os"
	"regexp"
	"strings"
)

// editLines rewrites path line by line, keeping its permissions. fn returns
// the replacement line and whether to keep it.
func editLines(path string, fn func(line string) (string, bool)) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	content := string(b)
	trailing := strings.HasSuffix(content, "\n")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	var out []string
	changed := 0
	for _, line := range lines {
		newLine, keep := fn(line)
		if !keep || newLine != line {
			changed++
		}
		if keep {
			out = append(out, newLine)
		}
	}
	if changed == 0 {
		return 0, nil
	}
	result := strings.Join(out, "\n")
	if trailing && len(out) > 0 {
		result += "\n"
	}
	if err := os.WriteFile(path, []byte(result), info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("could not write %s: %w", path, err)
	}
	return changed, nil
}

// RemoveMatchingLines deletes the lines of path matching pattern and returns
// how many were removed.
func RemoveMatchingLines(path, pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, err
	}
	return editLines(path, func(line string) (string, bool) {
		return line, !re.MatchString(line)
	})
}

// ReplaceMatchingLines replaces every line of path matching pattern with
// replacement and returns how many were replaced.
func ReplaceMatchingLines(path, pattern, replacement string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, err
	}
	return editLines(path, func(line string) (string, bool) {
		if re.MatchString(line) {
			return replacement, true
		}
		return line, true
	})
}

// CountMatchingLines returns how many lines of content match pattern.
func CountMatchingLines(content, pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, line := range strings.Split(content, "\n") {
		if re.MatchString(line) {
			n++
		}
	}
	return n, nil
}

// CountMatchingLinesInFile is CountMatchingLines over the content of path.
func CountMatchingLinesInFile(path, pattern string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return CountMatchingLines(string(b), pattern)
}

// AppendText appends text to path, creating it when missing, on its own
// line.
func AppendText(path, text string) error {
	b, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	if len(b) > 0 && !strings.HasSuffix(string(b), "\n") {
		text = "\n" + text
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, err = f.WriteString(text)
	return err
}
