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

// Package cvm is a suite for testing confidential VM guests.
package cvm

import (
	"fmt"
	"strings"

	"github.com/LIS/lis-guest-tests"
)

// Name is the name of the test package. It must match the directory name.
var Name = "cvm"

// ConstCVMType selects the confidential computing technology of the guest.
const ConstCVMType = "CVM_TYPE"

// RequiredConstants must be set in the constants file of a cvm run.
var RequiredConstants = []string{ConstCVMType}

// CVM types understood by the suite.
const (
	TypeSEV = "sev"
	TypeSNP = "snp"
	TypeTDX = "tdx"
)

// Setup validates the constants of a cvm run.
func Setup(c *guesttest.Constants) error {
	if err := c.Require(RequiredConstants...); err != nil {
		return err
	}
	switch typ := strings.ToLower(c.String(ConstCVMType, "")); typ {
	case TypeSEV, TypeSNP, TypeTDX:
		return nil
	default:
		return fmt.Errorf("%s=%q, want one of %s, %s, %s", ConstCVMType, typ, TypeSEV, TypeSNP, TypeTDX)
	}
}
