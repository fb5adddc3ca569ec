// Copyright 2024 Google LLC.
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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	// imdsAPIVersion is the instance metadata service API version queried.
	imdsAPIVersion = "2021-02-01"
	// httpTimeout is the timeout for HTTP requests.
	httpTimeout = time.Second * 30
)

var (
	// metadataURLPrefix is the base URL for the instance metadata service.
	// It is a variable so tests can point it at a local server.
	metadataURLPrefix = "http://169.254.169.254/metadata/"

	// ErrMDSEntryNotFound is an error used to report 404 status code.
	ErrMDSEntryNotFound = errors.New("No metadata entry found: 404 error")
)

// InstanceInfo is the subset of the compute metadata the tests use.
type InstanceInfo struct {
	Name           string `json:"name"`
	Location       string `json:"location"`
	VMSize         string `json:"vmSize"`
	VMID           string `json:"vmId"`
	OSType         string `json:"osType"`
	ResourceGroup  string `json:"resourceGroupName"`
	SubscriptionID string `json:"subscriptionId"`
	Offer          string `json:"offer"`
	Publisher      string `json:"publisher"`
	Sku            string `json:"sku"`
	Version        string `json:"version"`
	SecurityProfile struct {
		SecureBootEnabled string `json:"secureBootEnabled"`
		VirtualTpmEnabled string `json:"virtualTpmEnabled"`
	} `json:"securityProfile"`
}

// GetMetadata does a HTTP Get request to the instance metadata service, the
// entry of interest is provided by elem as the elements of the entry path.
// The following example reads the VM size as text:
//
// size, err := GetMetadata(ctx, "instance", "compute", "vmSize")
// ...
func GetMetadata(ctx context.Context, elem ...string) (string, error) {
	path, err := metadataURL("text", elem...)
	if err != nil {
		return "", err
	}
	body, _, err := doHTTPGet(ctx, path)
	return body, err
}

// GetMetadataJSON returns the JSON document of a metadata entry. Non leaf
// entries such as "instance" are only served as JSON.
func GetMetadataJSON(ctx context.Context, elem ...string) (string, error) {
	path, err := metadataURL("json", elem...)
	if err != nil {
		return "", err
	}
	body, _, err := doHTTPGet(ctx, path)
	return body, err
}

// GetInstanceInfo returns the compute section of the instance metadata.
func GetInstanceInfo(ctx context.Context) (InstanceInfo, error) {
	var info InstanceInfo
	path, err := metadataURL("json", "instance", "compute")
	if err != nil {
		return info, err
	}
	body, _, err := doHTTPGet(ctx, path)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal([]byte(body), &info); err != nil {
		return info, fmt.Errorf("failed to decode instance metadata: %v", err)
	}
	return info, nil
}

func metadataURL(format string, elem ...string) (string, error) {
	path, err := url.JoinPath(metadataURLPrefix, elem...)
	if err != nil {
		return "", fmt.Errorf("failed to parse metadata url: %+s", err)
	}
	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse metadata url: %+s", err)
	}
	q := u.Query()
	q.Set("api-version", imdsAPIVersion)
	q.Set("format", format)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func doHTTPRequest(req *http.Request) (*http.Response, error) {
	client := &http.Client{Timeout: httpTimeout}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to do the http request: %+v", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrMDSEntryNotFound
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("http response code is %v", resp.StatusCode)
	}

	return resp, nil
}

func doHTTPGet(ctx context.Context, path string) (string, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create a http request with context: %+v", err)
	}
	req.Header.Add("Metadata", "true")

	httpGet := func() (string, http.Header, error) {
		resp, err := doHTTPRequest(req)
		if err != nil {
			return "", nil, err
		}
		defer resp.Body.Close()

		val, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read http request body: %+v", err)
		}

		return string(val), resp.Header, nil
	}

	var resp string
	var header http.Header
	var getErr error

	for i := 1; i <= 5; i++ {
		if resp, header, getErr = httpGet(); getErr == nil || errors.Is(getErr, ErrMDSEntryNotFound) {
			break
		}
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-time.After(time.Duration(i) * time.Second):
		}
	}

	return resp, header, getErr
}
