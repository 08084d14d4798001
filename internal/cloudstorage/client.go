// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cloudstorage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/aws/smithy-go"
)

// Client retrieves objects from remote storage.
type Client interface {
	// DownloadObject downloads bucket/key into a new file under tmpdir and
	// returns the exact path it wrote. A missing object is reported as
	// notFound with a nil error, and leaves no file behind.
	DownloadObject(ctx context.Context, tmpdir, bucket, key string) (filename string, size int64, notFound bool, err error)
}

// ClientProvider creates storage clients for a profile.
type ClientProvider interface {
	NewClient(ctx context.Context, profile Profile) (Client, error)
}

// Profile selects and configures the storage backend.
type Profile struct {
	// Provider is "aws" (also "s3" or empty), "azure" or "file".
	Provider     string
	Region       string
	Role         string
	Endpoint     string
	UsePathStyle bool
	InsecureTLS  bool
	// StorageAccount selects the Azure account when Endpoint is empty.
	StorageAccount string
	// BasePath roots the "file" provider; buckets are subdirectories.
	BasePath string
}

// ErrorCode returns the provider error code carried by err, if any.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.ErrorCode
	}
	return ""
}
