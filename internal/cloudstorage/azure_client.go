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
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/ordergate/internal/azureclient"
)

// azureClient reads blobs; the bucket is the container name.
type azureClient struct {
	blob *azureclient.BlobClient
}

func (c *azureClient) DownloadObject(ctx context.Context, tmpdir, container, blobName string) (string, int64, bool, error) {
	ctx, span := c.blob.Tracer.Start(ctx, "cloudstorage.downloadBlob",
		trace.WithAttributes(
			attribute.String("container", container),
			attribute.String("blob", blobName),
		),
	)
	defer span.End()

	resp, err := c.blob.Client.DownloadStream(ctx, container, blobName, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			downloadErrors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("bucket", container),
				attribute.String("reason", "not_found"),
			))
			return "", 0, true, nil
		}
		downloadErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("bucket", container),
			attribute.String("reason", "unknown"),
		))
		return "", 0, false, fmt.Errorf("download blob %s/%s: %w", container, blobName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	f, err := os.CreateTemp(tmpdir, "*-"+filepath.Base(blobName))
	if err != nil {
		return "", 0, false, fmt.Errorf("create temp file: %w", err)
	}
	size, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		downloadErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("bucket", container),
			attribute.String("reason", "copy_failed"),
		))
		return "", 0, false, fmt.Errorf("copy blob %s/%s: %w", container, blobName, err)
	}

	downloadCount.Add(ctx, 1, metric.WithAttributes(attribute.String("bucket", container)))
	downloadBytes.Add(ctx, size, metric.WithAttributes(attribute.String("bucket", container)))
	return f.Name(), size, false, nil
}
