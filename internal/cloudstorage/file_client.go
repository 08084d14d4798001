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
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileClientProvider serves buckets from directories under a local root.
// Local runs and tests use it in place of S3.
type FileClientProvider struct {
	root string
}

func NewFileClientProvider(root string) ClientProvider {
	return &FileClientProvider{root: root}
}

func (p *FileClientProvider) NewClient(_ context.Context, _ Profile) (Client, error) {
	return &fileClient{root: p.root}, nil
}

type fileClient struct {
	root string
}

func (c *fileClient) objectPath(bucket, key string) (string, error) {
	rel := filepath.Join(bucket, filepath.FromSlash(key))
	if !filepath.IsLocal(rel) || strings.ContainsRune(bucket, filepath.Separator) {
		return "", fmt.Errorf("object %s/%s escapes the storage root", bucket, key)
	}
	return filepath.Join(c.root, rel), nil
}

func (c *fileClient) DownloadObject(ctx context.Context, tmpdir, bucket, key string) (string, int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, false, err
	}
	src, err := c.objectPath(bucket, key)
	if err != nil {
		return "", 0, false, err
	}

	in, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return "", 0, true, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	defer func() { _ = in.Close() }()

	out, err := os.CreateTemp(tmpdir, "*-"+filepath.Base(key))
	if err != nil {
		return "", 0, false, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(out.Name())
		return "", 0, false, fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Name(), n, false, nil
}
