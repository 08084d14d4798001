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

// Package fetcher retrieves the day's orders file from remote storage and
// stages it at a deterministic local path derived from the DateKey.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/cardinalhq/ordergate/internal/cloudstorage"
	"github.com/cardinalhq/ordergate/internal/datekey"
	"github.com/cardinalhq/ordergate/internal/logctx"
	"github.com/cardinalhq/ordergate/internal/stageerr"
)

// DatePlaceholder is replaced by the DateKey in key and name templates.
const DatePlaceholder = "{date}"

const (
	DefaultKeyTemplate  = "orders/orders_" + DatePlaceholder + ".csv"
	DefaultNameTemplate = "orders_" + DatePlaceholder + ".csv"
)

type Options struct {
	Bucket       string
	KeyTemplate  string
	NameTemplate string
	StagingDir   string
}

// StagedFile is the retrieved object at its deterministic local path.
type StagedFile struct {
	Path     string
	Size     int64
	Checksum uint64 // xxhash64 of the file contents
}

type Fetcher struct {
	client cloudstorage.Client
	opts   Options
}

func New(client cloudstorage.Client, opts Options) (*Fetcher, error) {
	if opts.KeyTemplate == "" {
		opts.KeyTemplate = DefaultKeyTemplate
	}
	if opts.NameTemplate == "" {
		opts.NameTemplate = DefaultNameTemplate
	}
	if opts.Bucket == "" {
		return nil, errors.New("source bucket is required")
	}
	if opts.StagingDir == "" {
		return nil, errors.New("staging directory is required")
	}
	for _, tmpl := range []string{opts.KeyTemplate, opts.NameTemplate} {
		if !strings.Contains(tmpl, DatePlaceholder) {
			return nil, fmt.Errorf("template %q must contain %s", tmpl, DatePlaceholder)
		}
	}
	if strings.ContainsRune(opts.NameTemplate, filepath.Separator) {
		return nil, fmt.Errorf("name template %q must be a bare file name", opts.NameTemplate)
	}
	return &Fetcher{client: client, opts: opts}, nil
}

// ObjectKey returns the remote key of the file for k.
func (f *Fetcher) ObjectKey(k datekey.DateKey) string {
	return strings.ReplaceAll(f.opts.KeyTemplate, DatePlaceholder, k.String())
}

// StagedPath returns the deterministic local path of the file for k.
func (f *Fetcher) StagedPath(k datekey.DateKey) string {
	name := strings.ReplaceAll(f.opts.NameTemplate, DatePlaceholder, k.String())
	return filepath.Join(f.opts.StagingDir, name)
}

// Fetch downloads the file for k and moves it to StagedPath(k), replacing
// any stale copy. Retrieval failures leave nothing on disk.
func (f *Fetcher) Fetch(ctx context.Context, k datekey.DateKey) (*StagedFile, error) {
	ll := logctx.FromContext(ctx)
	key := f.ObjectKey(k)
	final := f.StagedPath(k)

	if err := os.MkdirAll(f.opts.StagingDir, 0o755); err != nil {
		return nil, &stageerr.StagingError{Path: final, Reason: "create staging directory", Err: err}
	}

	tmp, size, notFound, err := f.client.DownloadObject(ctx, f.opts.StagingDir, f.opts.Bucket, key)
	if err != nil {
		return nil, &stageerr.RetrievalError{
			Bucket: f.opts.Bucket,
			Key:    key,
			Code:   cloudstorage.ErrorCode(err),
			Err:    err,
		}
	}
	if notFound {
		return nil, &stageerr.RetrievalError{Bucket: f.opts.Bucket, Key: key, NotFound: true}
	}
	ll.Info("Downloaded source object", "bucket", f.opts.Bucket, "key", key, "tmpfile", tmp, "size", size)

	if tmp == "" {
		return nil, &stageerr.StagingError{Path: final, Reason: "retrieval returned no local path"}
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return nil, &stageerr.StagingError{Source: tmp, Path: final, Reason: "move downloaded file", Err: err}
	}

	fi, err := os.Stat(final)
	if err != nil {
		return nil, &stageerr.StagingError{Source: tmp, Path: final, Reason: "file missing after move", Err: err}
	}
	if !fi.Mode().IsRegular() {
		return nil, &stageerr.StagingError{Source: tmp, Path: final, Reason: "staged path is not a regular file"}
	}
	if fi.Size() == 0 {
		return nil, &stageerr.StagingError{Source: tmp, Path: final, Reason: "staged file is empty"}
	}

	sum, err := checksum(final)
	if err != nil {
		return nil, &stageerr.StagingError{Source: tmp, Path: final, Reason: "read staged file", Err: err}
	}

	staged := &StagedFile{Path: final, Size: fi.Size(), Checksum: sum}
	ll.Info("Staged source file", "path", final, "size", staged.Size, "xxhash", fmt.Sprintf("%016x", sum))
	return staged, nil
}

func checksum(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}
