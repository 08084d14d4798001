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

package fetcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/ordergate/internal/cloudstorage"
	"github.com/cardinalhq/ordergate/internal/stageerr"
)

const key = "20250701"

func newFileFetcher(t *testing.T) (*Fetcher, string, string) {
	t.Helper()
	base := t.TempDir()
	staging := filepath.Join(t.TempDir(), "staging")
	client, err := cloudstorage.NewFileClientProvider(base).NewClient(context.Background(), cloudstorage.Profile{})
	require.NoError(t, err)
	f, err := New(client, Options{Bucket: "sales-data", StagingDir: staging})
	require.NoError(t, err)
	return f, base, staging
}

func putObject(t *testing.T, base, objectKey, content string) {
	t.Helper()
	p := filepath.Join(base, "sales-data", filepath.FromSlash(objectKey))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestObjectKeyAndStagedPath(t *testing.T) {
	f, _, staging := newFileFetcher(t)
	assert.Equal(t, "orders/orders_20250701.csv", f.ObjectKey(key))
	assert.Equal(t, filepath.Join(staging, "orders_20250701.csv"), f.StagedPath(key))
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(nil, Options{StagingDir: "/tmp"})
	assert.Error(t, err)
	_, err = New(nil, Options{Bucket: "b"})
	assert.Error(t, err)
	_, err = New(nil, Options{Bucket: "b", StagingDir: "/tmp", KeyTemplate: "orders/today.csv"})
	assert.Error(t, err)
	_, err = New(nil, Options{Bucket: "b", StagingDir: "/tmp", NameTemplate: "sub/orders_{date}.csv"})
	assert.Error(t, err)
}

func TestFetchStagesFile(t *testing.T) {
	f, base, staging := newFileFetcher(t)
	putObject(t, base, "orders/orders_20250701.csv", "order_id\nO1\n")

	staged, err := f.Fetch(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(staging, "orders_20250701.csv"), staged.Path)
	assert.Equal(t, int64(12), staged.Size)
	assert.Equal(t, xxhash.Sum64String("order_id\nO1\n"), staged.Checksum)

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp download must be renamed, not copied")
	assert.Equal(t, "orders_20250701.csv", entries[0].Name())
}

func TestFetchReplacesStaleStagedFile(t *testing.T) {
	f, base, staging := newFileFetcher(t)
	require.NoError(t, os.MkdirAll(staging, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "orders_20250701.csv"), []byte("stale"), 0o644))
	putObject(t, base, "orders/orders_20250701.csv", "fresh contents\n")

	staged, err := f.Fetch(context.Background(), key)
	require.NoError(t, err)
	b, err := os.ReadFile(staged.Path)
	require.NoError(t, err)
	assert.Equal(t, "fresh contents\n", string(b))
}

func TestFetchMissingObject(t *testing.T) {
	f, _, staging := newFileFetcher(t)

	_, err := f.Fetch(context.Background(), key)
	var re *stageerr.RetrievalError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.NotFound)
	assert.Equal(t, "sales-data", re.Bucket)
	assert.Equal(t, "orders/orders_20250701.csv", re.Key)

	_, statErr := os.Stat(f.StagedPath(key))
	assert.True(t, os.IsNotExist(statErr))
	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchEmptyObject(t *testing.T) {
	f, base, _ := newFileFetcher(t)
	putObject(t, base, "orders/orders_20250701.csv", "")

	_, err := f.Fetch(context.Background(), key)
	var se *stageerr.StagingError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "staged file is empty", se.Reason)
}

type stubClient struct {
	path     string
	notFound bool
	err      error
}

func (s stubClient) DownloadObject(context.Context, string, string, string) (string, int64, bool, error) {
	return s.path, 0, s.notFound, s.err
}

func TestFetchRetrievalFailure(t *testing.T) {
	f, err := New(stubClient{err: os.ErrPermission}, Options{Bucket: "sales-data", StagingDir: t.TempDir()})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), key)
	var re *stageerr.RetrievalError
	require.ErrorAs(t, err, &re)
	assert.False(t, re.NotFound)
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestFetchMoveFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "vanished.csv")
	f, err := New(stubClient{path: missing}, Options{Bucket: "sales-data", StagingDir: t.TempDir()})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), key)
	var se *stageerr.StagingError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "move downloaded file", se.Reason)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFetchNoLocalPath(t *testing.T) {
	f, err := New(stubClient{}, Options{Bucket: "sales-data", StagingDir: t.TempDir()})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), key)
	var se *stageerr.StagingError
	require.ErrorAs(t, err, &se)
}
