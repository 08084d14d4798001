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

// Package azureclient builds Azure Blob Storage clients for reading source
// objects, one per storage account endpoint.
package azureclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type BlobClient struct {
	Client *azblob.Client
	Tracer trace.Tracer
}

// Profile names the storage account holding the source container. The
// endpoint defaults to the public cloud URL of the account.
type Profile struct {
	StorageAccount string
	Endpoint       string
}

// ServiceURL returns the blob service URL for p.
func (p Profile) ServiceURL() (string, error) {
	if p.Endpoint != "" {
		return strings.TrimSuffix(p.Endpoint, "/") + "/", nil
	}
	if p.StorageAccount == "" {
		return "", errors.New("azure storage account or endpoint is required")
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", p.StorageAccount), nil
}

type Manager struct {
	cred   azcore.TokenCredential
	tracer trace.Tracer

	mu      sync.Mutex
	clients map[string]*BlobClient
}

type ManagerOption func(*managerOptions)

type managerOptions struct {
	cred azcore.TokenCredential
}

// WithCredential uses cred instead of the default Azure credential chain.
func WithCredential(cred azcore.TokenCredential) ManagerOption {
	return func(o *managerOptions) { o.cred = cred }
}

func NewManager(_ context.Context, opts ...ManagerOption) (*Manager, error) {
	var mo managerOptions
	for _, o := range opts {
		o(&mo)
	}
	if mo.cred == nil {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("loading Azure credentials: %w", err)
		}
		mo.cred = cred
	}
	return &Manager{
		cred:    mo.cred,
		tracer:  otel.Tracer("github.com/cardinalhq/ordergate/internal/azureclient"),
		clients: make(map[string]*BlobClient),
	}, nil
}

// BlobForProfile returns the client for p's service URL, creating it on
// first use.
func (m *Manager) BlobForProfile(_ context.Context, p Profile) (*BlobClient, error) {
	url, err := p.ServiceURL()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[url]; ok {
		return c, nil
	}
	client, err := azblob.NewClient(url, m.cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	c := &BlobClient{Client: client, Tracer: m.tracer}
	m.clients[url] = c
	return c, nil
}
