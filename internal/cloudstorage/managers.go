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

	"github.com/cardinalhq/ordergate/internal/awsclient"
	"github.com/cardinalhq/ordergate/internal/azureclient"
)

// Providers builds clients for every supported backend. Cloud managers are
// created lazily so that a run only touches the credential chain it uses.
type Providers struct {
	AWS   *awsclient.Manager
	Azure *azureclient.Manager
}

var _ ClientProvider = (*Providers)(nil)

// NewProviders returns a ClientProvider for all supported backends.
func NewProviders() *Providers {
	return &Providers{}
}

// NewClient creates a storage Client for the given profile.
func (p *Providers) NewClient(ctx context.Context, profile Profile) (Client, error) {
	switch profile.Provider {
	case "aws", "s3", "":
		if p.AWS == nil {
			mgr, err := awsclient.NewManager(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to create AWS manager: %w", err)
			}
			p.AWS = mgr
		}
		s3c, err := p.AWS.S3ForProfile(ctx, awsclient.Profile{
			Region:       profile.Region,
			Role:         profile.Role,
			Endpoint:     profile.Endpoint,
			UsePathStyle: profile.UsePathStyle,
			InsecureTLS:  profile.InsecureTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		return &s3Client{awsS3Client: s3c}, nil
	case "azure":
		if p.Azure == nil {
			mgr, err := azureclient.NewManager(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to create Azure manager: %w", err)
			}
			p.Azure = mgr
		}
		bc, err := p.Azure.BlobForProfile(ctx, azureclient.Profile{
			StorageAccount: profile.StorageAccount,
			Endpoint:       profile.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create blob client: %w", err)
		}
		return &azureClient{blob: bc}, nil
	case "file":
		if profile.BasePath == "" {
			return nil, fmt.Errorf("file storage provider requires a base path")
		}
		return NewFileClientProvider(profile.BasePath).NewClient(ctx, profile)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", profile.Provider)
	}
}
