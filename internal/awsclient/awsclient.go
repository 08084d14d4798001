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

// Package awsclient builds S3 clients for reading source objects, one per
// storage profile, sharing assumed-role credentials across profiles.
package awsclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultSessionName = "ordergate"

type S3Client struct {
	Client *s3.Client
	Tracer trace.Tracer
}

// Profile describes how to reach the bucket holding the source files.
// An empty Region uses the region of the default AWS config chain.
type Profile struct {
	Region       string
	Role         string
	Endpoint     string
	UsePathStyle bool
	InsecureTLS  bool
}

type credKey struct {
	region string
	role   string
}

// Manager owns the base AWS config and caches credentials and clients.
type Manager struct {
	base        aws.Config
	sts         *sts.Client
	sessionName string
	tracer      trace.Tracer

	mu      sync.Mutex
	creds   map[credKey]aws.CredentialsProvider
	clients map[Profile]*S3Client
}

type ManagerOption func(*managerOptions)

type managerOptions struct {
	sessionName string
	cfg         *aws.Config
}

// WithAssumeRoleSessionName sets the session name used when assuming a
// profile's role.
func WithAssumeRoleSessionName(name string) ManagerOption {
	return func(o *managerOptions) { o.sessionName = name }
}

// WithConfig uses cfg instead of loading the default AWS config chain.
func WithConfig(cfg aws.Config) ManagerOption {
	return func(o *managerOptions) { o.cfg = &cfg }
}

func NewManager(ctx context.Context, opts ...ManagerOption) (*Manager, error) {
	mo := managerOptions{sessionName: defaultSessionName}
	for _, o := range opts {
		o(&mo)
	}

	var cfg aws.Config
	if mo.cfg != nil {
		cfg = mo.cfg.Copy()
	} else {
		var err error
		if cfg, err = config.LoadDefaultConfig(ctx); err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	return &Manager{
		base:        cfg,
		sts:         sts.NewFromConfig(cfg),
		sessionName: mo.sessionName,
		tracer:      otel.Tracer("github.com/cardinalhq/ordergate/internal/awsclient"),
		creds:       make(map[credKey]aws.CredentialsProvider),
		clients:     make(map[Profile]*S3Client),
	}, nil
}

// S3ForProfile returns the client for p, creating it on first use.
func (m *Manager) S3ForProfile(_ context.Context, p Profile) (*S3Client, error) {
	if p.Region == "" {
		p.Region = m.base.Region
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[p]; ok {
		return c, nil
	}

	cfg := m.base.Copy()
	cfg.Region = p.Region
	cfg.Credentials = m.credentials(credKey{region: p.Region, role: p.Role})
	if p.InsecureTLS {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		cfg.HTTPClient = &http.Client{Transport: tr}
	}

	c := &S3Client{
		Client: s3.NewFromConfig(cfg, p.s3Options),
		Tracer: m.tracer,
	}
	m.clients[p] = c
	return c, nil
}

// credentials must be called with m.mu held.
func (m *Manager) credentials(k credKey) aws.CredentialsProvider {
	if provider, ok := m.creds[k]; ok {
		return provider
	}
	provider := m.base.Credentials
	if k.role != "" {
		provider = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(m.sts, k.role, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = m.sessionName
		}))
	}
	m.creds[k] = provider
	return provider
}

func (p Profile) s3Options(o *s3.Options) {
	if p.Endpoint != "" {
		o.BaseEndpoint = aws.String(p.Endpoint)
	}
	o.UsePathStyle = p.UsePathStyle
}
