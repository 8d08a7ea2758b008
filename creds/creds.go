// Copyright 2022 the go-remote-store Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package creds obtains temporary access credentials for remote
// storage roles via STS AssumeRole, memoizing them until they are
// about to expire.
package creds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/golang/groupcache/lru"
)

const (
	memoSize = 128
	// credentials within this margin of expiry are treated as expired
	// so they cannot die mid-request
	expiryMargin = 2 * time.Minute
)

// Credentials is a temporary access key triple with its expiry.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expires         time.Time
}

// Expired reports whether cr is expired or within the safety margin
// of expiring.
func (cr Credentials) Expired() bool {
	return time.Until(cr.Expires) <= expiryMargin
}

// Static returns cr as a fixed aws.CredentialsProvider.
func (cr Credentials) Static() aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(cr.AccessKeyID, cr.SecretAccessKey, cr.SessionToken)
}

// STSAPI is the slice of the STS client used here. Tests substitute a
// fake.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Client assumes roles and memoizes the resulting credentials per
// (role, session) until shortly before they expire.
type Client struct {
	api STSAPI

	mu   sync.Mutex
	memo *lru.Cache
}

// New builds a Client on the default AWS config chain.
func New(ctx context.Context) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewFromAPI(sts.NewFromConfig(cfg)), nil
}

// NewFromAPI builds a Client over an existing STS client.
func NewFromAPI(api STSAPI) *Client {
	return &Client{
		api:  api,
		memo: lru.New(memoSize),
	}
}

// AssumeRole assumes roleARN under sessionName and returns temporary
// credentials. Repeated calls for the same role and session return
// the memoized credentials until they near expiry; the mutex doubles
// as single-flight, so concurrent callers do not stampede STS.
func (c *Client) AssumeRole(ctx context.Context, roleARN, sessionName string) (Credentials, error) {
	key := roleARN + "/" + sessionName

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.memo.Get(key); ok {
		cr := v.(Credentials)
		if !cr.Expired() {
			return cr, nil
		}
		c.memo.Remove(key)
	}

	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(sessionName),
	}

	out, err := c.api.AssumeRole(ctx, input)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			log.Warnf("AssumeRole(%s) with Error:%s", roleARN, apiErr.ErrorMessage())
		}
		return Credentials{}, fmt.Errorf("assume role %s: %w", roleARN, err)
	}
	if out.Credentials == nil {
		return Credentials{}, fmt.Errorf("assume role %s: empty credentials in response", roleARN)
	}

	cr := Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Expires:         aws.ToTime(out.Credentials.Expiration),
	}

	c.memo.Add(key, cr)
	return cr, nil
}

// Provider adapts a Client to aws.CredentialsProvider, so an assumed
// role can be handed straight to a store. Retrieve re-assumes the
// role whenever the memoized credentials near expiry.
type Provider struct {
	Client      *Client
	RoleARN     string
	SessionName string
}

var _ aws.CredentialsProvider = (*Provider)(nil)

func (p *Provider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	cr, err := p.Client.AssumeRole(ctx, p.RoleARN, p.SessionName)
	if err != nil {
		return aws.Credentials{}, err
	}
	return aws.Credentials{
		AccessKeyID:     cr.AccessKeyID,
		SecretAccessKey: cr.SecretAccessKey,
		SessionToken:    cr.SessionToken,
		CanExpire:       !cr.Expires.IsZero(),
		Expires:         cr.Expires,
		Source:          "AssumeRoleProvider",
	}, nil
}
