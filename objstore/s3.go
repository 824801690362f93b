package objstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
)

// AccountConfig is one account's bucket/region/credentials binding: each
// account name maps to its own lazily-created live client.
type AccountConfig struct {
	Bucket   string
	Region   string
	Endpoint string // non-empty for S3-compatible stores (minio, etc.)
}

type accountClient struct {
	bucket     string
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	s3         *s3.S3
}

// S3Client is the aws-sdk-go-backed objstore.Client, routing each call by
// account the way AISBackendProvider routes by remote-cluster UUID.
type S3Client struct {
	mu       sync.RWMutex
	accounts map[string]*accountClient
	configs  map[string]AccountConfig
}

var _ Client = (*S3Client)(nil)

func NewS3Client(configs map[string]AccountConfig) *S3Client {
	return &S3Client{
		accounts: make(map[string]*accountClient, len(configs)),
		configs:  configs,
	}
}

func (c *S3Client) clientFor(account string) (*accountClient, error) {
	c.mu.RLock()
	ac, ok := c.accounts[account]
	c.mu.RUnlock()
	if ok {
		return ac, nil
	}

	cfg, ok := c.configs[account]
	if !ok {
		return nil, errors.Errorf("objstore: unknown account %q", account)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ac, ok := c.accounts[account]; ok {
		return ac, nil
	}

	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrapf(err, "objstore: session for account %q", account)
	}
	ac = &accountClient{
		bucket:     cfg.Bucket,
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
		s3:         s3.New(sess),
	}
	c.accounts[account] = ac
	return ac, nil
}

func (c *S3Client) Put(ctx context.Context, account, key string, data []byte) error {
	ac, err := c.clientFor(account)
	if err != nil {
		return err
	}
	_, err = ac.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(ac.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return errors.Wrapf(err, "objstore: put %s/%s", account, key)
}

func (c *S3Client) Get(ctx context.Context, account, key string) ([]byte, error) {
	ac, err := c.clientFor(account)
	if err != nil {
		return nil, err
	}
	buf := aws.NewWriteAtBuffer(nil)
	if _, err := ac.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(ac.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return nil, errors.Wrapf(err, "objstore: get %s/%s", account, key)
	}
	return buf.Bytes(), nil
}

func (c *S3Client) Delete(ctx context.Context, account, key string) error {
	ac, err := c.clientFor(account)
	if err != nil {
		return err
	}
	_, err = ac.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(ac.bucket),
		Key:    aws.String(key),
	})
	return errors.Wrapf(err, "objstore: delete %s/%s", account, key)
}
