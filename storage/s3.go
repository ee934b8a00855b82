package storage

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	log "github.com/sirupsen/logrus"
)

// S3 is an implementation of Store backed by AWS S3. Keys are used verbatim as
// object keys.
type S3 struct {
	region string
	bucket string
	creds  *credentials.Credentials

	mu     sync.Mutex
	client *s3.S3
}

// NewS3 uses the named profile from the shared credentials file.
func NewS3(profile, region, bucket string) *S3 {
	return &S3{
		region: region,
		bucket: bucket,
		creds:  credentials.NewSharedCredentials("", profile),
	}
}

func NewS3WithStaticCredentials(region, bucket, keyID, secret string) *S3 {
	return &S3{
		region: region,
		bucket: bucket,
		creds:  credentials.NewStaticCredentials(keyID, secret, ""),
	}
}

func (s *S3) Get(key string) (value []byte, err error) {
	client, err := s.ensureClient()
	if err != nil {
		return nil, err
	}
	output, err := client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%.40q: %w", key, ErrNotFound)
		}
		return nil, err
	}
	defer func() {
		if err := output.Body.Close(); err != nil {
			log.WithFields(log.Fields{
				"op":  "get",
				"key": key,
			}).Warning("Could not close response body")
		}
	}()
	value, err = io.ReadAll(output.Body)
	if err == nil && value == nil {
		value = []byte{}
	}
	return value, err
}

func (s *S3) Put(key string, value []byte) (err error) {
	client, err := s.ensureClient()
	if err != nil {
		return err
	}
	_, err = client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(value),
	})
	return err
}

// Delete checks for existence first, as S3 deletes of missing objects
// succeed.
func (s *S3) Delete(key string) (err error) {
	client, err := s.ensureClient()
	if err != nil {
		return err
	}
	_, err = client.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%.40q: %w", key, ErrNotFound)
		}
		return err
	}
	_, err = client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

// SignedURL implements Presigner.
func (s *S3) SignedURL(key string, method string, ttl time.Duration) (string, error) {
	client, err := s.ensureClient()
	if err != nil {
		return "", err
	}
	var req *request.Request
	switch method {
	case http.MethodGet:
		req, _ = client.GetObjectRequest(&s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
	case http.MethodPut:
		req, _ = client.PutObjectRequest(&s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
	default:
		return "", fmt.Errorf("cannot presign %s requests", method)
	}
	return req.Presign(ttl)
}

func (s *S3) ensureClient() (*s3.S3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(s.region),
		Credentials: s.creds,
	})
	if err != nil {
		return nil, err
	}
	s.client = s3.New(sess)
	return s.client, nil
}

func isNotFound(err error) bool {
	if rfErr, ok := err.(awserr.RequestFailure); ok {
		return rfErr.StatusCode() == http.StatusNotFound
	}
	return false
}
