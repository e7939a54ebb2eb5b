// Package blobstore uploads slip images to an S3-compatible bucket (R2 or
// MinIO) over plain HTTP PUT with SigV4 request signing.
package blobstore

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultTimeout = 30 * time.Second

// ErrUploadFailed wraps non-2xx responses from the bucket.
var ErrUploadFailed = errors.New("blob upload failed")

// Uploader PUTs objects into one bucket.
type Uploader struct {
	httpClient *http.Client
	endpoint   *url.URL
	bucket     string
	region     string
	accessKey  string
	secretKey  string
	publicBase string
	nowFn      func() time.Time
}

// Config carries bucket credentials and addressing.
type Config struct {
	Endpoint   string
	Bucket     string
	Region     string
	AccessKey  string
	SecretKey  string
	PublicBase string
}

// NewUploader validates the config and returns an Uploader.
func NewUploader(config Config) (*Uploader, error) {
	if config.Endpoint == "" || config.Bucket == "" || config.AccessKey == "" || config.SecretKey == "" {
		return nil, errors.New("blobstore endpoint, bucket, and credentials are required")
	}
	endpoint, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	region := config.Region
	if region == "" {
		region = "auto"
	}
	return &Uploader{
		httpClient: &http.Client{Timeout: defaultTimeout},
		endpoint:   endpoint,
		bucket:     config.Bucket,
		region:     region,
		accessKey:  config.AccessKey,
		secretKey:  config.SecretKey,
		publicBase: strings.TrimRight(config.PublicBase, "/"),
		nowFn:      time.Now,
	}, nil
}

// UploadSlip stores a slip image under a fresh random key and returns the
// public URL.
func (uploader *Uploader) UploadSlip(ctx context.Context, image []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	key := fmt.Sprintf("slips/%s/%s.jpg", uploader.nowFn().UTC().Format("2006/01"), uuid.NewString())
	if err := uploader.put(ctx, key, image, contentType); err != nil {
		return "", err
	}
	if uploader.publicBase != "" {
		return uploader.publicBase + "/" + key, nil
	}
	return uploader.endpoint.JoinPath(uploader.bucket, key).String(), nil
}

func (uploader *Uploader) put(ctx context.Context, key string, body []byte, contentType string) error {
	target := uploader.endpoint.JoinPath(uploader.bucket, key)
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", contentType)
	uploader.sign(request, body)

	response, err := uploader.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 2048))
		return fmt.Errorf("%w: status %d: %s", ErrUploadFailed, response.StatusCode, bytes.TrimSpace(detail))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

// sign applies AWS SigV4 with the minimal header set S3-compatible stores
// accept: host, x-amz-date, and x-amz-content-sha256.
func (uploader *Uploader) sign(request *http.Request, body []byte) {
	now := uploader.nowFn().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	payloadHash := hexSHA256(body)

	request.Header.Set("X-Amz-Date", amzDate)
	request.Header.Set("X-Amz-Content-Sha256", payloadHash)

	canonicalHeaders := "host:" + request.URL.Host + "\n" +
		"x-amz-content-sha256:" + payloadHash + "\n" +
		"x-amz-date:" + amzDate + "\n"
	signedHeaders := "host;x-amz-content-sha256;x-amz-date"

	canonicalRequest := strings.Join([]string{
		request.Method,
		request.URL.EscapedPath(),
		request.URL.RawQuery,
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := dateStamp + "/" + uploader.region + "/s3/aws4_request"
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hexSHA256([]byte(canonicalRequest)),
	}, "\n")

	signingKey := hmacSHA256(
		hmacSHA256(
			hmacSHA256(
				hmacSHA256([]byte("AWS4"+uploader.secretKey), dateStamp),
				uploader.region),
			"s3"),
		"aws4_request")
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	request.Header.Set("Authorization", fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		uploader.accessKey, scope, signedHeaders, signature,
	))
}

func hexSHA256(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

func hmacSHA256(key []byte, message string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}
