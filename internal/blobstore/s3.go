package blobstore

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

// Config describes an S3-compatible object store endpoint. Endpoint,
// AccessKey, and SecretKey are required; their absence is a configuration
// error surfaced at startup, not per request.
type Config struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	RequestTimeout time.Duration
}

// S3Client talks to any S3-compatible store (MinIO, Supabase storage's S3
// endpoint, AWS) over its REST API with SigV4 signing.
type S3Client struct {
	cfg        Config
	endpoint   *url.URL
	httpClient *http.Client
	now        func() time.Time
}

// NewS3Client validates the configuration and returns a ready client.
func NewS3Client(cfg Config) (*S3Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("blob store endpoint is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("blob store credentials are required")
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse blob store endpoint: %w", err)
		}
		if parsed.Scheme != "" {
			scheme = parsed.Scheme
		}
		endpoint = parsed.Host
	}
	base := &url.URL{Scheme: scheme, Host: endpoint}
	if base.Host == "" {
		return nil, fmt.Errorf("blob store endpoint %q has no host", cfg.Endpoint)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &S3Client{
		cfg:        cfg,
		endpoint:   base,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		now:        time.Now,
	}, nil
}

func (c *S3Client) Download(ctx context.Context, bucket, path string, w io.Writer) error {
	target := c.objectURL(bucket, path)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return &DownloadError{Bucket: bucket, Path: path, Err: err}
	}
	c.signRequest(request, emptyPayloadHash)
	response, err := c.httpClient.Do(request)
	if err != nil {
		return &DownloadError{Bucket: bucket, Path: path, Err: err}
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode == http.StatusNotFound {
		return &DownloadError{Bucket: bucket, Path: path, Err: ErrObjectNotFound}
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &DownloadError{Bucket: bucket, Path: path, Err: fmt.Errorf("unexpected status %d", response.StatusCode)}
	}
	if _, err := io.Copy(w, response.Body); err != nil {
		return &DownloadError{Bucket: bucket, Path: path, Err: err}
	}
	return nil
}

func (c *S3Client) Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string, upsert bool) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return &UploadError{Bucket: bucket, Path: path, Err: err}
	}
	if !upsert {
		if _, statErr := c.Stat(ctx, bucket, path); statErr == nil {
			return &UploadError{Bucket: bucket, Path: path, Err: fmt.Errorf("object already exists")}
		}
	}
	target := c.objectURL(bucket, path)
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(data))
	if err != nil {
		return &UploadError{Bucket: bucket, Path: path, Err: err}
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	c.signRequest(request, hashSHA256Hex(data))
	response, err := c.httpClient.Do(request)
	if err != nil {
		return &UploadError{Bucket: bucket, Path: path, Err: err}
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &UploadError{Bucket: bucket, Path: path, Err: fmt.Errorf("unexpected status %d", response.StatusCode)}
	}
	return nil
}

func (c *S3Client) Stat(ctx context.Context, bucket, path string) (ObjectInfo, error) {
	target := c.objectURL(bucket, path)
	request, err := http.NewRequestWithContext(ctx, http.MethodHead, target.String(), nil)
	if err != nil {
		return ObjectInfo{}, err
	}
	c.signRequest(request, emptyPayloadHash)
	response, err := c.httpClient.Do(request)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer func() {
		_ = response.Body.Close()
	}()
	switch {
	case response.StatusCode == http.StatusNotFound:
		return ObjectInfo{}, ErrObjectNotFound
	case response.StatusCode < 200 || response.StatusCode >= 300:
		return ObjectInfo{}, fmt.Errorf("stat %s/%s: unexpected status %d", bucket, path, response.StatusCode)
	}
	info := ObjectInfo{
		Bucket:      bucket,
		Path:        path,
		ContentType: response.Header.Get("Content-Type"),
	}
	if length := response.Header.Get("Content-Length"); length != "" {
		if size, parseErr := strconv.ParseInt(length, 10, 64); parseErr == nil {
			info.Size = size
		}
	}
	return info, nil
}

// SignedURL checks the object exists and returns a presigned GET URL. The
// existence check is what lets the playback resolver treat a missing
// rendition as "fall back to the original" rather than handing out a URL
// that 404s.
func (c *S3Client) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("signed url ttl must be positive")
	}
	if _, err := c.Stat(ctx, bucket, path); err != nil {
		return "", err
	}
	return c.presignGET(bucket, path, ttl), nil
}

func (c *S3Client) Delete(ctx context.Context, bucket, path string) error {
	target := c.objectURL(bucket, path)
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return err
	}
	c.signRequest(request, emptyPayloadHash)
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, path, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode == http.StatusNotFound {
		return nil
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("delete %s/%s: unexpected status %d", bucket, path, response.StatusCode)
	}
	return nil
}

func (c *S3Client) objectURL(bucket, path string) *url.URL {
	u := *c.endpoint
	cleaned := "/" + strings.TrimLeft(strings.TrimSpace(bucket), "/")
	if trimmed := strings.TrimLeft(strings.TrimSpace(path), "/"); trimmed != "" {
		cleaned += "/" + trimmed
	}
	u.Path = cleaned
	return &u
}

func (c *S3Client) region() string {
	if region := strings.TrimSpace(c.cfg.Region); region != "" {
		return region
	}
	return "us-east-1"
}

func (c *S3Client) signRequest(req *http.Request, payloadHash string) {
	req.Host = req.URL.Host
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	now := c.now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	req.Header.Set("x-amz-date", amzDate)
	canonicalHeaders, signedHeaders := canonicalizeHeaders(req)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(req.URL),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")
	hash := sha256.Sum256([]byte(canonicalRequest))
	scope := strings.Join([]string{dateStamp, c.region(), "s3", "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hex.EncodeToString(hash[:]),
	}, "\n")
	signingKey := deriveSigningKey(c.cfg.SecretKey, dateStamp, c.region())
	signature := hmacSHA256Hex(signingKey, stringToSign)
	authorization := fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		strings.TrimSpace(c.cfg.AccessKey),
		scope,
		signedHeaders,
		signature,
	)
	req.Header.Set("Authorization", authorization)
}

// presignGET builds a SigV4 query-signed URL valid for ttl.
func (c *S3Client) presignGET(bucket, path string, ttl time.Duration) string {
	target := c.objectURL(bucket, path)
	now := c.now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	scope := strings.Join([]string{dateStamp, c.region(), "s3", "aws4_request"}, "/")

	query := url.Values{}
	query.Set("X-Amz-Algorithm", "AWS4-HMAC-SHA256")
	query.Set("X-Amz-Credential", strings.TrimSpace(c.cfg.AccessKey)+"/"+scope)
	query.Set("X-Amz-Date", amzDate)
	query.Set("X-Amz-Expires", strconv.Itoa(int(ttl.Seconds())))
	query.Set("X-Amz-SignedHeaders", "host")
	target.RawQuery = query.Encode()

	canonicalRequest := strings.Join([]string{
		http.MethodGet,
		canonicalURI(target),
		canonicalQuery(target),
		"host:" + target.Host + "\n",
		"host",
		"UNSIGNED-PAYLOAD",
	}, "\n")
	hash := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hex.EncodeToString(hash[:]),
	}, "\n")
	signingKey := deriveSigningKey(c.cfg.SecretKey, dateStamp, c.region())
	query.Set("X-Amz-Signature", hmacSHA256Hex(signingKey, stringToSign))
	target.RawQuery = query.Encode()
	return target.String()
}

func canonicalizeHeaders(req *http.Request) (string, string) {
	headerMap := make(map[string][]string)
	for key, values := range req.Header {
		lower := strings.ToLower(key)
		if lower == "authorization" {
			continue
		}
		cleaned := make([]string, 0, len(values))
		for _, v := range values {
			cleaned = append(cleaned, strings.TrimSpace(v))
		}
		headerMap[lower] = cleaned
	}
	if _, ok := headerMap["host"]; !ok && req.Host != "" {
		headerMap["host"] = []string{req.Host}
	}
	keys := make([]string, 0, len(headerMap))
	for key := range headerMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	var signed []string
	for _, key := range keys {
		builder.WriteString(key)
		builder.WriteByte(':')
		builder.WriteString(strings.Join(headerMap[key], ","))
		builder.WriteByte('\n')
		signed = append(signed, key)
	}
	return builder.String(), strings.Join(signed, ";")
}

func canonicalURI(u *url.URL) string {
	if u == nil {
		return "/"
	}
	path := u.EscapedPath()
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func canonicalQuery(u *url.URL) string {
	if u == nil {
		return ""
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil || len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	for idx, key := range keys {
		if idx > 0 {
			builder.WriteByte('&')
		}
		sort.Strings(values[key])
		for vIdx, value := range values[key] {
			if vIdx > 0 {
				builder.WriteByte('&')
			}
			builder.WriteString(url.QueryEscape(key))
			builder.WriteByte('=')
			builder.WriteString(url.QueryEscape(value))
		}
	}
	return builder.String()
}

func deriveSigningKey(secret, dateStamp, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte("s3"))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key []byte, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hmacSHA256Hex(key []byte, data string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

var emptyPayloadHash = hashSHA256Hex(nil)

func hashSHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var _ Client = (*S3Client)(nil)
