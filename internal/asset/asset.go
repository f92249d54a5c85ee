// Package asset sends uploaded bytes to storage and returns a public URL.
package asset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

var ErrEmptyUpload = errors.New("empty upload")

type File struct {
	Name        string
	ContentType string
	Body        io.Reader
}

type Uploader interface {
	Upload(ctx context.Context, f File) (string, error)
}

// PresetUploader posts the file with an upload preset to a hosted upload API.
type PresetUploader struct {
	endpoint string
	preset   string
	http     *http.Client
}

func NewPresetUploader(endpoint, preset string, timeout time.Duration) *PresetUploader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PresetUploader{endpoint: endpoint, preset: preset, http: &http.Client{Timeout: timeout}}
}

func (u *PresetUploader) Upload(ctx context.Context, f File) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", path.Base(f.Name))
	if err != nil {
		return "", err
	}
	n, err := io.Copy(part, f.Body)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", ErrEmptyUpload
	}
	if err := form.WriteField("upload_preset", u.preset); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	resp, err := u.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("upload failed with status %d", resp.StatusCode)
	}
	var out struct {
		SecureURL string `json:"secure_url"`
		URL       string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.SecureURL != "" {
		return out.SecureURL, nil
	}
	if out.URL == "" {
		return "", errors.New("upload response has no url")
	}
	return out.URL, nil
}

type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader stores files under uploads/ with a random name.
type S3Uploader struct {
	client    S3API
	bucket    string
	publicURL string
}

// NewS3Uploader serves objects from publicURL, or from the bucket's regional
// endpoint when publicURL is empty.
func NewS3Uploader(client S3API, bucket, region, publicURL string) *S3Uploader {
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &S3Uploader{client: client, bucket: bucket, publicURL: strings.TrimRight(publicURL, "/")}
}

func (u *S3Uploader) Upload(ctx context.Context, f File) (string, error) {
	body, err := io.ReadAll(f.Body)
	if err != nil {
		return "", err
	}
	if len(body) == 0 {
		return "", ErrEmptyUpload
	}
	key := "uploads/" + uuid.NewString() + strings.ToLower(path.Ext(f.Name))
	contentType := f.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	return u.publicURL + "/" + key, nil
}
