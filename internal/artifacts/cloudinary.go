package artifacts

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"
)

// Cloudinary uploads artifacts as raw resources so PDFs and ZIPs keep their bytes untouched.
type Cloudinary struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	// BaseURL defaults to https://api.cloudinary.com.
	BaseURL string
	http    *resty.Client
	now     func() time.Time
}

// NewCloudinary creates an uploader.
func NewCloudinary(cloudName, apiKey, apiSecret, folder string) *Cloudinary {
	return &Cloudinary{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    folder,
		BaseURL:   "https://api.cloudinary.com",
		http: resty.New().
			SetTimeout(60 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second),
		now: time.Now,
	}
}

// UploadResult holds the fields of Cloudinary's upload response that we use.
type UploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	Bytes     int64  `json:"bytes"`
}

// Save uploads data with public id "<folder>/<jobID>/<name>".
func (c *Cloudinary) Save(ctx context.Context, jobID, name, _ string, data []byte) (Location, error) {
	if err := checkName(jobID); err != nil {
		return Location{}, err
	}
	if err := checkName(name); err != nil {
		return Location{}, err
	}
	params := map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
		"public_id": path.Join(jobID, name),
	}
	if c.Folder != "" {
		params["folder"] = c.Folder
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.APIKey

	endpoint := fmt.Sprintf("%s/v1_1/%s/raw/upload", strings.TrimRight(c.BaseURL, "/"), c.CloudName)
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetFormData(params).
		SetFileReader("file", name, bytes.NewReader(data)).
		Post(endpoint)
	if err != nil {
		return Location{}, fmt.Errorf("cloudinary: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Location{}, fmt.Errorf("cloudinary: read response: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return Location{}, fmt.Errorf("cloudinary: upload failed (%d): %s", resp.StatusCode(), strings.TrimSpace(string(body)))
	}
	var result UploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return Location{}, fmt.Errorf("cloudinary: decode response failed: %w", err)
	}
	url := result.SecureURL
	if url == "" {
		url = result.URL
	}
	size := result.Bytes
	if size == 0 {
		size = int64(len(data))
	}
	return Location{URL: url, Size: size}, nil
}

// Close releases idle connections.
func (c *Cloudinary) Close() error {
	return c.http.Close()
}

// sign computes the API signature: sorted "k=v" pairs joined by "&" plus the secret, SHA-1 hex.
// api_key, file and resource_type are not signed.
func (c *Cloudinary) sign(params map[string]string) string {
	exclude := map[string]bool{"api_key": true, "file": true, "resource_type": true}
	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !exclude[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + c.APISecret))
	return fmt.Sprintf("%x", sum)
}
