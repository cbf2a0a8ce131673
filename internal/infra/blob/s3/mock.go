package s3

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // etag only
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a Store backed by an in-memory fake HTTP transport.
// Only Head/Get/Put/Delete/ListObjectsV2 are implemented. pageSize > 0 makes
// list responses truncate after that many keys.
func NewMockForTests(pageSize int) *Store {
	rt := &mockRoundTripper{state: make(map[string]mockObj), pageSize: pageSize}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(DefaultRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.RetryMaxAttempts = 1
	})
	return &Store{client: client, bucket: "mock-bucket"}
}

type mockRoundTripper struct {
	mu       sync.Mutex
	state    map[string]mockObj
	pageSize int
}

type mockObj struct {
	body        []byte
	contentType string
}

func (o mockObj) etag() string {
	sum := md5.Sum(o.body) //nolint:gosec
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) { //nolint:cyclop
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return m.list(req), nil
	}
	switch req.Method {
	case http.MethodHead:
		if st, ok := m.state[key]; ok {
			return response(http.StatusOK, nil, objectHeaders(st)), nil
		}
		return response(http.StatusNotFound, nil, http.Header{}), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		st := mockObj{body: body, contentType: req.Header.Get("Content-Type")}
		m.state[key] = st
		return response(http.StatusOK, nil, http.Header{"Etag": {st.etag()}}), nil
	case http.MethodGet:
		if st, ok := m.state[key]; ok {
			return response(http.StatusOK, st.body, objectHeaders(st)), nil
		}
		return response(http.StatusNotFound, []byte("<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>"),
			http.Header{"Content-Type": {"application/xml"}}), nil
	case http.MethodDelete:
		delete(m.state, key)
		return response(http.StatusNoContent, nil, http.Header{}), nil
	}
	return response(http.StatusNotImplemented, nil, http.Header{}), nil
}

func (m *mockRoundTripper) list(req *http.Request) *http.Response {
	q := req.URL.Query()
	prefix := q.Get("prefix")
	var keys []string
	for k := range m.state {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if tok := q.Get("continuation-token"); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	end := len(keys)
	truncated := false
	if m.pageSize > 0 && start+m.pageSize < end {
		end = start + m.pageSize
		truncated = true
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><ListBucketResult>`)
	fmt.Fprintf(&b, "<IsTruncated>%t</IsTruncated>", truncated)
	if truncated {
		fmt.Fprintf(&b, "<NextContinuationToken>%d</NextContinuationToken>", end)
	}
	for _, k := range keys[start:end] {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(m.state[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return response(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}})
}

func objectHeaders(st mockObj) http.Header {
	return http.Header{
		"Content-Length": {strconv.Itoa(len(st.body))},
		"Content-Type":   {st.contentType},
		"Etag":           {st.etag()},
		"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
	}
}

func response(status int, body []byte, h http.Header) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: h, ContentLength: int64(len(body))}
}

// decodeChunked decodes a single-chunk aws-chunked payload: <hex>[;sig]\r\n<body>\r\n0\r\n...
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	sizeHex, _, _ := strings.Cut(parts[0], ";")
	sz, err := strconv.ParseInt(sizeHex, 16, 64)
	if err != nil || int64(len(parts[1])) != sz || !strings.HasPrefix(parts[2], "0") {
		return nil, false
	}
	return []byte(parts[1]), true
}
