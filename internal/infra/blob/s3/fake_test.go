package s3

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	fakeBucket   = "grids"
	metaPrefix   = "X-Amz-Meta-"
	fakeModified = "Mon, 01 Jan 2024 00:00:00 GMT"
)

// fakeS3 answers the path-style requests the store issues: object
// put/get/head/delete and ListObjectsV2.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	calls   map[string]int
}

type fakeObject struct {
	body        []byte
	contentType string
	meta        http.Header
}

func (o fakeObject) etag() string {
	sum := md5.Sum(o.body)
	return hex.EncodeToString(sum[:])
}

func newFakeStore() (*Store, *fakeS3) {
	fake := &fakeS3{objects: make(map[string]fakeObject), calls: make(map[string]int)}
	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(defaultRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	if err != nil {
		panic(err)
	}
	store := newStore(awsCfg, Config{Bucket: fakeBucket, Endpoint: "https://s3.fake.local", PathStyle: true},
		func(o *s3.Options) { o.HTTPClient = &http.Client{Transport: fake} })
	return store, fake
}

func (f *fakeS3) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.Method]++
	_, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.list(req.URL.Query().Get("prefix")), nil
	}
	obj, exists := f.objects[key]
	switch req.Method {
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			if decoded, ok := decodeChunked(body); ok {
				body = decoded
			}
		}
		obj = fakeObject{body: body, contentType: req.Header.Get("Content-Type"), meta: http.Header{}}
		for name, values := range req.Header {
			if strings.HasPrefix(name, metaPrefix) {
				obj.meta[name] = values
			}
		}
		f.objects[key] = obj
		return reply(http.StatusOK, nil, http.Header{"Etag": {strconv.Quote(obj.etag())}}), nil
	case http.MethodHead, http.MethodGet:
		if !exists {
			return reply(http.StatusNotFound, nil, http.Header{}), nil
		}
		h := maps.Clone(obj.meta)
		h.Set("Content-Length", strconv.Itoa(len(obj.body)))
		h.Set("Content-Type", obj.contentType)
		h.Set("Etag", strconv.Quote(obj.etag()))
		h.Set("Last-Modified", fakeModified)
		if req.Method == http.MethodHead {
			return reply(http.StatusOK, nil, h), nil
		}
		return reply(http.StatusOK, obj.body, h), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return reply(http.StatusNoContent, nil, http.Header{}), nil
	}
	return reply(http.StatusNotImplemented, nil, http.Header{}), nil
}

func (f *fakeS3) list(prefix string) *http.Response {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, key := range slices.Sorted(maps.Keys(f.objects)) {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		obj := f.objects[key]
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;%s&quot;</ETag><LastModified>%s</LastModified></Contents>",
			key, len(obj.body), obj.etag(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339))
	}
	b.WriteString("</ListBucketResult>")
	return reply(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}})
}

func reply(status int, body []byte, h http.Header) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

// decodeChunked removes aws-chunked framing: <hex>[;ext]\r\n<data>\r\n
// repeated, then a zero sized chunk followed by trailers.
func decodeChunked(b []byte) ([]byte, bool) {
	r := bufio.NewReader(bytes.NewReader(b))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, false
		}
		size, err := strconv.ParseInt(strings.TrimSpace(strings.SplitN(line, ";", 2)[0]), 16, 64)
		if err != nil {
			return nil, false
		}
		if size == 0 {
			return out.Bytes(), true
		}
		if _, err := io.CopyN(&out, r, size); err != nil {
			return nil, false
		}
		if _, err := r.Discard(2); err != nil {
			return nil, false
		}
	}
}

