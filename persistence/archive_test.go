package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pthm-cable/habitat/config"
	"github.com/pthm-cable/habitat/telemetry"
)

// fakeS3 serves the small S3 subset the archive uses from memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte // "<bucket>/<key>"
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(req.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")

	respond := func(code int, body []byte, header http.Header) *http.Response {
		if header == nil {
			header = http.Header{}
		}
		header.Set("Content-Length", fmt.Sprint(len(body)))
		return &http.Response{
			StatusCode:    code,
			Header:        header,
			Body:          io.NopCloser(bytes.NewReader(body)),
			ContentLength: int64(len(body)),
			Request:       req,
		}
	}

	switch {
	case req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if name, ok := strings.CutPrefix(k, bucket+"/"); ok && strings.HasPrefix(name, prefix) {
				keys = append(keys, name)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[bucket+"/"+k]))
		}
		fmt.Fprintf(&b, "<KeyCount>%d</KeyCount></ListBucketResult>", len(keys))
		return respond(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}}), nil
	case req.Method == http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		f.objects[bucket+"/"+key] = body
		return respond(http.StatusOK, nil, http.Header{"ETag": {`"etag"`}}), nil
	case req.Method == http.MethodGet:
		body, ok := f.objects[bucket+"/"+key]
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		return respond(http.StatusOK, body, http.Header{"Content-Type": {"application/zstd"}}), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func newFakeS3Archive(t *testing.T, prefix string) (*S3Archive, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	a, err := NewS3Archive(context.Background(), S3Config{
		Bucket:       "habitat",
		Prefix:       prefix,
		Region:       "us-east-1",
		Endpoint:     "https://s3.test.local",
		AccessKey:    "AKIA",
		SecretKey:    "SECRET",
		UsePathStyle: true,
	}, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: fake}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	if err != nil {
		t.Fatalf("NewS3Archive: %v", err)
	}
	return a, fake
}

// exerciseArchive runs the same checks against every implementation.
func exerciseArchive(t *testing.T, a Archive) {
	t.Helper()
	ctx := context.Background()

	for _, key := range []string{"g1/b.bin", "g1/a.bin", "g2/c.bin"} {
		if err := a.Put(ctx, key, strings.NewReader("data:"+key)); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}

	rc, err := a.Get(ctx, "g1/a.bin")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "data:g1/a.bin" {
		t.Errorf("Get = %q", data)
	}

	if _, err := a.Get(ctx, "g1/missing.bin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	keys, err := a.List(ctx, "g1/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if want := []string{"g1/a.bin", "g1/b.bin"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("List(g1/) = %v, want %v", keys, want)
	}
	all, err := a.List(ctx, "")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List() = %v, want 3 keys", all)
	}
}

func TestFSArchive(t *testing.T) {
	a, err := NewFSArchive(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSArchive: %v", err)
	}
	exerciseArchive(t, a)

	if err := a.Put(context.Background(), "../escape", strings.NewReader("x")); err == nil {
		t.Error("Put accepted a key outside the archive")
	}
}

func TestS3Archive(t *testing.T) {
	a, fake := newFakeS3Archive(t, "snapshots/")
	exerciseArchive(t, a)

	if _, ok := fake.objects["habitat/snapshots/g1/a.bin"]; !ok {
		t.Errorf("objects stored without the prefix: %v", fake.objects)
	}
}

func TestArchiveSnapshotRoundTrip(t *testing.T) {
	a, _ := newFakeS3Archive(t, "")
	ctx := context.Background()
	snap := &telemetry.Snapshot{
		Version: telemetry.SnapshotVersion,
		GameID:  "g",
		Step:    42,
		RNG:     []byte{9, 8, 7},
		Agents:  []telemetry.AgentState{{ID: 1, Type: "battery", Amount: 2, Active: true}},
	}

	key, err := ArchiveSnapshot(ctx, a, snap)
	if err != nil {
		t.Fatalf("ArchiveSnapshot: %v", err)
	}
	if key != "g/snapshot_g_000042.json.zst" {
		t.Errorf("key = %q", key)
	}
	got, err := FetchSnapshot(ctx, a, key)
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if !reflect.DeepEqual(got, snap) {
		t.Errorf("FetchSnapshot = %+v, want %+v", got, snap)
	}
}

func TestNewArchive(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		cfg     config.ArchiveConfig
		wantNil bool
		wantErr bool
	}{
		{"disabled", config.ArchiveConfig{}, true, false},
		{"fs", config.ArchiveConfig{Kind: "fs", Dir: t.TempDir()}, false, false},
		{"fs without dir", config.ArchiveConfig{Kind: "fs"}, true, true},
		{"s3 without bucket", config.ArchiveConfig{Kind: "s3"}, true, true},
		{"unknown", config.ArchiveConfig{Kind: "ftp"}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewArchive(ctx, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if (a == nil) != tt.wantNil {
				t.Errorf("archive = %v, wantNil %v", a, tt.wantNil)
			}
		})
	}
}
