package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// apiError implements smithy.APIError for test assertions.
type apiError struct {
	code string
	msg  string
}

func (e *apiError) Error() string                 { return e.msg }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.msg }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

var errNoSuchKey = &apiError{code: "NoSuchKey", msg: "no such key"}
var errNotFound = &apiError{code: "NotFound", msg: "not found"}

// mockS3 is a thread-safe in-memory S3 backend for testing.
type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	keys    []string

	getErr  error
	headErr error
}

func newMockS3(objects map[string]string) *mockS3 {
	m := &mockS3{objects: make(map[string][]byte)}
	for k, v := range objects {
		m.objects[k] = []byte(v)
	}
	return m
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, *in.Key)
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[*in.Key]; !ok {
		return nil, errNotFound
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3Read(t *testing.T) {
	mock := newMockS3(map[string]string{"res/schema.json": "{}"})
	src := NewS3(mock, "bucket", "res")

	got, err := ReadFile(context.Background(), src, "schema.json")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "{}" {
		t.Errorf("got %q", got)
	}
}

func TestS3ReadNotExist(t *testing.T) {
	src := NewS3(newMockS3(nil), "bucket", "")
	_, err := src.Open(context.Background(), "missing")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestS3ReadOtherError(t *testing.T) {
	mock := newMockS3(nil)
	mock.getErr = errors.New("network down")
	src := NewS3(mock, "bucket", "")
	_, err := src.Open(context.Background(), "x")
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected non-NotExist error, got %v", err)
	}
}

func TestS3Exists(t *testing.T) {
	src := NewS3(newMockS3(map[string]string{"a.json": "1"}), "bucket", "")
	ctx := context.Background()

	ok, err := src.Exists(ctx, "a.json")
	if err != nil || !ok {
		t.Fatalf("Exists(a.json) = %v, %v", ok, err)
	}
	ok, err = src.Exists(ctx, "b.json")
	if err != nil || ok {
		t.Fatalf("Exists(b.json) = %v, %v", ok, err)
	}
}

func TestS3ExistsOtherError(t *testing.T) {
	mock := newMockS3(nil)
	mock.headErr = errors.New("forbidden")
	if _, err := NewS3(mock, "bucket", "").Exists(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestS3KeyCleaning(t *testing.T) {
	mock := newMockS3(nil)
	src := NewS3(mock, "bucket", "p")
	ctx := context.Background()

	src.Open(ctx, "/static/./a.jpeg")
	if len(mock.keys) != 1 || mock.keys[0] != "p/static/a.jpeg" {
		t.Errorf("keys = %v", mock.keys)
	}
	if _, err := src.Open(ctx, ""); !errors.Is(err, fs.ErrInvalid) {
		t.Errorf("empty name: err = %v", err)
	}
}

func TestIsS3NotFound(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errNoSuchKey, true},
		{errNotFound, true},
		{&apiError{code: "AccessDenied"}, false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := isS3NotFound(tt.err); got != tt.want {
			t.Errorf("isS3NotFound(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestNewS3Client(t *testing.T) {
	c := NewS3Client(S3Config{Bucket: "b", Endpoint: "http://localhost:9000", UsePathStyle: true})
	o := c.Options()
	if o.Region != "us-east-1" || !o.UsePathStyle || o.BaseEndpoint == nil || *o.BaseEndpoint != "http://localhost:9000" {
		t.Errorf("options = %+v", o)
	}

	c = NewS3Client(S3Config{Region: "eu-west-1", AccessKeyID: "id", SecretAccessKey: "secret"})
	creds, err := c.Options().Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessKeyID != "id" || creds.SecretAccessKey != "secret" {
		t.Errorf("creds = %+v", creds)
	}
}
