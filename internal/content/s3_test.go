package content

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"bulletin/internal/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"
)

type mockS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	encoding map[string]string
	failKeys map[string]error
	calls    int
}

func newMockS3() *mockS3 {
	return &mockS3{
		objects:  make(map[string][]byte),
		encoding: make(map[string]string),
		failKeys: make(map[string]error),
	}
}

func (m *mockS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	key := aws.ToString(params.Key)
	if err, ok := m.failKeys[key]; ok {
		return nil, err
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	out := &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}
	if enc := m.encoding[key]; enc != "" {
		out.ContentEncoding = aws.String(enc)
	}
	return out, nil
}

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestS3BodyStore_FetchPlain(t *testing.T) {
	m := newMockS3()
	m.objects["issues/1.html"] = []byte("<h1>Issue 1</h1>")

	got, err := NewS3BodyStore(m, "bodies").Fetch(context.Background(), "issues/1.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "<h1>Issue 1</h1>" {
		t.Errorf("got %q", got)
	}
}

func TestS3BodyStore_FetchCompressed(t *testing.T) {
	m := newMockS3()
	m.objects["issues/2.html.zst"] = compress(t, []byte("<h1>Issue 2</h1>"))

	store := NewS3BodyStore(m, "bodies")
	for i := 0; i < 3; i++ {
		got, err := store.Fetch(context.Background(), "issues/2.html.zst")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != "<h1>Issue 2</h1>" {
			t.Errorf("got %q", got)
		}
	}
}

func TestS3BodyStore_ContentEncodingWithoutMagic(t *testing.T) {
	m := newMockS3()
	m.objects["bad"] = []byte("definitely not zstd")
	m.encoding["bad"] = "zstd"

	_, err := NewS3BodyStore(m, "bodies").Fetch(context.Background(), "bad")
	if !types.HasCode(err, types.ErrCodeInternalUnexpected) {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestS3BodyStore_Errors(t *testing.T) {
	m := newMockS3()
	m.failKeys["down"] = errors.New("connection reset")
	store := NewS3BodyStore(m, "bodies")

	if _, err := store.Fetch(context.Background(), "missing"); !types.HasCode(err, types.ErrCodeNotFoundObject) {
		t.Errorf("missing key: got %v", err)
	}
	if _, err := store.Fetch(context.Background(), "down"); !types.HasCode(err, types.ErrCodeUpstreamStorage) {
		t.Errorf("storage failure: got %v", err)
	}
}
