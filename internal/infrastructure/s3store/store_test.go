package s3store

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-qr-relay/internal/tmpstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// s3stub is a minimal in-memory S3 endpoint: just enough of the REST
// surface for the store, including If-None-Match on PUT.
type s3stub struct {
	mu       sync.Mutex
	objects  map[string]stubObject
	putConds []string // If-None-Match value observed per PUT
}

type stubObject struct {
	data []byte
	meta map[string]string
}

func newStub() *s3stub { return &s3stub{objects: map[string]stubObject{}} }

func (st *s3stub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st.mu.Lock()
	defer st.mu.Unlock()

	// Path-style addressing: /{bucket}/{key}.
	key := strings.TrimPrefix(r.URL.Path, "/")
	if i := strings.Index(key, "/"); i >= 0 {
		key = key[i+1:]
	}
	obj, exists := st.objects[key]

	switch r.Method {
	case http.MethodPut:
		st.putConds = append(st.putConds, r.Header.Get("If-None-Match"))
		if r.Header.Get("If-None-Match") == "*" && exists {
			w.WriteHeader(http.StatusPreconditionFailed)
			_, _ = w.Write([]byte(`<?xml version="1.0"?><Error><Code>PreconditionFailed</Code><Message>At least one of the pre-conditions you specified did not hold</Message></Error>`))
			return
		}
		data, _ := io.ReadAll(r.Body)
		meta := map[string]string{}
		for k := range r.Header {
			if lk := strings.ToLower(k); strings.HasPrefix(lk, "x-amz-meta-") {
				meta[lk[len("x-amz-meta-"):]] = r.Header.Get(k)
			}
		}
		st.objects[key] = stubObject{data: data, meta: meta}
		w.Header().Set("ETag", `"stub"`)
		w.WriteHeader(http.StatusOK)

	case http.MethodHead, http.MethodGet:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		for k, v := range obj.meta {
			w.Header().Set("X-Amz-Meta-"+k, v)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(obj.data)
		}

	case http.MethodDelete:
		delete(st.objects, key)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newTestStore(t *testing.T) (*Store, *s3stub) {
	t.Helper()
	stub := newStub()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider("test", "test", ""),
	})
	return NewStore(client, "relay-test"), stub
}

func TestPutGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "CW_SESSION_tok", []byte(`{"a":1}`), time.Minute))
	got, err := store.Get(ctx, "CW_SESSION_tok")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), got)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, tmpstore.ErrNotFound)
}

func TestGet_ExpiredReadsAsAbsent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("v"), time.Minute))
	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, tmpstore.ErrNotFound)
}

func TestPutIfAbsent_SecondInsertFails(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutIfAbsent(ctx, "CQR_NONCE_u_n", []byte("."), time.Hour))
	err := store.PutIfAbsent(ctx, "CQR_NONCE_u_n", []byte("."), time.Hour)
	assert.ErrorIs(t, err, tmpstore.ErrExists)
}

func TestPutIfAbsent_SendsConditionalPut(t *testing.T) {
	store, stub := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutIfAbsent(ctx, "k", []byte("v"), time.Hour))
	_ = store.PutIfAbsent(ctx, "k", []byte("v"), time.Hour)

	// Every insert attempt must be guarded server-side, never by a prior
	// existence check.
	require.NotEmpty(t, stub.putConds)
	for _, cond := range stub.putConds {
		assert.Equal(t, "*", cond)
	}
}

func TestPutIfAbsent_ExpiredEntryIsReplaced(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutIfAbsent(ctx, "k", []byte("old"), time.Minute))
	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	require.NoError(t, store.PutIfAbsent(ctx, "k", []byte("new"), time.Minute))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}
