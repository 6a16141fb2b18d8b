package metadata

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-sync/internal/domain"
)

// validCID is a well-formed CIDv0.
const validCID = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

func newTestResolver(gateway string) *Resolver {
	return NewResolver(Options{
		IPFSGateway: gateway,
		RetryDelay:  time.Millisecond,
		MaxRetries:  2,
	})
}

func TestResolve_DataURIDefaultsAttributes(t *testing.T) {
	r := newTestResolver("")

	md := r.Resolve(context.Background(), "data:application/json;base64,eyJuYW1lIjoiVGVzdCJ9")
	require.NotNil(t, md)
	assert.Equal(t, "Test", md.Name)
	require.NotNil(t, md.Attributes)
	assert.Empty(t, md.Attributes)
}

func TestResolve_DataURIRawBase64(t *testing.T) {
	r := newTestResolver("")
	payload := base64.RawStdEncoding.EncodeToString([]byte(`{"name":"Raw","attributes":[{"trait_type":"Color","value":"Red"}]}`))

	md := r.Resolve(context.Background(), "data:application/json;base64,"+payload)
	require.NotNil(t, md)
	assert.Equal(t, "Raw", md.Name)
	require.Len(t, md.Attributes, 1)
	assert.Equal(t, "Color", md.Attributes[0].TraitType)
	assert.Equal(t, "Red", md.Attributes[0].Value)
}

func TestResolve_DataURIPlainText(t *testing.T) {
	r := newTestResolver("")

	md := r.Resolve(context.Background(), `data:application/json,{"name":"Plain%20Text"}`)
	require.NotNil(t, md)
	assert.Equal(t, "Plain Text", md.Name)
}

func TestResolve_InlineJSON(t *testing.T) {
	r := newTestResolver("")

	md := r.Resolve(context.Background(), `  {"name":"Inline","description":"d","image":"ipfs://x","attributes":"oops"}`)
	require.NotNil(t, md)
	assert.Equal(t, "Inline", md.Name)
	assert.Equal(t, "d", md.Description)
	assert.Equal(t, "ipfs://x", md.Image)
	assert.Empty(t, md.Attributes)
}

func TestResolve_MalformedInputsReturnNil(t *testing.T) {
	r := newTestResolver("")
	ctx := context.Background()

	for _, uri := range []string{
		"",
		"   ",
		"data:application/json;base64,!!!not-base64!!!",
		"data:application/json;base64",
		"{not json",
		"ftp://example.com/meta.json",
		"ipfs://",
	} {
		assert.Nil(t, r.Resolve(ctx, uri), "uri %q", uri)
	}
}

func TestResolve_IPFSGatewayRewrite(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"From IPFS","attributes":[{"trait_type":"Level","value":5}]}`))
	}))
	defer server.Close()

	r := newTestResolver(server.URL + "/")

	md := r.Resolve(context.Background(), "ipfs://ipfs/"+validCID+"/1.json")
	require.NotNil(t, md)
	assert.Equal(t, "/ipfs/"+validCID+"/1.json", gotPath)
	assert.Equal(t, "From IPFS", md.Name)
	require.Len(t, md.Attributes, 1)
	assert.Equal(t, float64(5), md.Attributes[0].Value)
}

func TestResolve_MalformedCIDStillFetched(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		w.Write([]byte(`{"name":"Local"}`))
	}))
	defer server.Close()

	r := newTestResolver(server.URL)

	md := r.Resolve(context.Background(), "ipfs://Qm123")
	require.NotNil(t, md)
	assert.Equal(t, "Local", md.Name)
	assert.Equal(t, "/ipfs/Qm123", gotPath)
}

func TestResolve_AttributesKeptPerElement(t *testing.T) {
	r := newTestResolver("")

	tests := []struct {
		name string
		doc  string
		want []domain.Attribute
	}{
		{
			name: "mixed trait types",
			doc:  `{"attributes":[{"trait_type":"Color","value":"Red"},{"trait_type":7,"value":1},{"value":true}]}`,
			want: []domain.Attribute{
				{TraitType: "Color", Value: "Red"},
				{TraitType: "7", Value: float64(1)},
				{Value: true},
			},
		},
		{
			name: "string elements",
			doc:  `{"attributes":["Fire","Water"]}`,
			want: []domain.Attribute{{Value: "Fire"}, {Value: "Water"}},
		},
		{
			name: "null element",
			doc:  `{"attributes":[null,{"trait_type":"Size","value":"L"}]}`,
			want: []domain.Attribute{{}, {TraitType: "Size", Value: "L"}},
		},
		{
			name: "not an array",
			doc:  `{"attributes":{"trait_type":"Color"}}`,
			want: []domain.Attribute{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := r.Resolve(context.Background(), tt.doc)
			require.NotNil(t, md)
			assert.Equal(t, tt.want, md.Attributes)
		})
	}
}

func TestResolve_HTTPRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"name":"Eventually"}`))
	}))
	defer server.Close()

	r := newTestResolver("")

	md := r.Resolve(context.Background(), server.URL+"/meta/1.json")
	require.NotNil(t, md)
	assert.Equal(t, "Eventually", md.Name)
	assert.Equal(t, int32(3), calls.Load())
}

func TestResolve_HTTPClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	r := newTestResolver("")

	_, err := r.Fetch(context.Background(), server.URL+"/missing.json")
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolve_HTTPGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	r := newTestResolver("")

	assert.Nil(t, r.Resolve(context.Background(), server.URL))
	// one initial attempt plus MaxRetries
	assert.Equal(t, int32(3), calls.Load())
}

func TestResolve_BodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"name":"` + strings.Repeat("x", 2048) + `"}`))
	}))
	defer server.Close()

	r := NewResolver(Options{MaxBodyBytes: 1024})

	_, err := r.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBodyTooLarge))
}

func TestResolve_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	r := NewResolver(Options{RetryDelay: time.Second, MaxRetries: 5})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.Nil(t, r.Resolve(ctx, server.URL))
	assert.Less(t, time.Since(start), 2*time.Second)
}
