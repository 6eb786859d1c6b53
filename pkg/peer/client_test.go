package peer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/megayours/megaforwarder/pkg/codec"
	"github.com/megayours/megaforwarder/pkg/oracleerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientPrepareDecodesHexResponse(t *testing.T) {
	encoded, err := codec.Encode("prepared-value")
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/task/prepare", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"encodedData": hex.EncodeToString(encoded),
			"signature":   hex.EncodeToString([]byte("sig-bytes")),
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.Client())
	result, err := client.Prepare(context.Background(), Peer{ID: "B", Address: server.Listener.Addr().String()}, "echo", "input")
	require.NoError(t, err)

	decoded, err := codec.Decode(result.EncodedData)
	require.NoError(t, err)
	assert.Equal(t, "prepared-value", decoded)
	assert.Equal(t, []byte("sig-bytes"), result.Signature)
}

func TestHTTPClientPrepareSurfacesErrorPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "not_found"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.Client())
	_, err := client.Prepare(context.Background(), Peer{ID: "B", Address: server.Listener.Addr().String()}, "missing", "input")
	require.Error(t, err)
	assert.Equal(t, oracleerr.KindNotFound, oracleerr.KindOf(err))
}

func TestHTTPClientValidateDecodesHexResponse(t *testing.T) {
	encoded, err := codec.Encode("aggregated-value")
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/task/validate", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"encodedData": hex.EncodeToString(encoded)})
	}))
	defer server.Close()

	client := NewHTTPClient(server.Client())
	result, err := client.Validate(context.Background(), Peer{ID: "B", Address: server.Listener.Addr().String()}, "echo", "input", "prepared", []byte("sig"))
	require.NoError(t, err)

	decoded, err := codec.Decode(result.EncodedData)
	require.NoError(t, err)
	assert.Equal(t, "aggregated-value", decoded)
}
