package peer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/megayours/megaforwarder/pkg/codec"
	"github.com/megayours/megaforwarder/pkg/cryptoutil"
	"github.com/megayours/megaforwarder/pkg/plugin"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

func publicKeyFromPrivate(priv []byte) ([]byte, error) {
	key, err := ethcrypto.ToECDSA(priv)
	if err != nil {
		return nil, err
	}
	return ethcrypto.CompressPubkey(&key.PublicKey), nil
}

type upcaseHandler struct{}

func (upcaseHandler) ID() string { return "upcase" }
func (upcaseHandler) Prepare(ctx context.Context, input string) (string, error) {
	out := ""
	for _, c := range input {
		out += string(c - 32) // ascii lowercase -> uppercase for test inputs
	}
	return out, nil
}
func (upcaseHandler) Process(ctx context.Context, records []plugin.PeerPrepareRecord[string]) (string, error) {
	return "", nil
}
func (upcaseHandler) Validate(ctx context.Context, aggregated string, myPrepared string) (string, error) {
	return aggregated + "-ok", nil
}
func (upcaseHandler) Execute(ctx context.Context, aggregated string) (string, error) { return "", nil }

func newTestServer(t *testing.T) (*httptest.Server, []byte, []byte) {
	priv := make([]byte, 32)
	for i := range priv {
		priv[i] = byte(i + 1)
	}
	pub, err := publicKeyFromPrivate(priv)
	require.NoError(t, err)

	reg, err := plugin.NewRegistry(plugin.Adapt[string, string, string, string](upcaseHandler{}))
	require.NoError(t, err)

	srv := NewServer(reg, ServerConfig{PrivateKey: priv, PrimaryPublicKey: pub}, zap.NewNop())
	mux := http.NewServeMux()
	srv.Routes(mux)
	return httptest.NewServer(mux), priv, pub
}

func TestServerHandlePrepareSignsResponse(t *testing.T) {
	server, _, pub := newTestServer(t)
	defer server.Close()

	body, err := codec.Encode(codec.Map{"pluginId": "upcase", "input": "abc"})
	require.NoError(t, err)

	resp, err := http.Post(server.URL+"/task/prepare", "application/json", bytesReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))

	encodedData, err := hex.DecodeString(payload["encodedData"])
	require.NoError(t, err)
	decoded, err := codec.Decode(encodedData)
	require.NoError(t, err)
	assert.Equal(t, "ABC", decoded)

	signature, err := hex.DecodeString(payload["signature"])
	require.NoError(t, err)
	assert.True(t, cryptoutil.Verify(encodedData, signature, pub))
}

func TestServerHandleValidateRejectsBadSignature(t *testing.T) {
	server, _, _ := newTestServer(t)
	defer server.Close()

	body, err := codec.Encode(codec.Map{
		"pluginId":     "upcase",
		"input":        "ABC",
		"preparedData": "ABC",
		"signature":    hex.EncodeToString(make([]byte, 64)),
	})
	require.NoError(t, err)

	resp, err := http.Post(server.URL+"/task/validate", "application/json", bytesReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "Invalid signature", payload["error"])
}

func TestServerHandleValidateAcceptsGoodSignature(t *testing.T) {
	server, priv, _ := newTestServer(t)
	defer server.Close()

	encodedPrepared, err := codec.Encode("ABC")
	require.NoError(t, err)
	signature, err := cryptoutil.Sign(encodedPrepared, priv)
	require.NoError(t, err)

	body, err := codec.Encode(codec.Map{
		"pluginId":     "upcase",
		"input":        "ABC",
		"preparedData": "ABC",
		"signature":    hex.EncodeToString(signature),
	})
	require.NoError(t, err)

	resp, err := http.Post(server.URL+"/task/validate", "application/json", bytesReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	encodedData, err := hex.DecodeString(payload["encodedData"])
	require.NoError(t, err)
	decoded, err := codec.Decode(encodedData)
	require.NoError(t, err)
	assert.Equal(t, "ABC-ok", decoded)
}
