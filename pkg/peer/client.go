package peer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/megayours/megaforwarder/pkg/codec"
	"github.com/megayours/megaforwarder/pkg/oracleerr"
)

// PrepareResult is the decoded response of a successful /task/prepare call.
type PrepareResult struct {
	EncodedData []byte
	Signature   []byte
}

// ValidateResult is the decoded response of a successful /task/validate call.
type ValidateResult struct {
	EncodedData []byte
}

// Client is the outbound half of the peer wire protocol: calling another
// configured node's /task/prepare and /task/validate.
type Client interface {
	Prepare(ctx context.Context, p Peer, pluginID string, input any) (PrepareResult, error)
	Validate(ctx context.Context, p Peer, pluginID string, input any, preparedData any, signature []byte) (ValidateResult, error)
}

// HTTPClient is the production Client, one *http.Client shared across
// calls (connection pooling delegated to net/http's transport, per the
// protocol's "resource scoping" note that there is no protocol-layer pool).
type HTTPClient struct {
	httpClient *http.Client
}

func NewHTTPClient(httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{httpClient: httpClient}
}

func (c *HTTPClient) Prepare(ctx context.Context, p Peer, pluginID string, input any) (PrepareResult, error) {
	body, err := codec.Encode(codec.Map{"pluginId": pluginID, "input": input})
	if err != nil {
		return PrepareResult{}, oracleerr.Wrap(err, oracleerr.KindPrepareError, "encode prepare request")
	}

	resp, err := c.post(ctx, p, "/task/prepare", body)
	if err != nil {
		return PrepareResult{}, err
	}
	defer resp.Body.Close()

	payload, err := decodeJSONResponse(resp)
	if err != nil {
		return PrepareResult{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return PrepareResult{}, errorFromPayload(resp.StatusCode, payload)
	}

	encodedData, err := hexField(payload, "encodedData")
	if err != nil {
		return PrepareResult{}, err
	}
	signature, err := hexField(payload, "signature")
	if err != nil {
		return PrepareResult{}, err
	}
	return PrepareResult{EncodedData: encodedData, Signature: signature}, nil
}

func (c *HTTPClient) Validate(ctx context.Context, p Peer, pluginID string, input any, preparedData any, signature []byte) (ValidateResult, error) {
	body, err := codec.Encode(codec.Map{
		"pluginId":     pluginID,
		"input":        input,
		"preparedData": preparedData,
		"signature":    hex.EncodeToString(signature),
	})
	if err != nil {
		return ValidateResult{}, oracleerr.Wrap(err, oracleerr.KindValidationError, "encode validate request")
	}

	resp, err := c.post(ctx, p, "/task/validate", body)
	if err != nil {
		return ValidateResult{}, err
	}
	defer resp.Body.Close()

	payload, err := decodeJSONResponse(resp)
	if err != nil {
		return ValidateResult{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return ValidateResult{}, errorFromPayload(resp.StatusCode, payload)
	}

	encodedData, err := hexField(payload, "encodedData")
	if err != nil {
		return ValidateResult{}, err
	}
	return ValidateResult{EncodedData: encodedData}, nil
}

func (c *HTTPClient) post(ctx context.Context, p Peer, path string, body []byte) (*http.Response, error) {
	url := fmt.Sprintf("http://%s%s", p.Address, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, oracleerr.Wrap(err, oracleerr.KindTimeout, "build peer request")
	}
	// Mislabeled per the wire protocol: the body is the binary codec, not JSON.
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, oracleerr.Wrap(ctx.Err(), oracleerr.KindTimeout, fmt.Sprintf("peer %s %s timed out", p.ID, path))
		}
		return nil, oracleerr.Wrap(err, oracleerr.KindPluginError, fmt.Sprintf("peer %s %s request failed", p.ID, path))
	}
	return resp, nil
}

func decodeJSONResponse(resp *http.Response) (map[string]any, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, oracleerr.Wrap(err, oracleerr.KindInternal, "read peer response body")
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, oracleerr.Wrap(err, oracleerr.KindInternal, "decode peer response JSON")
	}
	return payload, nil
}

func hexField(payload map[string]any, field string) ([]byte, error) {
	v, ok := payload[field].(string)
	if !ok {
		return nil, oracleerr.Newf(oracleerr.KindInternal, "peer response missing field %q", field)
	}
	decoded, err := hex.DecodeString(v)
	if err != nil {
		return nil, oracleerr.Wrapf(err, oracleerr.KindInternal, "decode hex field %q", field)
	}
	return decoded, nil
}

func errorFromPayload(status int, payload map[string]any) error {
	kind := oracleerr.KindPluginError
	if status == http.StatusBadRequest {
		kind = oracleerr.KindValidationError
	} else if status == http.StatusNotFound {
		kind = oracleerr.KindNotFound
	}
	msg, _ := payload["error"].(string)
	if msg == "" {
		msg = fmt.Sprintf("peer returned status %d", status)
	}
	e := oracleerr.New(kind, msg)
	if ctx, ok := payload["context"].(map[string]any); ok {
		e.Context = ctx
	}
	return e
}
