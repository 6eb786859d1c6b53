package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megayours/megaforwarder/pkg/cache"
	"github.com/megayours/megaforwarder/pkg/config"
	"github.com/megayours/megaforwarder/pkg/eventbus"
	"github.com/megayours/megaforwarder/pkg/oracleerr"
)

type fakeCoordinator struct {
	lastPluginID string
	lastInput    any
	err          error
}

func (f *fakeCoordinator) Run(_ context.Context, pluginID string, input any) (any, error) {
	f.lastPluginID = pluginID
	f.lastInput = input
	if f.err != nil {
		return nil, f.err
	}
	return "done", nil
}

type fakeBus struct {
	published []eventbus.Event
}

func (f *fakeBus) Publish(_ context.Context, event eventbus.Event) error {
	f.published = append(f.published, event)
	return nil
}
func (f *fakeBus) Close() error { return nil }

func newTestServer(t *testing.T, coordinator Coordinator, bus eventbus.Bus, webhook config.HeliusWebhookConfig) (*Server, cache.Store) {
	store, err := cache.Factory(cache.BackendMemory, cache.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s, err := NewServer(Dependencies{
		Config:      Config{ListenAddr: "127.0.0.1:0", Webhook: webhook},
		Coordinator: coordinator,
		Cache:       store,
		Bus:         bus,
		Sources:     []string{"ethereum", "polygon"},
	})
	require.NoError(t, err)
	return s, store
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s, _ := newTestServer(t, &fakeCoordinator{}, &fakeBus{}, config.HeliusWebhookConfig{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.setupRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "OK", body["message"])
}

func TestHandleSourcesListsConfiguredChains(t *testing.T) {
	s, _ := newTestServer(t, &fakeCoordinator{}, &fakeBus{}, config.HeliusWebhookConfig{})
	req := httptest.NewRequest(http.MethodGet, "/sources", nil)
	rec := httptest.NewRecorder()
	s.setupRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var sources []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sources))
	assert.Equal(t, []string{"ethereum", "polygon"}, sources)
}

func TestHandleTaskRunsCoordinatorAndReturnsOK(t *testing.T) {
	coord := &fakeCoordinator{}
	s, _ := newTestServer(t, coord, &fakeBus{}, config.HeliusWebhookConfig{})

	body := strings.NewReader(`{"pluginId":"bridge","input":{"chain":"ethereum"}}`)
	req := httptest.NewRequest(http.MethodPost, "/task", body)
	rec := httptest.NewRecorder()
	s.setupRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, "bridge", coord.lastPluginID)
}

func TestHandleTaskMapsOracleErrorToItsHTTPStatus(t *testing.T) {
	coord := &fakeCoordinator{err: oracleerr.New(oracleerr.KindInsufficientPeers, "not enough prepares")}
	s, _ := newTestServer(t, coord, &fakeBus{}, config.HeliusWebhookConfig{})

	body := strings.NewReader(`{"pluginId":"bridge","input":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/task", body)
	rec := httptest.NewRecorder()
	s.setupRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleTaskRejectsMissingPluginID(t *testing.T) {
	s, _ := newTestServer(t, &fakeCoordinator{}, &fakeBus{}, config.HeliusWebhookConfig{})
	req := httptest.NewRequest(http.MethodPost, "/task", strings.NewReader(`{"input":{}}`))
	rec := httptest.NewRecorder()
	s.setupRouter().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWebhookRejectsBadAuthorization(t *testing.T) {
	s, _ := newTestServer(t, &fakeCoordinator{}, &fakeBus{}, config.HeliusWebhookConfig{SharedSecret: "super-secret"})
	req := httptest.NewRequest(http.MethodPost, "/helius/webhook", strings.NewReader(`[]`))
	req.Header.Set("Authorization", "wrong")
	rec := httptest.NewRecorder()
	s.setupRouter().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleWebhookFiltersByTrackedMintAndDispatchesOnce(t *testing.T) {
	bus := &fakeBus{}
	webhook := config.HeliusWebhookConfig{SharedSecret: "super-secret", TrackedMints: []string{"tracked-mint"}}
	s, _ := newTestServer(t, &fakeCoordinator{}, bus, webhook)

	payload := `[{
		"signature": "sig1",
		"tokenTransfers": [
			{"mint": "tracked-mint", "tokenAmount": 5, "fromUserAccount": "alice", "toUserAccount": "bob"},
			{"mint": "untracked-mint", "tokenAmount": 1, "fromUserAccount": "carol", "toUserAccount": "dave"}
		]
	}]`
	req := httptest.NewRequest(http.MethodPost, "/helius/webhook", strings.NewReader(payload))
	req.Header.Set("Authorization", "super-secret")
	rec := httptest.NewRecorder()
	s.setupRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, bus.published, 2, "only the tracked mint's transfer dispatches, once per account side")
	accounts := []string{bus.published[0].Account, bus.published[1].Account}
	assert.ElementsMatch(t, []string{"alice", "bob"}, accounts)
}

func TestHandleWebhookDedupsRepeatedDeltaWithinTTL(t *testing.T) {
	bus := &fakeBus{}
	webhook := config.HeliusWebhookConfig{SharedSecret: "super-secret", TrackedMints: []string{"tracked-mint"}}
	s, _ := newTestServer(t, &fakeCoordinator{}, bus, webhook)

	payload := `[{"signature":"sig1","tokenTransfers":[{"mint":"tracked-mint","fromUserAccount":"alice","toUserAccount":""}]}]`

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/helius/webhook", strings.NewReader(payload))
		req.Header.Set("Authorization", "super-secret")
		rec := httptest.NewRecorder()
		s.setupRouter().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Len(t, bus.published, 1, "a repeated (mint, account) delta within the dedup TTL dispatches only once")
}

func TestCORSPreflightReturnsNoContent(t *testing.T) {
	s, _ := newTestServer(t, &fakeCoordinator{}, &fakeBus{}, config.HeliusWebhookConfig{})
	req := httptest.NewRequest(http.MethodOptions, "/task", nil)
	rec := httptest.NewRecorder()
	s.setupRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
