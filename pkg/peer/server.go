package peer

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/megayours/megaforwarder/pkg/codec"
	"github.com/megayours/megaforwarder/pkg/cryptoutil"
	"github.com/megayours/megaforwarder/pkg/oracleerr"
	"github.com/megayours/megaforwarder/pkg/plugin"
	"go.uber.org/zap"
)

// ServerConfig configures a Server: the local signing key (to sign
// /task/prepare responses) and the network's primary public key (to verify
// /task/validate request signatures against). Every node, primary or
// secondary, can serve both endpoints statelessly.
type ServerConfig struct {
	PrivateKey       []byte
	PrimaryPublicKey []byte
}

// Server answers the two peer endpoints. It holds no per-request state;
// any node can serve either endpoint, matching the protocol's "both
// endpoints are stateless" rule.
type Server struct {
	registry *plugin.Registry
	cfg      ServerConfig
	logger   *zap.Logger
}

func NewServer(registry *plugin.Registry, cfg ServerConfig, logger *zap.Logger) *Server {
	return &Server{registry: registry, cfg: cfg, logger: logger}
}

// Routes registers the peer endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/task/prepare", s.handlePrepare)
	mux.HandleFunc("/task/validate", s.handleValidate)
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	body, err := readAll(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, oracleerr.Wrap(err, oracleerr.KindPrepareError, "read request body"))
		return
	}

	decoded, err := codec.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, oracleerr.Wrap(err, oracleerr.KindPrepareError, "decode request body"))
		return
	}
	req, ok := decoded.(codec.Map)
	if !ok {
		writeError(w, http.StatusBadRequest, oracleerr.New(oracleerr.KindPrepareError, "request body is not a map"))
		return
	}

	pluginID, _ := req["pluginId"].(string)
	handler, err := s.registry.Get(pluginID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	prepared, err := handler.Prepare(r.Context(), req["input"])
	if err != nil {
		s.logger.Warn("peer prepare failed", zap.String("pluginId", pluginID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, oracleerr.Wrap(err, oracleerr.KindPrepareError, "plugin prepare failed"))
		return
	}

	encoded, err := codec.Encode(prepared)
	if err != nil {
		writeError(w, http.StatusInternalServerError, oracleerr.Wrap(err, oracleerr.KindPrepareError, "encode prepared value"))
		return
	}
	signature, err := cryptoutil.Sign(encoded, s.cfg.PrivateKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, oracleerr.Wrap(err, oracleerr.KindPrepareError, "sign prepared value"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"encodedData": hex.EncodeToString(encoded),
		"signature":   hex.EncodeToString(signature),
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, err := readAll(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, oracleerr.Wrap(err, oracleerr.KindValidationError, "read request body"))
		return
	}

	decoded, err := codec.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, oracleerr.Wrap(err, oracleerr.KindValidationError, "decode request body"))
		return
	}
	req, ok := decoded.(codec.Map)
	if !ok {
		writeError(w, http.StatusBadRequest, oracleerr.New(oracleerr.KindValidationError, "request body is not a map"))
		return
	}

	preparedData := req["preparedData"]
	signatureHex, _ := req["signature"].(string)
	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid signature"})
		return
	}

	encodedPrepared, err := codec.Encode(preparedData)
	if err != nil {
		writeError(w, http.StatusBadRequest, oracleerr.Wrap(err, oracleerr.KindValidationError, "encode preparedData"))
		return
	}
	if !cryptoutil.Verify(encodedPrepared, signature, s.cfg.PrimaryPublicKey) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid signature"})
		return
	}

	pluginID, _ := req["pluginId"].(string)
	handler, err := s.registry.Get(pluginID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	newAggregated, err := handler.Validate(r.Context(), req["input"], preparedData)
	if err != nil {
		s.logger.Warn("peer validate failed", zap.String("pluginId", pluginID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, oracleerr.Wrap(err, oracleerr.KindValidationError, "plugin validate failed"))
		return
	}

	encoded, err := codec.Encode(newAggregated)
	if err != nil {
		writeError(w, http.StatusInternalServerError, oracleerr.Wrap(err, oracleerr.KindValidationError, "encode aggregated value"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"encodedData": hex.EncodeToString(encoded)})
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	errorTag := string(oracleerr.KindOf(err))
	if errorTag == "" {
		errorTag = err.Error()
	}
	payload := map[string]any{"error": errorTag}
	if ctx := oracleerr.ContextOf(err); ctx != nil {
		payload["context"] = ctx
	}
	writeJSON(w, status, payload)
}
