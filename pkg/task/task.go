// Package task implements the protocol: one Task drives a single plugin
// invocation through Prepare (local + peer fan-out), Process (primary-only
// aggregation), Validate (serial signature chain), and Execute
// (primary-only submission). A Coordinator holds its injected
// collaborators (registry, peer client, logger, metrics) plus config, with
// one method per phase and a top-level Run that sequences them.
package task

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/megayours/megaforwarder/pkg/audit"
	"github.com/megayours/megaforwarder/pkg/codec"
	"github.com/megayours/megaforwarder/pkg/oracleerr"
	"github.com/megayours/megaforwarder/pkg/peer"
	"github.com/megayours/megaforwarder/pkg/plugin"
)

// Config holds the process-wide, read-only parameters the coordinator
// consults for every Task — the peer list and quorum threshold are
// immutable for the process lifetime; nothing mutates a Config after
// construction.
type Config struct {
	NodeID    string
	PublicKey []byte
	Peers     []peer.Peer
	// PeerTimeout bounds the Prepare-phase peer fan-out. nil picks
	// DefaultPeerTimeout. An explicit zero duration is not "unset" — it
	// means the coordinator accepts no peer contributions at all (the
	// fan-out is skipped entirely), so a caller that genuinely wants zero
	// tolerance for peer latency can express it; only MinSignaturesRequired
	// <= 1 can then succeed.
	PeerTimeout           *time.Duration
	MinSignaturesRequired int
}

// DefaultPeerTimeout is the prepare fan-out deadline used when Config
// leaves PeerTimeout unset.
const DefaultPeerTimeout = 30 * time.Second

// Metrics is the subset of metrics.Recorder the coordinator needs;
// declared as an interface here so tests can supply a fake without
// depending on a live Prometheus registry.
type Metrics interface {
	ObserveTaskSuccess(pluginID string, duration time.Duration)
	ObserveTaskFailure(pluginID string, kind string)
}

// Coordinator runs Tasks against a plugin registry and peer set. It is a
// process-wide singleton in the source — construct once at startup and
// pass it down by reference, per the protocol's redesign note preferring
// explicit construction and a shared immutable structure over a global.
type Coordinator struct {
	registry    *plugin.Registry
	client      peer.Client
	cfg         Config
	peerTimeout time.Duration
	logger      *zap.Logger
	metrics     Metrics
	audit       audit.Sink
}

func NewCoordinator(registry *plugin.Registry, client peer.Client, cfg Config, logger *zap.Logger, recorder Metrics) *Coordinator {
	peerTimeout := DefaultPeerTimeout
	if cfg.PeerTimeout != nil {
		peerTimeout = *cfg.PeerTimeout
	}
	return &Coordinator{registry: registry, client: client, cfg: cfg, peerTimeout: peerTimeout, logger: logger, metrics: recorder}
}

// SetAuditSink attaches the optional best-effort audit sink. Left unset,
// Run records nothing beyond metrics — matching audit.Factory's own
// "absent DSN means no-op" default.
func (c *Coordinator) SetAuditSink(sink audit.Sink) {
	c.audit = sink
}

func (c *Coordinator) recordAudit(pluginID, outcome, kind string, startedAt time.Time, peerCount int) {
	if c.audit == nil {
		return
	}
	c.audit.Record(context.Background(), audit.TaskAuditRecord{
		TaskID:     uuid.NewString(),
		PluginID:   pluginID,
		Outcome:    outcome,
		Kind:       kind,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		PeerCount:  peerCount,
	})
}

// preparedRecord is the coordinator's internal bookkeeping for one
// contributor's Prepare result. peerID is "" for the local record; for
// peer records, prepared holds the decoded value (what plugin.Process
// sees) while encodedHex/signatureHex carry the raw wire material
// Validate needs to re-present to that same peer.
type preparedRecord struct {
	peerID       string
	peerPubKey   string
	prepared     any
	encodedHex   string
	signatureHex *string
}

// Run executes one Task to a terminal state: the plugin's typed Output and
// nil error on success, or a nil Output and a tagged *oracleerr.Error on
// failure. Run never converts an unexpected panic into a success.
func (c *Coordinator) Run(ctx context.Context, pluginID string, input any) (any, error) {
	startedAt := time.Now()

	handler, err := c.registry.Get(pluginID)
	if err != nil {
		c.observeFailure(pluginID, err)
		c.recordAudit(pluginID, "failure", string(oracleerr.KindOf(err)), startedAt, 0)
		return nil, err
	}

	records, vacuous, err := c.prepare(ctx, handler, pluginID, input)
	if err != nil {
		c.observeFailure(pluginID, err)
		c.recordAudit(pluginID, "failure", string(oracleerr.KindOf(err)), startedAt, len(records))
		return nil, err
	}
	if vacuous {
		c.metrics.ObserveTaskSuccess(pluginID, time.Since(startedAt))
		c.recordAudit(pluginID, "success", "", startedAt, len(records))
		return nil, nil
	}

	aggregated, err := handler.Process(ctx, erase(records))
	if err != nil {
		if oracleerr.IsKind(err, oracleerr.KindNonError) {
			// Unlike the KindPermanentError short-circuit at prepare, a
			// non-error at process records no task metric at all: the
			// plugin is reporting "already handled," not a completed run.
			c.logger.Info("non-error at process, succeeding task vacuously",
				zap.String("pluginId", pluginID), zap.Error(err))
			c.recordAudit(pluginID, "success", "", startedAt, len(records))
			return nil, nil
		}
		wrapped := oracleerr.Wrap(err, oracleerr.KindProcessError, "plugin process failed")
		c.observeFailure(pluginID, wrapped)
		c.recordAudit(pluginID, "failure", string(oracleerr.KindProcessError), startedAt, len(records))
		return nil, wrapped
	}

	finalAggregated, err := c.validate(ctx, handler, pluginID, aggregated, records)
	if err != nil {
		c.observeFailure(pluginID, err)
		c.recordAudit(pluginID, "failure", string(oracleerr.KindOf(err)), startedAt, len(records))
		return nil, err
	}

	output, err := handler.Execute(ctx, finalAggregated)
	if err != nil {
		if isDuplicateSubmission(err) {
			c.logger.Info("execute reported duplicate submission, treating as success",
				zap.String("pluginId", pluginID))
			c.metrics.ObserveTaskSuccess(pluginID, time.Since(startedAt))
			c.recordAudit(pluginID, "success", "", startedAt, len(records))
			return nil, nil
		}
		wrapped := oracleerr.Wrap(err, oracleerr.KindExecuteError, "plugin execute failed")
		c.observeFailure(pluginID, wrapped)
		c.recordAudit(pluginID, "failure", string(oracleerr.KindExecuteError), startedAt, len(records))
		return nil, wrapped
	}

	c.metrics.ObserveTaskSuccess(pluginID, time.Since(startedAt))
	c.recordAudit(pluginID, "success", "", startedAt, len(records))
	return output, nil
}

// prepare implements Phase 1. It returns (records, vacuousSuccess, err).
func (c *Coordinator) prepare(ctx context.Context, handler plugin.ErasedHandler, pluginID string, input any) ([]preparedRecord, bool, error) {
	localPrepared, err := handler.Prepare(ctx, input)
	if err != nil {
		if oracleerr.IsKind(err, oracleerr.KindPermanentError) {
			c.logger.Info("permanent error at prepare, succeeding task vacuously",
				zap.String("pluginId", pluginID), zap.Error(err))
			return nil, true, nil
		}
		return nil, false, oracleerr.Wrap(err, oracleerr.KindPrepareError, "local prepare failed")
	}

	records := []preparedRecord{{
		peerID:     "",
		peerPubKey: hex.EncodeToString(c.cfg.PublicKey),
		prepared:   localPrepared,
		encodedHex: plugin.PrimaryMarker,
	}}

	if len(c.cfg.Peers) == 0 || c.peerTimeout <= 0 {
		// peerTimeout == 0 means the caller configured zero tolerance for
		// peer latency: no fan-out is attempted, so only the local record
		// ever contributes.
		return c.finishPrepare(pluginID, records)
	}

	fanCtx, cancel := context.WithTimeout(ctx, c.peerTimeout)
	defer cancel()

	type result struct {
		record preparedRecord
		ok     bool
	}
	resultsCh := make(chan result, len(c.cfg.Peers))

	group, groupCtx := errgroup.WithContext(fanCtx)
	for _, p := range c.cfg.Peers {
		p := p
		group.Go(func() error {
			res, err := c.client.Prepare(groupCtx, p, pluginID, input)
			if err != nil {
				c.logger.Warn("peer prepare failed", zap.String("peerId", p.ID), zap.Error(err))
				resultsCh <- result{ok: false}
				return nil // one peer's failure never aborts the fan-out
			}
			decoded, err := codec.Decode(res.EncodedData)
			if err != nil {
				c.logger.Warn("peer prepare returned undecodable payload", zap.String("peerId", p.ID), zap.Error(err))
				resultsCh <- result{ok: false}
				return nil
			}
			sig := hex.EncodeToString(res.Signature)
			resultsCh <- result{ok: true, record: preparedRecord{
				peerID:       p.ID,
				peerPubKey:   hex.EncodeToString(p.PublicKey),
				prepared:     decoded,
				encodedHex:   hex.EncodeToString(res.EncodedData),
				signatureHex: &sig,
			}}
			return nil
		})
	}
	_ = group.Wait() // per-peer errors are swallowed above; the group itself never fails
	close(resultsCh)

	for res := range resultsCh {
		if res.ok {
			records = append(records, res.record)
		}
	}

	return c.finishPrepare(pluginID, records)
}

func (c *Coordinator) finishPrepare(pluginID string, records []preparedRecord) ([]preparedRecord, bool, error) {
	if len(records) < c.cfg.MinSignaturesRequired {
		return nil, false, oracleerr.Newf(oracleerr.KindInsufficientPeers,
			"collected %d of %d required prepares", len(records), c.cfg.MinSignaturesRequired).
			WithContext("pluginId", pluginID).
			WithContext("collected", len(records)).
			WithContext("required", c.cfg.MinSignaturesRequired)
	}
	return records, false, nil
}

// validate implements Phase 3: local validate, then a serial chain over
// every peer that contributed a prepare, visited in cfg.Peers order.
func (c *Coordinator) validate(ctx context.Context, handler plugin.ErasedHandler, pluginID string, aggregated any, records []preparedRecord) (any, error) {
	var myPrepared any
	for _, r := range records {
		if r.peerID == "" {
			myPrepared = r.prepared
			break
		}
	}

	current, err := handler.Validate(ctx, aggregated, myPrepared)
	if err != nil {
		return nil, oracleerr.Wrap(err, oracleerr.KindValidationError, "local validate failed")
	}

	contributed := make(map[string]preparedRecord, len(records))
	for _, r := range records {
		if r.peerID != "" {
			contributed[r.peerID] = r
		}
	}

	for _, p := range c.cfg.Peers {
		record, ok := contributed[p.ID]
		if !ok {
			continue
		}
		signature, err := hex.DecodeString(*record.signatureHex)
		if err != nil {
			return nil, oracleerr.Wrapf(err, oracleerr.KindValidationError, "decode signature from peer %s", p.ID)
		}
		result, err := c.client.Validate(ctx, p, pluginID, current, record.prepared, signature)
		if err != nil {
			return nil, oracleerr.Wrapf(err, oracleerr.KindValidationError, "peer %s validate failed", p.ID)
		}
		decoded, err := codec.Decode(result.EncodedData)
		if err != nil {
			return nil, oracleerr.Wrapf(err, oracleerr.KindValidationError, "decode aggregated value from peer %s", p.ID)
		}
		current = decoded
	}

	return current, nil
}

func (c *Coordinator) observeFailure(pluginID string, err error) {
	kind := oracleerr.KindOf(err)
	c.logger.Error("task failed",
		zap.String("nodeId", c.cfg.NodeID),
		zap.String("pluginId", pluginID),
		zap.String("kind", string(kind)),
		zap.Error(err))
	c.metrics.ObserveTaskFailure(pluginID, string(kind))
}

func erase(records []preparedRecord) []plugin.ErasedPeerPrepareRecord {
	out := make([]plugin.ErasedPeerPrepareRecord, 0, len(records))
	for _, r := range records {
		out = append(out, plugin.ErasedPeerPrepareRecord{
			PeerPublicKey:  r.peerPubKey,
			Prepared:       r.prepared,
			EncodedDataHex: r.encodedHex,
			SignatureHex:   r.signatureHex,
		})
	}
	return out
}

// isDuplicateSubmission reports whether err represents the downstream
// chain's HTTP 409 "already submitted" signal.
func isDuplicateSubmission(err error) bool {
	type statusCoder interface{ StatusCode() int }
	if sc, ok := err.(statusCoder); ok {
		return sc.StatusCode() == 409
	}
	return oracleerr.IsKind(err, oracleerr.KindNonError)
}
