// Package peer implements the node-to-node wire protocol: both peer
// server endpoints accept a codec-encoded binary body under a mislabeled
// "application/json" content-type, and answer with JSON carrying
// hex-encoded fields. The server is a plain net/http.ServeMux, no router
// framework.
package peer

// Peer identifies a configured counterpart node: its public key (for
// signature verification) and the address its peer server listens on.
type Peer struct {
	ID        string
	PublicKey []byte // 33-byte compressed secp256k1 public key
	Address   string // host:port, no scheme
}
