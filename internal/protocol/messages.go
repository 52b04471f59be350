// Package protocol defines the wire messages of the admission
// handshake. The transport is plain TCP, message-per-read with no
// length prefix: a fixed receive buffer truncates anything larger.
// The cap is preserved as-is for compatibility with deployed viewers.
package protocol

// MaxMessageSize is the fixed receive buffer size. A handshake message
// larger than this is truncated, which makes it unparsable and drops
// the connection.
const MaxMessageSize = 4096

// DisconnectCommand is the literal in-session payload that ends a
// session. Any other payload is opaque to the admission core and is
// forwarded to the input-handling collaborator.
const DisconnectCommand = "DISCONNECT"

// Static display dimensions sent on handshake success, pending real
// capture negotiation.
const (
	ScreenWidth  = 1920
	ScreenHeight = 1080
)

// Handshake rejection reasons sent to the client.
const (
	ErrInvalidPassword = "Invalid password"
	ErrNoConsent       = "No consent"
	ErrConsentNotFound = "Consent record not found"
	ErrServerBusy      = "Server busy"
)

// AuthRequest is the single client-to-server handshake message. Field
// names are capitalized on the wire; the deployed viewer sends them
// that way.
type AuthRequest struct {
	Password string `json:"Password"`
	Username string `json:"Username"`
}

// HandshakeResponse is the server's reply. On failure only Success and
// Error are set; on success SessionID and the display dimensions.
type HandshakeResponse struct {
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	ScreenWidth  int    `json:"screenWidth,omitempty"`
	ScreenHeight int    `json:"screenHeight,omitempty"`
}
