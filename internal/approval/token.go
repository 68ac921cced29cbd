// ABOUTME: Approval token signing and offline verification
// ABOUTME: HS256 JWTs binding envelope, workspace, and approving user

package approval

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidApprovalToken is returned for any token that fails verification.
// Tampered and wrong-secret tokens are indistinguishable from garbage; there
// is never a partial parse result.
var ErrInvalidApprovalToken = errors.New("invalid approval token")

// devSigningSecret is the fallback used when no signing secret is configured.
// It exists so development setups work out of the box; NewSigner logs a loud
// warning whenever it is active. Verification is never disabled.
const devSigningSecret = "relay-dev-approval-signing-secret"

// Claims is the verified content of an approval token.
type Claims struct {
	EnvelopeID  string
	WorkspaceID string
	ApproverID  string
	IssuedAt    time.Time
}

// Signer mints and verifies approval tokens. Tokens are generated only on
// approval, never on denial, and are bound to a single envelope and workspace
// so they cannot be replayed elsewhere.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer with the configured secret. An empty secret
// selects the development fallback, which is logged as a warning.
func NewSigner(secret string, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	if secret == "" {
		logger.Warn("no token_signing_secret configured - using development fallback, approval tokens are NOT secure")
		secret = devSigningSecret
	}
	return &Signer{secret: []byte(secret)}
}

// Sign produces a compact token binding the envelope, workspace, and
// approving user.
func (s *Signer) Sign(envelopeID, workspaceID, approverID string) (string, error) {
	claims := jwt.MapClaims{
		"env": envelopeID,
		"ws":  workspaceID,
		"sub": approverID,
		"iat": time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing approval token: %w", err)
	}
	return signed, nil
}

// Verify validates a token offline and returns its claims.
// Any failure returns ErrInvalidApprovalToken.
func (s *Signer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidApprovalToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidApprovalToken
	}

	env, _ := mapClaims["env"].(string)
	ws, _ := mapClaims["ws"].(string)
	sub, _ := mapClaims["sub"].(string)
	if env == "" || ws == "" || sub == "" {
		return nil, ErrInvalidApprovalToken
	}

	claims := &Claims{
		EnvelopeID:  env,
		WorkspaceID: ws,
		ApproverID:  sub,
	}
	if iat, ok := mapClaims["iat"].(float64); ok {
		claims.IssuedAt = time.Unix(int64(iat), 0)
	}
	return claims, nil
}
