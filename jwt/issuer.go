package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the token algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Kind distinguishes the tokens a session uses.
type Kind string

const (
	KindAccess    Kind = "access"
	KindRefresh   Kind = "refresh"
	KindTwoFactor Kind = "2fa"
)

const maxLeeway = 2 * time.Minute

var (
	errNoSigningKey = errors.New("issuer has no signing key")
	errUnknownKID   = errors.New("unknown kid")
)

// Config defines the keys and validation rules of an [Issuer]. Keys may be
// raw bytes or PEM. For HS256 PrivateKey is the shared secret.
//
// With VerifyKeys set, tokens must carry a kid naming one of them. KeyID is
// stamped on issued tokens and, without VerifyKeys, required on verified ones.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// Claims are the claims carried by every token an Issuer signs.
type Claims struct {
	Kind Kind `json:"knd,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens. Keys are parsed once by
// [NewIssuer]; an Issuer is safe for concurrent use.
type Issuer struct {
	method   jwt.SigningMethod
	issuer   string
	audience string
	leeway   time.Duration
	kid      string

	signKey   any
	verifyKey any
	byKID     map[string]any
}

// NewIssuer validates cfg and returns an Issuer. An Ed25519 issuer without a
// private key can only verify.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("leeway must be within [0, %s]", maxLeeway)
	}

	iss := &Issuer{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		leeway:   cfg.Leeway,
		kid:      strings.TrimSpace(cfg.KeyID),
	}

	var parseVerify func([]byte) (any, error)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires a shared secret")
		}
		iss.method = jwt.SigningMethodHS256
		iss.signKey = cfg.PrivateKey
		iss.verifyKey = cfg.PrivateKey
		parseVerify = func(b []byte) (any, error) { return b, nil }

	case MethodEd25519:
		if len(cfg.PublicKey) == 0 && len(cfg.VerifyKeys) == 0 {
			return nil, errors.New("ed25519 requires a public key or verify keys")
		}
		iss.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			iss.signKey = priv
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			iss.verifyKey = pub
		}
		parseVerify = func(b []byte) (any, error) { return parseEdPublicKey(b) }

	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	if len(cfg.VerifyKeys) > 0 {
		iss.byKID = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify keys contain an empty kid")
			}
			key, err := parseVerify(raw)
			if err != nil {
				return nil, fmt.Errorf("verify key %q: %w", kid, err)
			}
			iss.byKID[kid] = key
		}
		if _, ok := iss.byKID[iss.kid]; iss.kid != "" && !ok {
			return nil, fmt.Errorf("key id %q has no verify key", iss.kid)
		}
	}
	return iss, nil
}

// Issue signs a token of kind for subject, valid for ttl from now.
func (iss *Issuer) Issue(kind Kind, subject string, ttl time.Duration, now time.Time) (string, error) {
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}
	if iss.signKey == nil {
		return "", errNoSigningKey
	}

	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    iss.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if iss.audience != "" {
		claims.Audience = jwt.ClaimStrings{iss.audience}
	}

	token := jwt.NewWithClaims(iss.method, claims)
	if iss.kid != "" {
		token.Header["kid"] = iss.kid
	}
	return token.SignedString(iss.signKey)
}

// Verify checks signature, algorithm, issuer, audience and expiry as of now.
// A non-empty want additionally requires the token kind.
func (iss *Issuer) Verify(tokenStr string, want Kind, now time.Time) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{iss.method.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(iss.leeway),
	}
	if iss.issuer != "" {
		opts = append(opts, jwt.WithIssuer(iss.issuer))
	}
	if iss.audience != "" {
		opts = append(opts, jwt.WithAudience(iss.audience))
	}

	claims := &Claims{}
	if _, err := jwt.NewParser(opts...).ParseWithClaims(tokenStr, claims, iss.keyFor); err != nil {
		return nil, err
	}
	if want != "" && claims.Kind != want {
		return nil, fmt.Errorf("%w: token kind %q, want %q", jwt.ErrTokenInvalidClaims, claims.Kind, want)
	}
	return claims, nil
}

// keyFor picks the verification key for t by its kid header.
func (iss *Issuer) keyFor(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if iss.byKID != nil {
		if key, ok := iss.byKID[kid]; ok {
			return key, nil
		}
		return nil, errUnknownKID
	}
	if iss.kid != "" && kid != iss.kid {
		return nil, errUnknownKID
	}
	if iss.verifyKey == nil {
		return nil, errors.New("issuer has no verify key")
	}
	return iss.verifyKey, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("ed25519 private key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("ed25519 private key: unexpected key type")
	}
	return priv, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("ed25519 public key: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("ed25519 public key: unexpected key type")
	}
	return pub, nil
}
