package httphandler

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureHeader carries the dispatcher's signed JWT.
const SignatureHeader = "Upstash-Signature"

const signatureIssuer = "Upstash"

// Task hook authentication errors.
var (
	ErrMissingSignature = errors.New("missing task signature")
	ErrInvalidSignature = errors.New("invalid task signature")
)

// taskClaims are the claims the dispatcher signs. Body is the unpadded
// base64url SHA-256 of the request body.
type taskClaims struct {
	jwt.RegisteredClaims
	Body string `json:"body"`
}

// TaskVerifier authenticates task hook calls. Tokens signed with either the
// current or the next signing key are accepted so keys can be rotated.
type TaskVerifier struct {
	keys   [][]byte
	leeway time.Duration
	now    func() time.Time
}

// NewTaskVerifier creates a verifier for the given keys. It returns nil when
// both keys are empty, which disables the task hooks.
func NewTaskVerifier(current, next string) *TaskVerifier {
	var keys [][]byte
	for _, k := range []string{current, next} {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return &TaskVerifier{keys: keys, leeway: 30 * time.Second, now: time.Now}
}

// Verify checks the signature over body for a call to path.
func (v *TaskVerifier) Verify(signature string, body []byte, path string) error {
	if signature == "" {
		return ErrMissingSignature
	}

	var lastErr error
	for _, key := range v.keys {
		claims, err := v.parse(signature, key)
		if err != nil {
			lastErr = err
			continue
		}
		return checkClaims(claims, body, path)
	}
	return fmt.Errorf("%w: %w", ErrInvalidSignature, lastErr)
}

func (v *TaskVerifier) parse(signature string, key []byte) (*taskClaims, error) {
	claims := &taskClaims{}
	token, err := jwt.ParseWithClaims(signature, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(signatureIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}

func checkClaims(claims *taskClaims, body []byte, path string) error {
	sum := sha256.Sum256(body)
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if strings.TrimRight(claims.Body, "=") != want {
		return fmt.Errorf("%w: body hash mismatch", ErrInvalidSignature)
	}

	if claims.Subject == "" {
		return nil
	}
	subject, err := url.Parse(claims.Subject)
	if err != nil {
		return fmt.Errorf("%w: subject: %w", ErrInvalidSignature, err)
	}
	if !strings.HasSuffix(strings.TrimRight(subject.Path, "/"), strings.TrimRight(path, "/")) {
		return fmt.Errorf("%w: signed for %s", ErrInvalidSignature, claims.Subject)
	}
	return nil
}
