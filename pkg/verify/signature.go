package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
	"github.com/apex/log"
	"github.com/pkg/errors"
)

const (
	// TorBrowserFingerprint is the fingerprint of the Tor Browser Developers
	// signing key.
	TorBrowserFingerprint = "EF6E286DDA85EA2A4BA7DE684E2C6E8793298290"

	// DefaultKeyServer serves armored public keys by fingerprint.
	DefaultKeyServer = "https://keys.openpgp.org/vks/v1/by-fingerprint/"
)

var fingerprintRegexp = regexp.MustCompile(`^[0-9A-F]{40}$`)

// Outcome is the result of a signature check.
type Outcome int

const (
	// Unavailable means no check could be performed.
	Unavailable Outcome = iota
	// Verified means the signature matched a trusted key.
	Verified
	// NotVerified means the signature did not match.
	NotVerified
)

func (o Outcome) String() string {
	switch o {
	case Verified:
		return "verified"
	case NotVerified:
		return "not verified"
	default:
		return "unavailable"
	}
}

// Allows reports whether the outcome lets the artifact through when
// signatures are not mandatory. Unavailable degrades to true.
func (o Outcome) Allows() bool {
	return o != NotVerified
}

// Verifier checks a detached signature for a downloaded file.
type Verifier interface {
	Verify(ctx context.Context, filePath, sigPath string) (Outcome, error)
}

// SignatureError is returned when a downloaded artifact fails its
// signature check.
type SignatureError struct {
	Filename string
	Outcome  Outcome
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature check for %s: %s", e.Filename, e.Outcome)
}

type disabled struct{}

func (disabled) Verify(context.Context, string, string) (Outcome, error) {
	return Unavailable, nil
}

// Disabled is a Verifier that never performs a check.
var Disabled Verifier = disabled{}

// TextFetcher retrieves a small text document such as an armored key.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// PGPVerifier checks detached OpenPGP signatures against a single
// public key identified by fingerprint. The key is loaded once, either
// from an armored string or from the key server.
type PGPVerifier struct {
	Fingerprint string
	KeyServer   string

	fetcher TextFetcher
	armored string

	mu      sync.Mutex
	keyRing *crypto.KeyRing
}

// PGPOption configures a PGPVerifier.
type PGPOption func(*PGPVerifier)

// WithFingerprint sets the trusted key fingerprint.
func WithFingerprint(fingerprint string) PGPOption {
	return func(v *PGPVerifier) {
		v.Fingerprint = NormalizeFingerprint(fingerprint)
	}
}

// WithKeyServer sets the URL prefix the key is fetched from.
func WithKeyServer(url string) PGPOption {
	return func(v *PGPVerifier) {
		v.KeyServer = url
	}
}

// WithArmoredKey uses the given armored public key instead of fetching one.
func WithArmoredKey(armored string) PGPOption {
	return func(v *PGPVerifier) {
		v.armored = armored
	}
}

// NewPGPVerifier creates a verifier for the Tor Browser signing key
// unless options say otherwise.
func NewPGPVerifier(fetcher TextFetcher, opts ...PGPOption) *PGPVerifier {
	v := &PGPVerifier{
		Fingerprint: TorBrowserFingerprint,
		KeyServer:   DefaultKeyServer,
		fetcher:     fetcher,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NormalizeFingerprint strips spaces and upper-cases a fingerprint.
func NormalizeFingerprint(fingerprint string) string {
	return strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
}

// Verify checks sigPath, an armored or binary detached signature, against filePath.
func (v *PGPVerifier) Verify(ctx context.Context, filePath, sigPath string) (Outcome, error) {
	if v.Fingerprint == "" && v.armored == "" {
		return Unavailable, nil
	}

	keyRing, err := v.loadKeyRing(ctx)
	if err != nil {
		return Unavailable, err
	}

	sigData, err := os.ReadFile(sigPath)
	if err != nil {
		return Unavailable, errors.Wrap(err, "failed to read signature")
	}
	signature, err := crypto.NewPGPSignatureFromArmored(string(sigData))
	if err != nil {
		signature = crypto.NewPGPSignature(sigData)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return Unavailable, errors.Wrap(err, "failed to open file for signature verification")
	}
	defer file.Close()

	if err := keyRing.VerifyDetachedStream(file, signature, 0); err != nil {
		log.WithField("file", filepath.Base(filePath)).WithError(err).Debug("signature rejected")
		return NotVerified, nil
	}
	return Verified, nil
}

func (v *PGPVerifier) loadKeyRing(ctx context.Context) (*crypto.KeyRing, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.keyRing != nil {
		return v.keyRing, nil
	}

	armored := v.armored
	if armored == "" {
		if !fingerprintRegexp.MatchString(v.Fingerprint) {
			return nil, fmt.Errorf("invalid fingerprint %q: must be 40 hex characters", v.Fingerprint)
		}
		if v.fetcher == nil {
			return nil, errors.New("no key fetcher configured")
		}
		url := v.KeyServer + v.Fingerprint
		log.WithField("url", url).Debug("fetching signing key")
		var err error
		armored, err = v.fetcher.FetchText(ctx, url)
		if err != nil {
			return nil, errors.Wrap(err, "failed to fetch signing key")
		}
	}

	key, err := crypto.NewKeyFromArmored(armored)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse signing key")
	}
	if v.Fingerprint != "" {
		if got := NormalizeFingerprint(key.GetFingerprint()); got != v.Fingerprint {
			return nil, fmt.Errorf("signing key fingerprint mismatch: expected %s, got %s", v.Fingerprint, got)
		}
	}
	keyRing, err := crypto.NewKeyRing(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create keyring")
	}
	v.keyRing = keyRing
	return keyRing, nil
}
