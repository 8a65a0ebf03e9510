package claims

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/wasmcloud/wasmhost/pkg/wasmerr"
)

// now is overridable in tests; production code always uses time.Now.
var now = func() uint64 { return uint64(time.Now().Unix()) }

func checkExpiry(expires, notBefore *uint64) error {
	current := now()
	if expires != nil && *expires < current {
		return wasmerr.Wrap(wasmerr.Unauthenticated, nil, "claims token expired")
	}
	if notBefore != nil && current < *notBefore {
		return wasmerr.Wrap(wasmerr.Unauthenticated, nil, "claims token not yet valid")
	}
	return nil
}

// ValidateComponentClaims checks a decoded (and already signature-verified)
// component claims token for expiry and not-before. A claims-less artifact
// never reaches this function — the caller treats nil claims as permitted.
func ValidateComponentClaims(c ComponentClaims) error {
	if c.Issuer == "" {
		return wasmerr.Wrap(wasmerr.Unauthenticated, nil, "claims token missing issuer")
	}
	if c.Subject == "" {
		return wasmerr.Wrap(wasmerr.Unauthenticated, nil, "claims token missing subject")
	}
	return checkExpiry(c.Expires, c.NotBefore)
}

// ValidateProviderClaims checks a decoded provider claims token the same
// way ValidateComponentClaims does, plus ensures a capability id is set.
func ValidateProviderClaims(c ProviderClaims) error {
	if c.Issuer == "" {
		return wasmerr.Wrap(wasmerr.Unauthenticated, nil, "claims token missing issuer")
	}
	if c.Subject == "" {
		return wasmerr.Wrap(wasmerr.Unauthenticated, nil, "claims token missing subject")
	}
	if c.Capability == "" {
		return wasmerr.Wrap(wasmerr.Unauthenticated, nil, "provider claims missing capability id")
	}
	return checkExpiry(c.Expires, c.NotBefore)
}

// ComputeInvocationHash hashes origin ‖ target ‖ operation ‖ payload with
// SHA-256, in that concatenation order, and returns the hex digest —
// the exact binding an InvocationClaims.InvocationHash must match.
func ComputeInvocationHash(originURL, targetURL, operation string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(originURL))
	h.Write([]byte(targetURL))
	h.Write([]byte(operation))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateInvocationClaims checks expiry/not-before, that the issuer
// appears in the host's cluster-issuer allow-list, and that the claims'
// recorded hash matches the hash computed over the actual call in
// flight. issuerAllowList may be empty, in which case every issuer is
// trusted (no allow-list configured).
func ValidateInvocationClaims(c InvocationClaims, issuerAllowList []string, operation string, payload []byte) error {
	if err := checkExpiry(c.Expires, c.NotBefore); err != nil {
		return err
	}

	if len(issuerAllowList) > 0 {
		trusted := false
		for _, allowed := range issuerAllowList {
			if allowed == c.Issuer {
				trusted = true
				break
			}
		}
		if !trusted {
			return wasmerr.Wrap(wasmerr.Unauthorized, nil, "invocation issuer not in cluster-issuer allow-list")
		}
	}

	expected := ComputeInvocationHash(c.OriginURL, c.TargetURL, operation, payload)
	if expected != c.InvocationHash {
		return wasmerr.Wrap(wasmerr.Unauthenticated, nil, "invocation content hash mismatch")
	}

	return nil
}
