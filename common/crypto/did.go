package crypto

import (
	"fmt"
	"strings"
)

// DIDMethod is the method segment of every DID this package mints:
// "did:agentnet:<actor-instance-id>".
const DIDMethod = "agentnet"

// DeriveDID builds a deterministic DID string from an actor instance id
// (32 hex characters of crypto-random bytes, assigned once at agent creation
// and never reused).
func DeriveDID(actorInstanceID string) string {
	return fmt.Sprintf("did:%s:%s", DIDMethod, actorInstanceID)
}

// ActorInstanceID extracts the method-specific id from a did:agentnet:<id>
// string. Returns an error if did is not well-formed for this method.
func ActorInstanceID(did string) (string, error) {
	const prefix = "did:" + DIDMethod + ":"
	if !strings.HasPrefix(did, prefix) {
		return "", fmt.Errorf("%w: %q", ErrMalformedDID, did)
	}
	id := strings.TrimPrefix(did, prefix)
	if id == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedDID, did)
	}
	return id, nil
}
