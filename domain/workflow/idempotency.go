package workflow

import (
	"fmt"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// IdempotencyKey derives a stable, opaque key for one agent invocation from
// (executionID, agentID, attempt). Agents that call out to an external
// system (an inspection device, a notification API) pass this key through
// so a retried attempt after a crash is recognized as a duplicate by the
// downstream system rather than repeated.
func IdempotencyKey(secret []byte, executionID, agentID string, attempt int) string {
	salt := []byte(executionID)
	info := []byte(fmt.Sprintf("%s|%d", agentID, attempt))
	h := hkdf.New(sha3.New256, secret, salt, info)
	buf := make([]byte, 24)
	_, _ = h.Read(buf)
	return fmt.Sprintf("%x", buf)
}
