package edge

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// The service expects a short-lived signed freshness token ("Sec-MS-GEC") in
// the connection URL: the SHA-256 of the current Windows file time, floored to
// the nearest five minutes, concatenated with the trusted-client token. The
// companion Sec-MS-GEC-Version pins the claimed browser build.

const (
	// windowsEpochOffset converts a Unix timestamp in seconds to the
	// Windows file-time epoch (1601-01-01).
	windowsEpochOffset = 11644473600

	// fileTimeTicksPerSecond is the Windows file-time resolution (100 ns).
	fileTimeTicksPerSecond = 10_000_000

	// tokenWindowTicks is five minutes in file-time ticks; the token is
	// stable within one window and must be recomputed afterwards.
	tokenWindowTicks = 300 * fileTimeTicksPerSecond
)

// secMSGECToken computes the freshness token for the given wall-clock time.
func secMSGECToken(now time.Time, trustedClientToken string) string {
	ticks := (now.UTC().Unix() + windowsEpochOffset) * fileTimeTicksPerSecond
	ticks -= ticks % tokenWindowTicks

	sum := sha256.Sum256([]byte(strconv.FormatInt(ticks, 10) + trustedClientToken))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// secMSGECVersion returns the version string paired with the token.
func secMSGECVersion(chromiumVersion string) string {
	return "1-" + chromiumVersion
}

// connectionID derives a fresh opaque connection identifier: a UUID with the
// dashes stripped, as the service expects.
func connectionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// protocolTimestamp formats now in the service's X-Timestamp syntax.
func protocolTimestamp(now time.Time) string {
	return now.UTC().Format("Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)")
}
