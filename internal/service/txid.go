package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NewTransactionID returns an id of the form TXN_<TS>_<RAND> where TS is
// the millisecond epoch in base36 and RAND is 16 random bytes in hex,
// both uppercased. The timestamp keeps ids roughly sortable; the random
// tail makes collisions across gateways implausible.
func NewTransactionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate transaction id: %w", err)
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	return strings.ToUpper(fmt.Sprintf("TXN_%s_%s", ts, hex.EncodeToString(buf))), nil
}
