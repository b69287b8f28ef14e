package domain

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Reference prefixes.
const (
	RefPrefixPayment  = "RFID"
	RefPrefixTransfer = "TRF"
	RefPrefixTopUp    = "TOP"
	RefPrefixRefund   = "RFD"
)

// Leg suffixes shared by the two records of one movement.
const (
	LegPay  = "-PAY"
	LegRecv = "-RECV"
	LegOut  = "-OUT"
	LegIn   = "-IN"
)

// NewReference mints an opaque time-and-random reference such as RFID1718000000000A1B2C3.
func NewReference(prefix string, now time.Time) string {
	var b [3]byte
	_, _ = rand.Read(b[:])
	return prefix + strconv.FormatInt(now.UnixMilli(), 10) + strings.ToUpper(hex.EncodeToString(b[:]))
}
