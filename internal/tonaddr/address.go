// Package tonaddr converts between the two TON address renderings: the raw
// form "workchain:hex64" used for every comparison in the indexer, and the
// user-friendly base64 form ("EQ…"/"UQ…") that wallets and explorers show.
package tonaddr

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var rawForm = regexp.MustCompile(`^(-1|0):[a-fA-F0-9]{64}$`)

// Friendly-form tag bytes. 0x11 = bounceable, 0x51 = non-bounceable; the
// testnet bit (0x80) is ORed on top.
const (
	tagBounceable    = 0x11
	tagNonBounceable = 0x51
	tagTestOnly      = 0x80
)

// IsValidRaw reports whether addr is in strict raw form.
func IsValidRaw(addr string) bool {
	return rawForm.MatchString(addr)
}

// IsValid reports whether addr looks like a TON address in either rendering.
func IsValid(addr string) bool {
	if len(addr) < 48 && !strings.Contains(addr, ":") {
		return false
	}
	if strings.HasPrefix(addr, "EQ") || strings.HasPrefix(addr, "UQ") {
		_, _, err := decodeFriendly(addr)
		return err == nil
	}
	return IsValidRaw(addr)
}

// Normalize renders addr in lowercase raw form. Friendly-base64 input is
// decoded; raw input has its hex part lowercased. Unrecognized input is
// returned lowercased unchanged so that comparisons stay at least stable.
func Normalize(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if strings.Contains(addr, ":") {
		parts := strings.SplitN(addr, ":", 2)
		return parts[0] + ":" + strings.ToLower(parts[1])
	}
	workchain, hash, err := decodeFriendly(addr)
	if err != nil {
		return strings.ToLower(addr)
	}
	return fmt.Sprintf("%d:%s", workchain, hex.EncodeToString(hash))
}

// ToFriendly renders a raw address in the user-friendly base64url form.
// Returns the input unchanged if it is not raw.
func ToFriendly(raw string, bounceable, testOnly bool) string {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return raw
	}
	var workchain int
	if _, err := fmt.Sscanf(parts[0], "%d", &workchain); err != nil {
		return raw
	}
	hash, err := hex.DecodeString(parts[1])
	if err != nil || len(hash) != 32 {
		return raw
	}

	tag := byte(tagBounceable)
	if !bounceable {
		tag = tagNonBounceable
	}
	if testOnly {
		tag |= tagTestOnly
	}

	buf := make([]byte, 0, 36)
	buf = append(buf, tag, byte(int8(workchain)))
	buf = append(buf, hash...)
	crc := crc16(buf)
	buf = append(buf, byte(crc>>8), byte(crc&0xff))

	return base64.RawURLEncoding.EncodeToString(buf)
}

// decodeFriendly unpacks a 36-byte friendly address: tag, signed workchain
// byte, 32-byte account hash, 2-byte CRC16-CCITT.
func decodeFriendly(addr string) (int, []byte, error) {
	data, err := base64.RawURLEncoding.DecodeString(addr)
	if err != nil {
		// Some emitters use the standard alphabet.
		data, err = base64.RawStdEncoding.DecodeString(addr)
		if err != nil {
			return 0, nil, fmt.Errorf("bad base64 address: %v", err)
		}
	}
	if len(data) != 36 {
		return 0, nil, fmt.Errorf("friendly address must decode to 36 bytes, got %d", len(data))
	}
	want := uint16(data[34])<<8 | uint16(data[35])
	if crc16(data[:34]) != want {
		return 0, nil, fmt.Errorf("address checksum mismatch")
	}
	workchain := int(int8(data[1]))
	hash := data[2:34]
	return workchain, hash, nil
}

// crc16 is CRC16-CCITT (XModem), the checksum TON friendly addresses carry.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
