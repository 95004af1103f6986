/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"crypto/sha512"
	"encoding/hex"
	"hash/crc32"
	"net"
	"strconv"
	"strings"
)

// Cloak computes the deterministic hashed host form presented in place of
// a user's real host (§4.8 "Cloak computation"). Grounded directly on
// original_source/handle/core.py's get_cloak: SHA-512(host+key) hex
// digest split into three 32-char thirds, each third's CRC-32 rendered
// as lowercase hex. IP hosts get a `c1.c2.c3.IP` form; hostnames drop at
// least their first label (more while leading labels look numeric) and
// get a `[prefix-]c1.c2.rest` form.
func Cloak(host, key, prefix string) string {
	sum := sha512.Sum512([]byte(host + key))
	digest := hex.EncodeToString(sum[:]) // 128 hex chars

	third := len(digest) / 4 // 32 chars, matching core.py's thirds of the 128-char hexdigest
	c1 := crcHex(digest[0:third])
	c2 := crcHex(digest[third : 2*third])
	c3 := crcHex(digest[2*third : 3*third])

	if net.ParseIP(host) != nil && strings.Count(host, ".") == 3 {
		return c1 + "." + c2 + "." + c3 + ".IP"
	}

	rest := skipNumericLabels(host)

	if prefix != "" {
		return prefix + "-" + c1 + "." + c2 + "." + rest
	}
	return c1 + "." + c2 + "." + rest
}

func crcHex(s string) string {
	sum := crc32.ChecksumIEEE([]byte(s))
	return strconv.FormatUint(uint64(sum), 16)
}

// skipNumericLabels strips leading dot-separated labels that look
// numeric (as core.py does to avoid cloaking e.g. "123.example.com"
// down to a mostly-digit remainder) until a non-numeric label is found,
// then returns the remaining dotted labels joined back together. A host
// with more than one label always loses at least its first label.
func skipNumericLabels(host string) string {
	labels := strings.Split(host, ".")
	i := 0
	for i < len(labels)-1 && isNumericLabel(labels[i]) {
		i++
	}
	if i == 0 && len(labels) > 1 {
		i = 1
	}
	return strings.Join(labels[i:], ".")
}

func isNumericLabel(label string) bool {
	if label == "" {
		return false
	}
	for _, r := range label {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
