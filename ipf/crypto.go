// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ipf

import "hash/crc32"

// password is the fixed 20-byte key material every archive is enciphered
// with.
var password = [20]byte{
	0x6F, 0x66, 0x4F, 0x31, 0x61, 0x30, 0x75, 0x65, 0x58, 0x41,
	0x3F, 0x20, 0x5B, 0xFF, 0x73, 0x20, 0x68, 0x20, 0x25, 0x3F,
}

// keyState holds the three rolling keys of the PKZIP-style stream cipher.
type keyState struct {
	k0, k1, k2 uint32
}

// newKeyState initialises the keys and advances them through the
// password.
func newKeyState() keyState {
	ks := keyState{0x12345678, 0x23456789, 0x34567890}
	for _, b := range password {
		ks.update(b)
	}
	return ks
}

// update advances the keys with one plaintext byte.
func (ks *keyState) update(b byte) {
	ks.k0 = crc32.IEEETable[byte(ks.k0)^b] ^ (ks.k0 >> 8)
	ks.k1 = (ks.k1+uint32(byte(ks.k0)))*0x08088405 + 1
	ks.k2 = crc32.IEEETable[byte(ks.k2)^byte(ks.k1>>24)] ^ (ks.k2 >> 8)
}

// mask yields the XOR byte derived from the current key state.
func (ks *keyState) mask() byte {
	v := (ks.k2 & 0xFFFD) | 2
	return byte((v * (v ^ 1)) >> 8)
}

// decrypt deciphers buf in place. Only even-indexed bytes are enciphered;
// odd-indexed bytes pass through untouched. The key schedule advances on
// the deciphered (plaintext) byte.
func decrypt(buf []byte) {
	if len(buf) == 0 {
		return
	}
	ks := newKeyState()
	for i := 0; i*2 < len(buf); i++ {
		idx := i * 2
		buf[idx] ^= ks.mask()
		ks.update(buf[idx])
	}
}
