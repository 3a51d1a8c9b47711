// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ipf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/flate"
)

// encrypt is the inverse of decrypt: the key schedule advances on the
// plaintext byte, which here is the input.
func encrypt(buf []byte) {
	if len(buf) == 0 {
		return
	}
	ks := newKeyState()
	for i := 0; i*2 < len(buf); i++ {
		idx := i * 2
		plain := buf[idx]
		buf[idx] ^= ks.mask()
		ks.update(plain)
	}
}

func deflateBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var b bytes.Buffer
	fw, err := flate.NewWriter(&b, flate.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := fw.Close(); err != nil {
		t.Fatal(err)
	}
	return b.Bytes()
}

type fixtureFile struct {
	path      string
	container string
	content   []byte

	// stored bypasses deflate and the cipher, for skip-ext payloads and
	// for old archives that store payloads as-is.
	stored bool
}

// buildArchive assembles a syntactically valid archive image: payloads,
// then the entry table, then the 24-byte trailer.
func buildArchive(t *testing.T, newVersion uint32, files []fixtureFile) []byte {
	t.Helper()
	var out bytes.Buffer

	type placed struct {
		off, comp, uncomp uint32
	}
	offsets := make([]placed, len(files))
	for i, f := range files {
		payload := f.content
		if !f.stored {
			payload = deflateBytes(t, f.content)
			if newVersion == 0 || newVersion > 11000 {
				payload = append([]byte(nil), payload...)
				encrypt(payload)
			}
		}
		offsets[i] = placed{
			off:    uint32(out.Len()),
			comp:   uint32(len(payload)),
			uncomp: uint32(len(f.content)),
		}
		out.Write(payload)
	}

	tableOff := uint32(out.Len())
	le := binary.LittleEndian
	w16 := func(v uint16) {
		var b [2]byte
		le.PutUint16(b[:], v)
		out.Write(b[:])
	}
	w32 := func(v uint32) {
		var b [4]byte
		le.PutUint32(b[:], v)
		out.Write(b[:])
	}
	for i, f := range files {
		w16(uint16(len(f.path)))
		w32(0xdeadbeef) // crc32, not verified
		w32(offsets[i].comp)
		w32(offsets[i].uncomp)
		w32(offsets[i].off)
		w16(uint16(len(f.container)))
		out.WriteString(f.container)
		out.WriteString(f.path)
	}

	w16(uint16(len(files)))
	w32(tableOff)
	w16(0)
	w32(0)
	out.Write(Magic[:])
	w32(0)          // version to patch
	w32(newVersion) // new version
	return out.Bytes()
}

func TestTrailerIdentification(t *testing.T) {
	img := buildArchive(t, 0, []fixtureFile{
		{path: "xml/x.txt", container: "xml_client.ipf", content: []byte("hello\n")},
		{path: "sound/a.fsb", container: "bgm.ipf", content: bytes.Repeat([]byte{0xAB}, 32), stored: true},
	})

	if got := img[len(img)-12 : len(img)-8]; !bytes.Equal(got, Magic[:]) {
		t.Fatalf("magic not at documented trailer offset: % X", got)
	}

	a, err := NewBytes(img)
	if err != nil {
		t.Fatalf("NewBytes: %v", err)
	}
	if int(a.Trailer.FileCount) != len(a.Entries) {
		t.Fatalf("file count %d != decoded entries %d", a.Trailer.FileCount, len(a.Entries))
	}
}

func TestExtractDeflated(t *testing.T) {
	img := buildArchive(t, 0, []fixtureFile{
		{path: "xml/x.txt", container: "xml_client.ipf", content: []byte("hello\n")},
	})
	a, err := NewBytes(img)
	if err != nil {
		t.Fatal(err)
	}
	data, err := a.Extract(0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("Extract = %q, want %q", data, "hello\n")
	}
	if uint32(len(data)) != a.Entries[0].UncompressedSize {
		t.Fatalf("extract length %d != uncompressed size %d",
			len(data), a.Entries[0].UncompressedSize)
	}
}

func TestExtractSkipExtVerbatim(t *testing.T) {
	raw := bytes.Repeat([]byte{0x5A, 0xA5}, 16)
	img := buildArchive(t, 0, []fixtureFile{
		{path: "sound/a.fsb", container: "bgm.ipf", content: raw, stored: true},
	})
	a, err := NewBytes(img)
	if err != nil {
		t.Fatal(err)
	}
	data, err := a.Extract(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, raw) {
		t.Fatalf("skip-ext payload modified:\n got % X\nwant % X", data, raw)
	}
	if uint32(len(data)) != a.Entries[0].CompressedSize {
		t.Fatalf("skip-ext length %d != compressed size %d",
			len(data), a.Entries[0].CompressedSize)
	}
}

func TestDecryptRegression(t *testing.T) {
	// Reference keystream applied to sixteen 'A' bytes. Captured once from
	// the documented keys and password; must never change.
	want := []byte{
		0x3F, 0x41, 0xB1, 0x41, 0x54, 0x41, 0xB0, 0x41,
		0xD4, 0x41, 0xF9, 0x41, 0x56, 0x41, 0xA6, 0x41,
	}

	buf := bytes.Repeat([]byte{0x41}, 16)
	decrypt(buf)
	if diff := cmp.Diff(want, buf); diff != "" {
		t.Fatalf("decrypt regression mismatch (-want +got):\n%s", diff)
	}

	// Odd-indexed bytes are never touched.
	for i := 1; i < len(buf); i += 2 {
		if buf[i] != 0x41 {
			t.Fatalf("odd byte %d modified: %#x", i, buf[i])
		}
	}

	// Deterministic across runs.
	again := bytes.Repeat([]byte{0x41}, 16)
	decrypt(again)
	if !bytes.Equal(buf, again) {
		t.Fatal("decrypt is not deterministic")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plain := []byte("the quick brown fox jumps over the lazy dog")
	buf := append([]byte(nil), plain...)
	encrypt(buf)
	decrypt(buf)
	if !bytes.Equal(buf, plain) {
		t.Fatalf("round trip mismatch: %q", buf)
	}

	decrypt(nil) // empty buffer is a no-op
}

func TestVersionGateStoredPayload(t *testing.T) {
	// NewVersion 5000 disables the cipher. The payload is stored without
	// compression and its length equals the uncompressed size, so it must
	// come back as stored.
	content := []byte("plain stored payload")
	img := buildArchive(t, 5000, []fixtureFile{
		{path: "xml/stored.txt", container: "xml_client.ipf", content: content, stored: true},
	})
	a, err := NewBytes(img)
	if err != nil {
		t.Fatal(err)
	}
	data, err := a.Extract(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, content) {
		t.Fatalf("stored payload = %q, want %q", data, content)
	}
}

func TestInvalidMagic(t *testing.T) {
	img := buildArchive(t, 0, []fixtureFile{
		{path: "xml/x.txt", container: "c.ipf", content: []byte("x")},
	})
	img[len(img)-12] ^= 0xFF
	if _, err := NewBytes(img); err != ErrInvalidMagic {
		t.Fatalf("corrupted magic: got %v, want ErrInvalidMagic", err)
	}

	if _, err := NewBytes([]byte{1, 2, 3}); err != ErrTooSmall {
		t.Fatalf("tiny input: got %v, want ErrTooSmall", err)
	}
}

func TestEntryOutOfRange(t *testing.T) {
	img := buildArchive(t, 0, []fixtureFile{
		{path: "xml/x.txt", container: "c.ipf", content: []byte("x")},
	})
	a, err := NewBytes(img)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Extract(-1); err != ErrEntryOutOfRange {
		t.Fatalf("Extract(-1): got %v", err)
	}
	if _, err := a.Extract(1); err != ErrEntryOutOfRange {
		t.Fatalf("Extract(1): got %v", err)
	}

	// Payload pointing past the end of the image.
	a.Entries[0].FileOffset = uint32(len(img))
	if _, err := a.Extract(0); err != ErrEntryOutOfRange {
		t.Fatalf("out-of-range payload: got %v", err)
	}
}

func TestIsStoredRaw(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"sound/a.fsb", true},
		{"bg/tex.JPG", true},
		{"bgm/track.mp3", true},
		{"xml/cell.ies", false},
		{"noext", false},
		{"dir.fsb/inner.txt", false},
	}
	for _, tt := range tests {
		e := Entry{DirectoryName: tt.path}
		if got := e.IsStoredRaw(); got != tt.want {
			t.Errorf("IsStoredRaw(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestDecompressFailure(t *testing.T) {
	// A declared uncompressed size larger than the stream inflates to.
	img := buildArchive(t, 0, []fixtureFile{
		{path: "xml/x.txt", container: "c.ipf", content: []byte("abc")},
	})
	a, err := NewBytes(img)
	if err != nil {
		t.Fatal(err)
	}
	a.Entries[0].UncompressedSize = 1024
	if _, err := a.Extract(0); err != ErrDecompress {
		t.Fatalf("short inflate: got %v, want ErrDecompress", err)
	}
}
