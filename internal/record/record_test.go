package record

import (
	"bytes"
	"errors"
	"testing"

	"github.com/seif-protocol/seif-go/internal/seifcrypto"
)

func TestBuildParseRoundTripCleartext(t *testing.T) {
	msg := Message{
		{ID: "version", Value: float64(0)},
		{ID: "handshakeKey", Value: []byte{1, 2, 3, 4}},
		{ID: "connectionInfo", Value: map[string]interface{}{"addr": "127.0.0.1"}},
	}

	wire, err := Build(TypeHello, msg, Cleartext())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	dec := NewDecoder()
	dec.Feed(wire)
	parsed, ok, err := dec.Next(Cleartext())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !ok {
		t.Fatal("Next() reported incomplete record for a fully-fed buffer")
	}
	if parsed.Type != TypeHello {
		t.Fatalf("parsed type = %q, want %q", parsed.Type, TypeHello)
	}

	key, ok := parsed.Message.Bytes("handshakeKey")
	if !ok || !bytes.Equal(key, []byte{1, 2, 3, 4}) {
		t.Fatalf("handshakeKey blob = %v, ok=%v", key, ok)
	}
	version, ok := parsed.Message.Get("version")
	if !ok || version.(float64) != 0 {
		t.Fatalf("version field = %v, ok=%v", version, ok)
	}
}

func aesGCMCipher(key []byte) Cipher {
	iv := make([]byte, seifcrypto.IVSize)
	return Cipher{
		Overhead: seifcrypto.TagSize,
		Encrypt:  func(p []byte) ([]byte, error) { return seifcrypto.AESGCMEncrypt(p, key, iv) },
		Decrypt:  func(c []byte) ([]byte, error) { return seifcrypto.AESGCMDecrypt(c, key, iv) },
	}
}

func TestBuildParseRoundTripEncrypted(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	msg := Message{
		{ID: "message", Value: map[string]interface{}{"hello": "world"}},
	}

	wire, err := Build(TypeSend, msg, aesGCMCipher(key))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	dec := NewDecoder()
	dec.Feed(wire)
	parsed, ok, err := dec.Next(aesGCMCipher(key))
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", parsed, ok, err)
	}
	if parsed.Type != TypeSend {
		t.Fatalf("type = %q, want Send", parsed.Type)
	}
}

func TestDecoderFeedByteAtATime(t *testing.T) {
	msg := Message{{ID: "a", Value: "b"}}
	wire, err := Build(TypeAcknowledge, msg, Cleartext())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	dec := NewDecoder()
	var parsed *Parsed
	for i, b := range wire {
		dec.Feed([]byte{b})
		p, ok, err := dec.Next(Cleartext())
		if err != nil {
			t.Fatalf("Next() at byte %d: error %v", i, err)
		}
		if ok {
			parsed = p
			if i != len(wire)-1 {
				t.Fatalf("record completed early at byte %d of %d", i, len(wire))
			}
		}
	}
	if parsed == nil {
		t.Fatal("record never completed")
	}
	if parsed.Type != TypeAcknowledge {
		t.Fatalf("type = %q, want Acknowledge", parsed.Type)
	}
}

func TestDecoderTwoRecordsInOneFeed(t *testing.T) {
	wire1, _ := Build(TypeAcknowledge, Message{{ID: "n", Value: float64(1)}}, Cleartext())
	wire2, _ := Build(TypeAcknowledge, Message{{ID: "n", Value: float64(2)}}, Cleartext())

	dec := NewDecoder()
	dec.Feed(append(append([]byte{}, wire1...), wire2...))

	p1, ok, err := dec.Next(Cleartext())
	if err != nil || !ok {
		t.Fatalf("first Next() = %v, %v, %v", p1, ok, err)
	}
	n1, _ := p1.Message.Get("n")
	if n1.(float64) != 1 {
		t.Fatalf("first record n = %v, want 1", n1)
	}

	p2, ok, err := dec.Next(Cleartext())
	if err != nil || !ok {
		t.Fatalf("second Next() = %v, %v, %v", p2, ok, err)
	}
	n2, _ := p2.Message.Get("n")
	if n2.(float64) != 2 {
		t.Fatalf("second record n = %v, want 2", n2)
	}

	if dec.Pending() != 0 {
		t.Fatalf("decoder has %d leftover bytes, want 0", dec.Pending())
	}
}

func TestBuildIdentifierTooBig(t *testing.T) {
	huge := make([]BlobDescriptor, 0)
	_ = huge
	bigID := string(make([]byte, MaxIdentifierSize))
	msg := Message{{ID: bigID, Value: "x"}}

	_, err := Build(TypeSend, msg, Cleartext())
	if !errors.Is(err, ErrIdentifierTooBig) {
		t.Fatalf("Build() error = %v, want ErrIdentifierTooBig", err)
	}
}

func TestDecoderUnknownType(t *testing.T) {
	wire, _ := Build("NotARealType", nil, Cleartext())
	dec := NewDecoder()
	dec.Feed(wire)
	_, _, err := dec.Next(Cleartext())
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("Next() error = %v, want ErrUnknownType", err)
	}
}

func TestDecoderMalformedJSON(t *testing.T) {
	dec := NewDecoder()
	dec.Feed([]byte{0, 3})
	dec.Feed([]byte("{{{"))
	_, _, err := dec.Next(Cleartext())
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Next() error = %v, want ErrMalformed", err)
	}
}

func TestDecoderTamperedCiphertextIsFatal(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	wire, _ := Build(TypeSend, Message{{ID: "x", Value: "y"}}, aesGCMCipher(key))
	wire[len(wire)-1] ^= 0xff

	dec := NewDecoder()
	dec.Feed(wire)
	_, _, err := dec.Next(aesGCMCipher(key))
	if err == nil {
		t.Fatal("expected decode error for tampered ciphertext")
	}
}

func TestNoBlobsRecord(t *testing.T) {
	wire, err := Build(TypeRedirect, nil, Cleartext())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	dec := NewDecoder()
	dec.Feed(wire)
	parsed, ok, err := dec.Next(Cleartext())
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", parsed, ok, err)
	}
	if len(parsed.Message) != 0 {
		t.Fatalf("expected empty message, got %v", parsed.Message)
	}
}
