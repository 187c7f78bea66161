package handshake

import (
	"bytes"
	"testing"

	"github.com/seif-protocol/seif-go/internal/ivgen"
	"github.com/seif-protocol/seif-go/internal/record"
	"github.com/seif-protocol/seif-go/internal/seifcrypto"
)

func TestFullHandshakeExchange(t *testing.T) {
	initiator, err := seifcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair(initiator) error = %v", err)
	}
	receiver, err := seifcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair(receiver) error = %v", err)
	}

	initEncIV := ivgen.New(ivgen.FixedFieldInitiator)
	initDecIV := ivgen.New(ivgen.FixedFieldReceiver)
	recvEncIV := ivgen.New(ivgen.FixedFieldReceiver)
	recvDecIV := ivgen.New(ivgen.FixedFieldInitiator)

	helloWire, handshakeKey, err := BuildHello(initiator, receiver.Public, map[string]string{"greeting": "hi"}, "conn-info", initEncIV)
	if err != nil {
		t.Fatalf("BuildHello() error = %v", err)
	}

	dec := record.NewDecoder()
	dec.Feed(helloWire)
	parsedRecord, ok, err := dec.Next(record.Cleartext())
	if err != nil || !ok {
		t.Fatalf("parse Hello: %v, %v, %v", parsedRecord, ok, err)
	}

	hello, err := ParseHello(parsedRecord)
	if err != nil {
		t.Fatalf("ParseHello() error = %v", err)
	}
	if hello.ConnectionInfo != "conn-info" {
		t.Fatalf("connectionInfo = %v, want %q", hello.ConnectionInfo, "conn-info")
	}

	recoveredHandshakeKey, err := RecoverHandshakeKey(receiver, hello.HandshakeKeyCiphertext)
	if err != nil {
		t.Fatalf("RecoverHandshakeKey() error = %v", err)
	}
	if !bytes.Equal(recoveredHandshakeKey, handshakeKey) {
		t.Fatal("recovered handshake key does not match the one the initiator generated")
	}

	initiatorPub, helloValue, err := DecryptHelloData(recoveredHandshakeKey, hello.HelloDataCiphertext, recvDecIV)
	if err != nil {
		t.Fatalf("DecryptHelloData() error = %v", err)
	}
	if !bytes.Equal(seifcrypto.ExportPublicKey(initiatorPub), seifcrypto.ExportPublicKey(initiator.Public)) {
		t.Fatal("recovered initiator public key does not match")
	}
	helloMap, ok := helloValue.(map[string]interface{})
	if !ok || helloMap["greeting"] != "hi" {
		t.Fatalf("hello value = %v", helloValue)
	}

	receiverCipher := NewAEADCipher(recoveredHandshakeKey, recvEncIV, recvDecIV)
	authHelloWire, sessionKeyReceiver, err := BuildAuthHello(initiatorPub, receiverCipher)
	if err != nil {
		t.Fatalf("BuildAuthHello() error = %v", err)
	}

	initiatorCipher := NewAEADCipher(handshakeKey, initEncIV, initDecIV)
	authDec := record.NewDecoder()
	authDec.Feed(authHelloWire)
	authParsed, ok, err := authDec.Next(initiatorCipher)
	if err != nil || !ok {
		t.Fatalf("parse AuthHello: %v, %v, %v", authParsed, ok, err)
	}

	sessionKeyCipher, err := ParseAuthHello(authParsed)
	if err != nil {
		t.Fatalf("ParseAuthHello() error = %v", err)
	}
	sessionKeyInitiator, err := RecoverSessionKey(initiator, sessionKeyCipher)
	if err != nil {
		t.Fatalf("RecoverSessionKey() error = %v", err)
	}

	if !bytes.Equal(sessionKeyInitiator, sessionKeyReceiver) {
		t.Fatal("initiator and receiver derived different session keys")
	}
}

func TestParseHelloRejectsUnsupportedVersion(t *testing.T) {
	msg := record.Message{
		{ID: "version", Value: float64(7)},
		{ID: "handshakeKey", Value: []byte("x")},
		{ID: "helloData", Value: []byte("y")},
	}
	wire, err := record.Build(record.TypeHello, msg, record.Cleartext())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	dec := record.NewDecoder()
	dec.Feed(wire)
	parsed, ok, err := dec.Next(record.Cleartext())
	if err != nil || !ok {
		t.Fatalf("parse: %v, %v, %v", parsed, ok, err)
	}

	if _, err := ParseHello(parsed); err == nil {
		t.Fatal("expected ParseHello to reject version 7")
	}
}

func TestParseHelloWrongType(t *testing.T) {
	wire, _ := record.Build(record.TypeAcknowledge, nil, record.Cleartext())
	dec := record.NewDecoder()
	dec.Feed(wire)
	parsed, _, _ := dec.Next(record.Cleartext())
	if _, err := ParseHello(parsed); err == nil {
		t.Fatal("expected ParseHello to reject a non-Hello record")
	}
}

func TestRecoverHandshakeKeyWrongRecipientFails(t *testing.T) {
	initiator, _ := seifcrypto.GenerateKeypair()
	receiver, _ := seifcrypto.GenerateKeypair()
	impostor, _ := seifcrypto.GenerateKeypair()

	encIV := ivgen.New(ivgen.FixedFieldInitiator)
	helloWire, _, err := BuildHello(initiator, receiver.Public, nil, nil, encIV)
	if err != nil {
		t.Fatalf("BuildHello() error = %v", err)
	}

	dec := record.NewDecoder()
	dec.Feed(helloWire)
	parsed, _, _ := dec.Next(record.Cleartext())
	hello, err := ParseHello(parsed)
	if err != nil {
		t.Fatalf("ParseHello() error = %v", err)
	}

	if _, err := RecoverHandshakeKey(impostor, hello.HandshakeKeyCiphertext); err == nil {
		t.Fatal("expected handshake key recovery to fail under the wrong private key")
	}
}
