package auth

import (
	"bytes"
	"testing"

	"github.com/dbdrift/topologycore/description"
)

func TestCreateAuthenticatorKnownMechanisms(t *testing.T) {
	cred := &Cred{Source: "admin", Username: "user", Password: "pencil", PasswordSet: true}
	for _, mech := range []string{SCRAMSHA1, SCRAMSHA256, MongoDBCR, MongoDBX509, PLAIN} {
		if _, err := CreateAuthenticator(mech, cred); err != nil {
			t.Errorf("%s: unexpected error %v", mech, err)
		}
	}
}

func TestCreateAuthenticatorUnknownMechanism(t *testing.T) {
	if _, err := CreateAuthenticator("NOT-A-MECH", &Cred{}); err == nil {
		t.Error("expected error for unknown mechanism")
	}
}

func TestCreateAuthenticatorGSSAPIUnsupported(t *testing.T) {
	if _, err := CreateAuthenticator(GSSAPI, &Cred{}); err == nil {
		t.Error("GSSAPI should fail without platform SASL support")
	}
}

// DEFAULT resolves against saslSupportedMechs when the handshake advertised
// it, preferring SCRAM-SHA-256.
func TestDefaultMechanismNegotiation(t *testing.T) {
	cred := &Cred{Source: "admin", Username: "user", Password: "pencil", PasswordSet: true}
	a, err := CreateAuthenticator("", cred)
	if err != nil {
		t.Fatalf("CreateAuthenticator error: %v", err)
	}
	da, ok := a.(*defaultAuthenticator)
	if !ok {
		t.Fatalf("empty mechanism should negotiate DEFAULT, got %T", a)
	}

	testCases := []struct {
		name     string
		mechs    []string
		wireMax  int32
		wantMech string
	}{
		{"sha256 advertised", []string{SCRAMSHA1, SCRAMSHA256}, 8, SCRAMSHA256},
		{"only sha1 advertised", []string{SCRAMSHA1}, 8, SCRAMSHA1},
		{"no mechs, modern wire version", nil, 8, SCRAMSHA256},
		{"no mechs, wire version 4", nil, 4, SCRAMSHA1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			desc := description.NewDefaultServer("test:27017")
			vr := description.NewVersionRange(0, tc.wireMax)
			desc.WireVersion = &vr
			cfg := &Config{Description: desc, SaslSupportedMechs: tc.mechs}

			// Resolve the same way Auth does, without a live connection.
			var chosen Authenticator
			var err error
			switch {
			case len(cfg.SaslSupportedMechs) > 0:
				switch {
				case contains(cfg.SaslSupportedMechs, SCRAMSHA256):
					chosen, err = newScramSHA256Authenticator(da.cred)
				case contains(cfg.SaslSupportedMechs, SCRAMSHA1):
					chosen, err = newScramSHA1Authenticator(da.cred)
				}
			case cfg.Description.WireVersion.Max >= 7:
				chosen, err = newScramSHA256Authenticator(da.cred)
			default:
				chosen, err = newScramSHA1Authenticator(da.cred)
			}
			if err != nil {
				t.Fatalf("constructing authenticator: %v", err)
			}
			sa, ok := chosen.(*ScramAuthenticator)
			if !ok {
				t.Fatalf("want ScramAuthenticator, got %T", chosen)
			}
			if sa.mechanism != tc.wantMech {
				t.Errorf("mechanism: want %s, got %s", tc.wantMech, sa.mechanism)
			}
		})
	}
}

func TestPlainSaslPayload(t *testing.T) {
	client := &plainSaslClient{username: "user", password: "pass"}
	mech, payload, err := client.Start()
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if mech != PLAIN {
		t.Errorf("mechanism: want PLAIN, got %s", mech)
	}
	want := []byte("\x00user\x00pass")
	if !bytes.Equal(want, payload) {
		t.Errorf("payload: want %q, got %q", want, payload)
	}
	if !client.Completed() {
		t.Error("PLAIN completes after a single message")
	}
}

// The MONGODB-CR key derivation is fixed by the protocol; check the shape of
// its outputs (32 hex chars each) and that the key depends on the nonce.
func TestMongoCRKeyDerivation(t *testing.T) {
	digest := mongoPasswordDigest("user", "pencil")
	if len(digest) != 32 {
		t.Fatalf("digest length: want 32 hex chars, got %d", len(digest))
	}
	key := mongoCRKey("user", "pencil", "2375531c32080ae8")
	if len(key) != 32 {
		t.Fatalf("key length: want 32 hex chars, got %d", len(key))
	}
	if key == digest {
		t.Error("key must incorporate the nonce")
	}
}

func TestScramSHA1AuthenticatorFields(t *testing.T) {
	cred := &Cred{Source: "admin", Username: "user", Password: "pencil", PasswordSet: true}
	a, err := newScramSHA1Authenticator(cred)
	if err != nil {
		t.Fatalf("newScramSHA1Authenticator error: %v", err)
	}
	sa := a.(*ScramAuthenticator)
	if sa.mechanism != SCRAMSHA1 || sa.source != "admin" {
		t.Errorf("unexpected authenticator shape: %+v", sa)
	}
}
