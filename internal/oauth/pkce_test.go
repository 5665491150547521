package oauth

import "testing"

func TestVerifyPKCE_S256(t *testing.T) {
	verifier, err := NewCodeVerifier()
	if err != nil {
		t.Fatal(err)
	}
	challenge := ChallengeFromVerifier(verifier)

	if !VerifyPKCE(verifier, challenge, ChallengeS256) {
		t.Error("expected matching verifier/challenge to pass")
	}
	if VerifyPKCE("wrong-verifier", challenge, ChallengeS256) {
		t.Error("expected mismatched verifier to fail")
	}
}

func TestVerifyPKCE_Plain(t *testing.T) {
	verifier := "plain-verifier-value"
	if !VerifyPKCE(verifier, verifier, ChallengePlain) {
		t.Error("expected identical plain verifier/challenge to pass")
	}
	if VerifyPKCE(verifier, "different", ChallengePlain) {
		t.Error("expected mismatched plain challenge to fail")
	}
}

func TestVerifyPKCE_DefaultsToS256(t *testing.T) {
	verifier, _ := NewCodeVerifier()
	challenge := ChallengeFromVerifier(verifier)
	if !VerifyPKCE(verifier, challenge, "") {
		t.Error("expected empty method to default to S256")
	}
}

func TestVerifyPKCE_UnknownMethodFails(t *testing.T) {
	if VerifyPKCE("x", "x", "unknown-method") {
		t.Error("expected unknown method to fail closed")
	}
}

func TestHashToken_Deterministic(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("expected HashToken to be deterministic")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("expected different inputs to hash differently")
	}
}

func TestNewOpaqueToken_Unique(t *testing.T) {
	a, err := NewOpaqueToken()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewOpaqueToken()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("expected two generated tokens to differ")
	}
}
