package domain

import (
	"errors"
	"strings"
	"testing"
)

// Well-known development key (sr25519 "Alice") under two network prefixes.
const (
	aliceGeneric  = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	alicePolkadot = "15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5"
)

func TestParseEVMAddress_RoundTrip(t *testing.T) {
	raw := "0x742D35Cc6634C0532925A3B844bC9e7595f0bEB7"
	addr, err := ParseAddress(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr.Ecosystem() != EcosystemEVM {
		t.Errorf("expected evm ecosystem, got %s", addr.Ecosystem())
	}
	if got := addr.String(); got != strings.ToLower(raw) {
		t.Errorf("expected lowercase display %s, got %s", strings.ToLower(raw), got)
	}
	if len(addr.Bytes()) != 20 {
		t.Errorf("expected 20 canonical bytes, got %d", len(addr.Bytes()))
	}
}

func TestParseEVMAddress_EIP55(t *testing.T) {
	// Checksummed examples from the EIP-55 text.
	valid := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}
	for _, raw := range valid {
		addr, err := ParseEVMAddress(raw)
		if err != nil {
			t.Fatalf("valid checksum %s rejected: %v", raw, err)
		}
		if got := addr.Checksummed(); got != raw {
			t.Errorf("expected checksummed form %s, got %s", raw, got)
		}
	}

	// Flipping one letter's case must fail the checksum.
	if _, err := ParseEVMAddress("0x5aaeb6053F3E94C9b9A09f33669435E7Ef1BeAed"); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat for bad checksum, got %v", err)
	}

	// All-lowercase is accepted without checksum.
	if _, err := ParseEVMAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"); err != nil {
		t.Errorf("lowercase form rejected: %v", err)
	}
}

func TestParseEVMAddress_Invalid(t *testing.T) {
	cases := []string{"", "0x123", "742D35Cc6634C0532925A3B844bC9e7595f0bEB7", "0xzz2d35cc6634c0532925a3b844bc9e7595f0beb7"}
	for _, raw := range cases {
		if _, err := ParseEVMAddress(raw); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("expected ErrInvalidFormat for %q, got %v", raw, err)
		}
	}
}

func TestParseSS58Address_RoundTrip(t *testing.T) {
	addr, err := ParseAddress(aliceGeneric)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr.Ecosystem() != EcosystemSubstrate {
		t.Errorf("expected substrate ecosystem, got %s", addr.Ecosystem())
	}
	if addr.Prefix() != 42 {
		t.Errorf("expected prefix 42, got %d", addr.Prefix())
	}
	if got := addr.String(); got != aliceGeneric {
		t.Errorf("expected round-trip %s, got %s", aliceGeneric, got)
	}
	if len(addr.Bytes()) != 32 {
		t.Errorf("expected 32 canonical bytes, got %d", len(addr.Bytes()))
	}
}

func TestAddress_WithPrefix(t *testing.T) {
	addr, err := ParseSS58Address(aliceGeneric)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	polkadot := addr.WithPrefix(0)
	if got := polkadot.String(); got != alicePolkadot {
		t.Errorf("expected polkadot rendering %s, got %s", alicePolkadot, got)
	}
	// Same key, different rendering: canonical equality holds.
	if !addr.Equal(polkadot) {
		t.Error("expected prefix change to preserve canonical equality")
	}
}

func TestParseSS58Address_BadChecksum(t *testing.T) {
	// Corrupt the final character.
	bad := aliceGeneric[:len(aliceGeneric)-1] + "Z"
	if _, err := ParseSS58Address(bad); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestAddress_CrossEcosystemNeverEqual(t *testing.T) {
	evm, err := ParseAddress("0x742d35cc6634c0532925a3b844bc9e7595f0beb7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub, err := ParseAddress(aliceGeneric)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evm.Equal(sub) {
		t.Error("expected cross-ecosystem addresses to compare unequal")
	}
	if evm.Key() == sub.Key() {
		t.Error("expected distinct canonical keys")
	}
}

func TestParseAddressFor_Hint(t *testing.T) {
	if _, err := ParseAddressFor(aliceGeneric, EcosystemEVM); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ss58 input to fail under evm hint, got %v", err)
	}
	if _, err := ParseAddressFor("0x742d35cc6634c0532925a3b844bc9e7595f0beb7", EcosystemSubstrate); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected hex input to fail under substrate hint, got %v", err)
	}
}

func TestSS58Prefix_TwoByteEncoding(t *testing.T) {
	addr, err := ParseSS58Address(aliceGeneric)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Prefix 2206 needs the two-byte identifier form; re-parse must agree.
	wide := addr.WithPrefix(2206)
	reparsed, err := ParseSS58Address(wide.String())
	if err != nil {
		t.Fatalf("two-byte prefix round-trip failed: %v", err)
	}
	if reparsed.Prefix() != 2206 {
		t.Errorf("expected prefix 2206, got %d", reparsed.Prefix())
	}
	if !reparsed.Equal(addr) {
		t.Error("expected identical key bytes after prefix round-trip")
	}
}
