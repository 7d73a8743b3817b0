package record

import (
	"bytes"
	"errors"
	"testing"
)

func TestTabsPayloadRoundTrip(t *testing.T) {
	payload := &TabsPayload{
		ClientID:   "client-1",
		ClientName: "Laptop",
		Tabs: []TabEntry{
			{Title: "Example", URLHistory: []string{"https://a.example", "https://b.example"}, LastUsed: 1700000000000},
			{Title: "Docs", Icon: "https://b.example/icon.png", URLHistory: []string{"https://docs.example"}, LastUsed: 1700000001000},
		},
	}

	data, err := EncodeTabsPayload(payload)
	if err != nil {
		t.Fatalf("EncodeTabsPayload failed: %v", err)
	}

	decoded, err := DecodeTabsPayload(data)
	if err != nil {
		t.Fatalf("DecodeTabsPayload failed: %v", err)
	}
	if decoded.ClientID != "client-1" || decoded.ClientName != "Laptop" {
		t.Errorf("client identity mangled: %+v", decoded)
	}
	if len(decoded.Tabs) != 2 {
		t.Fatalf("expected 2 tabs, got %d", len(decoded.Tabs))
	}
	if decoded.Tabs[0].URLHistory[1] != "https://b.example" {
		t.Errorf("url history order lost: %v", decoded.Tabs[0].URLHistory)
	}
}

func TestTabsPayloadValidate(t *testing.T) {
	bad := &TabsPayload{ClientName: "no id"}
	if _, err := EncodeTabsPayload(bad); err == nil {
		t.Error("expected error for missing client id")
	}

	empty := &TabsPayload{
		ClientID: "c",
		Tabs:     []TabEntry{{Title: "x"}},
	}
	if _, err := EncodeTabsPayload(empty); err == nil {
		t.Error("expected error for empty url history")
	}
}

func TestClientPayloadRoundTrip(t *testing.T) {
	payload := &ClientPayload{
		ID:   "client-2",
		Name: "Phone",
		Type: "mobile",
		Commands: []CommandEntry{
			{Command: "displayURI", Args: []string{"https://sent.example", "client-1"}},
		},
	}

	data, err := EncodeClientPayload(payload)
	if err != nil {
		t.Fatalf("EncodeClientPayload failed: %v", err)
	}
	decoded, err := DecodeClientPayload(data)
	if err != nil {
		t.Fatalf("DecodeClientPayload failed: %v", err)
	}
	if len(decoded.Commands) != 1 || decoded.Commands[0].Command != "displayURI" {
		t.Errorf("commands mangled: %+v", decoded.Commands)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	keys, err := NewKeyBundle()
	if err != nil {
		t.Fatalf("NewKeyBundle failed: %v", err)
	}

	cleartext := []byte(`{"id":"abc","tabs":[]}`)
	payload, err := keys.Encrypt(cleartext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if bytes.Contains([]byte(payload), cleartext) {
		t.Error("payload contains cleartext")
	}

	got, err := keys.Decrypt(payload)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(got, cleartext) {
		t.Errorf("round trip mismatch: got %q want %q", got, cleartext)
	}
}

func TestDecryptWrongKeys(t *testing.T) {
	keys, err := NewKeyBundle()
	if err != nil {
		t.Fatalf("NewKeyBundle failed: %v", err)
	}
	other, err := NewKeyBundle()
	if err != nil {
		t.Fatalf("NewKeyBundle failed: %v", err)
	}

	payload, err := keys.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err := other.Decrypt(payload); !errors.Is(err, ErrBadPayload) {
		t.Errorf("expected ErrBadPayload with wrong keys, got %v", err)
	}
}

func TestMissingKeys(t *testing.T) {
	var nilBundle *KeyBundle
	if _, err := nilBundle.Encrypt([]byte("x")); !errors.Is(err, ErrMissingKeys) {
		t.Errorf("expected ErrMissingKeys for nil bundle, got %v", err)
	}

	partial := &KeyBundle{EncryptionKey: make([]byte, 32)}
	if _, err := partial.Decrypt("{}"); !errors.Is(err, ErrMissingKeys) {
		t.Errorf("expected ErrMissingKeys for partial bundle, got %v", err)
	}
}
