package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

const testSecret = "re_live_key_9f8e7d6c5b4a"

func TestSecretString_String(t *testing.T) {
	s := SecretString(testSecret)

	result := s.String()

	if result != redactedPlaceholder {
		t.Errorf("String() = %q, want %q", result, redactedPlaceholder)
	}
	if strings.Contains(result, testSecret) {
		t.Errorf("String() leaked the raw secret value")
	}
}

func TestSecretString_Sprintf(t *testing.T) {
	s := SecretString(testSecret)

	// Both %s and %v go through the fmt.Stringer interface.
	for _, verb := range []string{"%s", "%v", "%+v"} {
		result := fmt.Sprintf("key="+verb, s)
		if strings.Contains(result, testSecret) {
			t.Errorf("fmt.Sprintf(%q) leaked the raw secret: %s", verb, result)
		}
		if !strings.Contains(result, redactedPlaceholder) {
			t.Errorf("fmt.Sprintf(%q) = %q, want redacted placeholder", verb, result)
		}
	}
}

func TestSecretString_MarshalJSON(t *testing.T) {
	s := SecretString(testSecret)

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("MarshalJSON returned error: %v", err)
	}

	result := string(data)
	if strings.Contains(result, testSecret) {
		t.Errorf("MarshalJSON leaked the raw secret: %s", result)
	}

	expected := `"` + redactedPlaceholder + `"`
	if result != expected {
		t.Errorf("MarshalJSON = %q, want %q", result, expected)
	}
}

func TestSecretString_MarshalJSON_InStruct(t *testing.T) {
	type emailSettings struct {
		APIKey     SecretString `json:"api_key"`
		FromDomain string       `json:"from_domain"`
	}

	settings := emailSettings{
		APIKey:     SecretString(testSecret),
		FromDomain: "lifesync.app",
	}

	data, err := json.Marshal(settings)
	if err != nil {
		t.Fatalf("json.Marshal returned error: %v", err)
	}

	result := string(data)
	if strings.Contains(result, testSecret) {
		t.Errorf("json.Marshal of struct leaked the raw secret: %s", result)
	}
	if !strings.Contains(result, redactedPlaceholder) {
		t.Errorf("json.Marshal of struct did not contain redacted placeholder: %s", result)
	}
}

func TestSecretString_Unmask(t *testing.T) {
	s := SecretString(testSecret)

	if s.Unmask() != testSecret {
		t.Errorf("Unmask() = %q, want %q", s.Unmask(), testSecret)
	}
}

func TestSecretString_EmptyValue(t *testing.T) {
	s := SecretString("")

	if s.String() != redactedPlaceholder {
		t.Errorf("String() on empty SecretString = %q, want %q", s.String(), redactedPlaceholder)
	}
	if s.Unmask() != "" {
		t.Errorf("Unmask() on empty SecretString = %q, want empty string", s.Unmask())
	}
}
