package main

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/signing"
)

const signSecret = "0123456789abcdef0123456789abcdef"

func parseHeaders(t *testing.T, out string) http.Header {
	t.Helper()
	h := http.Header{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		name, value, ok := strings.Cut(sc.Text(), ": ")
		if !ok {
			t.Fatalf("Malformed header line %q", sc.Text())
		}
		h.Set(name, value)
	}
	return h
}

func TestSignCommand_Verifies(t *testing.T) {
	body := `{"messages":[{"role":"user","content":"hi"}]}`
	verifier := signing.NewVerifier([]byte(signSecret), time.Minute, nil)
	defaultPath := config.NewDefaultConfig().Backend.ChatPath

	tests := []struct {
		name  string
		stdin string
		args  []string
		path  string
	}{
		{
			name: "inline body default path",
			args: []string{"sign", "--secret", signSecret, "--data", body},
			path: defaultPath,
		},
		{
			name:  "stdin body custom path",
			stdin: body,
			args:  []string{"sign", "--secret", signSecret, "--data-file", "-", "--path", "/internal/chat"},
			path:  "/internal/chat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCommand(t, tt.stdin, tt.args...)
			if err != nil {
				t.Fatalf("sign error = %v", err)
			}

			env := signing.FromHeaders(parseHeaders(t, out), http.MethodPost, tt.path)
			if err := verifier.Verify(env, []byte(body)); err != nil {
				t.Errorf("Expected printed headers to verify, got %v", err)
			}
			if err := verifier.Verify(env, []byte(body+" ")); err == nil {
				t.Error("Expected a different body to fail verification")
			}
		})
	}
}

func TestSignCommand_JSON(t *testing.T) {
	out, err := runCommand(t, "", "sign", "--secret", signSecret, "--data", "{}", "--output", "json")
	if err != nil {
		t.Fatalf("sign error = %v", err)
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(out), &fields); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", out, err)
	}
	for _, name := range []string{signing.HeaderTimestamp, signing.HeaderNonce, signing.HeaderBodyDigest, signing.HeaderSignature} {
		if fields[name] == "" {
			t.Errorf("Expected %s in output", name)
		}
	}
	if fields[signing.HeaderBodyDigest] != signing.Digest([]byte("{}")) {
		t.Errorf("Expected digest of body, got %q", fields[signing.HeaderBodyDigest])
	}
}

func TestSignCommand_ExclusiveBodyFlags(t *testing.T) {
	_, err := runCommand(t, "", "sign", "--secret", signSecret, "--data", "{}", "--data-file", "-")
	if err == nil {
		t.Error("Expected error when both --data and --data-file are set")
	}
}
