package config

import "testing"

func TestInitialize(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	path := writeConfig(t, "hop:\n  secret: \""+testSecret+"\"\n")
	if err := Initialize(path); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}

	cfg := GetConfig()
	if cfg == nil {
		t.Fatal("expected non-nil config after initialization")
	}
	if cfg.Hop.Secret != testSecret {
		t.Errorf("expected secret loaded, got %q", cfg.Hop.Secret)
	}
}

func TestInitialize_MultipleCallsIgnored(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	first := writeConfig(t, "hop:\n  secret: \""+testSecret+"\"\ngateway:\n  max_messages: 3\n")
	second := writeConfig(t, "hop:\n  secret: \""+testSecret+"\"\ngateway:\n  max_messages: 9\n")

	if err := Initialize(first); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}
	if err := Initialize(second); err != nil {
		t.Fatalf("second Initialize returned error: %v", err)
	}
	if got := GetConfig().Gateway.MaxMessages; got != 3 {
		t.Errorf("expected first config to win, got max messages %d", got)
	}
}

func TestReset_AllowsReinitialize(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	first := writeConfig(t, "hop:\n  secret: \""+testSecret+"\"\ngateway:\n  max_messages: 3\n")
	second := writeConfig(t, "hop:\n  secret: \""+testSecret+"\"\ngateway:\n  max_messages: 9\n")

	if err := Initialize(first); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}
	Reset()
	if GetConfig() != nil {
		t.Fatal("expected nil config after Reset")
	}
	if err := Initialize(second); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}
	if got := GetConfig().Gateway.MaxMessages; got != 9 {
		t.Errorf("expected second config after Reset, got max messages %d", got)
	}
}
