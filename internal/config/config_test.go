package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Address != "127.0.0.1" {
		t.Errorf("Server.Address = %s, want 127.0.0.1", cfg.Server.Address)
	}
	if cfg.Server.Port != 1080 {
		t.Errorf("Server.Port = %d, want 1080", cfg.Server.Port)
	}
	if cfg.Server.WorkerProcessNum == 0 {
		t.Error("Server.WorkerProcessNum = 0, want at least 1")
	}
	if cfg.Server.Protocol.KeepAliveTime != 30 {
		t.Errorf("Protocol.KeepAliveTime = %d, want 30", cfg.Server.Protocol.KeepAliveTime)
	}
	if cfg.Server.Protocol.CheckDuration != 1 {
		t.Errorf("Protocol.CheckDuration = %d, want 1", cfg.Server.Protocol.CheckDuration)
	}
	if cfg.Server.Protocol.Auth {
		t.Error("Protocol.Auth = true, want false by default")
	}
	if len(cfg.Server.Protocol.Credentials) != 0 {
		t.Errorf("Protocol.Credentials = %v, want empty", cfg.Server.Protocol.Credentials)
	}
}

func TestParseValidConfig(t *testing.T) {
	yamlConfig := `
server:
  address: "0.0.0.0"
  port: 9050
  worker_process_num: 4
  protocol:
    keep_alive_time: 60
    check_duration: 2
    auth: true
    credentials:
      - username: alice
        password: "$2a$10$abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ01"
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.Server.Address != "0.0.0.0" {
		t.Errorf("Server.Address = %s, want 0.0.0.0", cfg.Server.Address)
	}
	if cfg.Server.Port != 9050 {
		t.Errorf("Server.Port = %d, want 9050", cfg.Server.Port)
	}
	if cfg.Server.WorkerProcessNum != 4 {
		t.Errorf("Server.WorkerProcessNum = %d, want 4", cfg.Server.WorkerProcessNum)
	}
	if cfg.Server.Protocol.KeepAliveTime != 60 {
		t.Errorf("Protocol.KeepAliveTime = %d, want 60", cfg.Server.Protocol.KeepAliveTime)
	}
	if !cfg.Server.Protocol.Auth {
		t.Error("Protocol.Auth = false, want true")
	}
	if len(cfg.Server.Protocol.Credentials) != 1 {
		t.Fatalf("len(Credentials) = %d, want 1", len(cfg.Server.Protocol.Credentials))
	}
	if cfg.Server.Protocol.Credentials[0].Username != "alice" {
		t.Errorf("Credentials[0].Username = %s, want alice", cfg.Server.Protocol.Credentials[0].Username)
	}
}

func TestParsePartialConfigAppliesDefaults(t *testing.T) {
	yamlConfig := `
server:
  port: 1081
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.Server.Address != "127.0.0.1" {
		t.Errorf("Server.Address = %s, want 127.0.0.1 (default)", cfg.Server.Address)
	}
	if cfg.Server.Port != 1081 {
		t.Errorf("Server.Port = %d, want 1081", cfg.Server.Port)
	}
	if cfg.Server.Protocol.KeepAliveTime != 30 {
		t.Errorf("Protocol.KeepAliveTime = %d, want 30 (default)", cfg.Server.Protocol.KeepAliveTime)
	}
}

func TestParseMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("server:\n  port: [this is not valid"))
	if err == nil {
		t.Error("Parse() with malformed YAML should return an error")
	}
}

func TestParseWrongType(t *testing.T) {
	_, err := Parse([]byte("server:\n  port: \"not-a-number\""))
	if err == nil {
		t.Error("Parse() with wrong field type should return an error")
	}
}

func TestValidateAuthRequiresCredentials(t *testing.T) {
	cfg := Default()
	cfg.Server.Protocol.Auth = true

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail when auth is enabled with no credentials")
	}
}

func TestValidateRejectsDuplicateUsernames(t *testing.T) {
	cfg := Default()
	cfg.Server.Protocol.Auth = true
	cfg.Server.Protocol.Credentials = []Credential{
		{Username: "bob", Password: "hash1"},
		{Username: "bob", Password: "hash2"},
	}

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail on duplicate usernames")
	}
}

func TestValidateRejectsEmptyAddress(t *testing.T) {
	cfg := Default()
	cfg.Server.Address = ""

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail on empty address")
	}
}

func TestValidateRejectsZeroPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail on zero port")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func TestLoadFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "server:\n  port: 2080\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 2080 {
		t.Errorf("Server.Port = %d, want 2080", cfg.Server.Port)
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("SOCKS5D_TEST_PASSWORD", "hashed-value")
	defer os.Unsetenv("SOCKS5D_TEST_PASSWORD")

	yamlConfig := `
server:
  protocol:
    auth: true
    credentials:
      - username: alice
        password: "${SOCKS5D_TEST_PASSWORD}"
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.Server.Protocol.Credentials[0].Password != "hashed-value" {
		t.Errorf("Credentials[0].Password = %q, want %q", cfg.Server.Protocol.Credentials[0].Password, "hashed-value")
	}
}

func TestAddr(t *testing.T) {
	cfg := Default()
	cfg.Server.Address = "10.0.0.1"
	cfg.Server.Port = 1090

	if got, want := cfg.Addr(), "10.0.0.1:1090"; got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func TestHashedCredentialMap(t *testing.T) {
	p := ProtocolConfig{
		Credentials: []Credential{
			{Username: "alice", Password: "hash-a"},
			{Username: "bob", Password: "hash-b"},
		},
	}

	m := p.HashedCredentialMap()
	if m["alice"] != "hash-a" || m["bob"] != "hash-b" {
		t.Errorf("HashedCredentialMap() = %v, missing expected entries", m)
	}
}
