package ssh

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"password only", Config{Username: "u", Password: "p", HostKeyPath: "k"}, true},
		{"keys only", Config{AuthorizedKeys: []string{"ssh-ed25519 AAAA"}, HostKeyPath: "k"}, true},
		{"neither", Config{HostKeyPath: "k"}, false},
		{"password missing host key path", Config{Username: "u", Password: "p"}, false},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if (err == nil) != tc.ok {
			t.Errorf("%s: Validate() err = %v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}

func TestParsePtyReq_FullRequest(t *testing.T) {
	payload := make([]byte, 0, 64)
	payload = binary.BigEndian.AppendUint32(payload, uint32(len("xterm")))
	payload = append(payload, []byte("xterm")...)
	payload = binary.BigEndian.AppendUint32(payload, 80)
	payload = binary.BigEndian.AppendUint32(payload, 24)
	payload = binary.BigEndian.AppendUint32(payload, 0)
	payload = binary.BigEndian.AppendUint32(payload, 0)
	payload = binary.BigEndian.AppendUint32(payload, 0) // empty modes string

	cols, rows, ok := parsePtyReq(payload)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if cols != 80 || rows != 24 {
		t.Errorf("cols,rows = %d,%d want 80,24", cols, rows)
	}
}

func TestParsePtyReq_WindowChange(t *testing.T) {
	payload := make([]byte, 0, 16)
	payload = binary.BigEndian.AppendUint32(payload, 100)
	payload = binary.BigEndian.AppendUint32(payload, 40)
	payload = binary.BigEndian.AppendUint32(payload, 0)
	payload = binary.BigEndian.AppendUint32(payload, 0)

	cols, rows, ok := parsePtyReq(payload)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if cols != 100 || rows != 40 {
		t.Errorf("cols,rows = %d,%d want 100,40", cols, rows)
	}
}

func TestParseExecPayload(t *testing.T) {
	payload := make([]byte, 0, 16)
	payload = binary.BigEndian.AppendUint32(payload, uint32(len("uptime")))
	payload = append(payload, []byte("uptime")...)

	got := parseExecPayload(payload)
	if got != "uptime" {
		t.Errorf("got %q, want %q", got, "uptime")
	}
}

func TestLoadOrGenerateHostKey_PersistsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host_key")

	s1, err := loadOrGenerateHostKey(path)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("host key file not written: %v", err)
	}

	s2, err := loadOrGenerateHostKey(path)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if string(s1.PublicKey().Marshal()) != string(s2.PublicKey().Marshal()) {
		t.Error("host key changed across reloads")
	}
}
