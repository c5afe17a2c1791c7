package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/1broseidon/droidrelay/internal/config"
	"github.com/1broseidon/droidrelay/internal/ipc"
)

func TestFormatSource(t *testing.T) {
	tests := []struct {
		src  config.Source
		want string
	}{
		{config.Source{Kind: config.SourceDefault}, "default"},
		{config.Source{Kind: config.SourceDefault, Name: "socket_timeout"}, "default:socket_timeout"},
		{config.Source{Kind: config.SourceFile}, "file"},
		{config.Source{Kind: config.SourceFile, File: "/etc/droidrelay.yaml"}, "file:/etc/droidrelay.yaml"},
		{config.Source{Kind: config.SourceFile, File: "/etc/droidrelay.yaml", Line: 3, Column: 1}, "file:/etc/droidrelay.yaml:3:1"},
	}
	for _, tt := range tests {
		if got := formatSource(tt.src); got != tt.want {
			t.Errorf("formatSource(%+v) = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, &ipc.StatusData{
		DaemonRunning: true,
		Focused:       true,
		RegistrySize:  3,
		Channels: []ipc.ChannelStatus{
			{Name: "relay", Socket: "/tmp/sfdroid/gralloc_buffer_handle", State: "receiving", Connected: true},
			{Name: "sensor", Socket: "/tmp/sfdroid/sensors_handle"},
		},
		Windows: []ipc.WindowInfo{
			{App: "com.android.launcher3", WindowID: 0x400001, Primary: true},
			{App: "com.example.mail", Activity: ".Inbox", WindowID: 0x400002, Focused: true},
		},
	})
	out := buf.String()

	for _, want := range []string{
		"registry_size:  3",
		"connected (receiving)",
		"waiting",
		"0x00400001 com.android.launcher3 [primary]",
		"0x00400002 com.example.mail/.Inbox [focused]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\nsensor:\n  interval: 50ms\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := configValidate(&buf, path); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(buf.String(), "config: ok") {
		t.Errorf("validate output = %q", buf.String())
	}

	buf.Reset()
	if err := configExplain(&buf, path, "sensor.interval"); err != nil {
		t.Fatalf("explain: %v", err)
	}
	if want := "source: file:" + path + ":3:"; !strings.Contains(buf.String(), want) {
		t.Errorf("explain output missing %q:\n%s", want, buf.String())
	}

	buf.Reset()
	if err := configPrint(&buf, "", true); err != nil {
		t.Fatalf("print: %v", err)
	}
	if !strings.Contains(buf.String(), "launcher_app: com.android.launcher3") {
		t.Errorf("print --defaults output:\n%s", buf.String())
	}
}
