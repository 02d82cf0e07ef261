// ABOUTME: Tests for inbox-server argument parsing and config path resolution
// ABOUTME: Server behavior itself is covered in internal/server

package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/halfattire/inbox/internal/chat"
)

func TestParseTokenArgs(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		principal string
		role      chat.Role
		ttl       time.Duration
		wantErr   bool
	}{
		{"separate values", []string{"--principal", "b1", "--role", "seller"}, "b1", chat.RoleSeller, 0, false},
		{"equals form", []string{"--principal=b1", "--ttl=1h"}, "b1", chat.RoleUser, time.Hour, false},
		{"short flags", []string{"-p", "s9", "-r", "shop"}, "s9", chat.RoleSeller, 0, false},
		{"missing principal", []string{"--role", "user"}, "", "", 0, true},
		{"missing value", []string{"--principal"}, "", "", 0, true},
		{"bad role", []string{"--principal", "x", "--role", "admin"}, "", "", 0, true},
		{"bad ttl", []string{"--principal", "x", "--ttl", "soon"}, "", "", 0, true},
		{"unknown flag", []string{"--name", "x"}, "", "", 0, true},
		{"positional", []string{"x"}, "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal, role, ttl, err := parseTokenArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTokenArgs(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if principal != tt.principal || role != tt.role || ttl != tt.ttl {
				t.Errorf("parseTokenArgs(%v) = %q, %q, %v", tt.args, principal, role, ttl)
			}
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("INBOX_CONFIG", "/etc/inbox.yaml")
	if got := getConfigPath(); got != "/etc/inbox.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}

	t.Setenv("INBOX_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/cfg")
	if got, want := getConfigPath(), filepath.Join("/tmp/cfg", "inbox", "server.yaml"); got != want {
		t.Errorf("getConfigPath() = %q, want %q", got, want)
	}
}
