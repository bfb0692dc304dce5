package main

import "testing"

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		kind commandKind
		arg  string
	}{
		{"", cmdEmpty, ""},
		{"   ", cmdEmpty, ""},
		{"hello there", cmdChat, ""},
		{"/help", cmdServer, ""},
		{"/deploy staging", cmdServer, ""},
		{"/join lobby", cmdJoin, "lobby"},
		{"/JOIN  lobby ", cmdJoin, "lobby"},
		{"/join", cmdInvalid, "/join needs an argument"},
		{"/leave lobby", cmdLeave, "lobby"},
		{"/project 42", cmdProject, "42"},
		{"/status", cmdStatus, ""},
		{"/info", cmdInfo, ""},
		{"/?", cmdHelp, ""},
		{"/quit", cmdQuit, ""},
		{"/exit", cmdQuit, ""},
	}

	for _, tt := range tests {
		got := parseLine(tt.line)
		if got.kind != tt.kind {
			t.Errorf("parseLine(%q).kind = %d, want %d", tt.line, got.kind, tt.kind)
		}
		if got.arg != tt.arg {
			t.Errorf("parseLine(%q).arg = %q, want %q", tt.line, got.arg, tt.arg)
		}
	}
}

func TestParseLine_KeepsServerCommandText(t *testing.T) {
	got := parseLine("  /help me  ")
	if got.line != "/help me" {
		t.Errorf("line = %q, want %q", got.line, "/help me")
	}
}
