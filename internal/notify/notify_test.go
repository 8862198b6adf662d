package notify

import "testing"

func TestEscapeAppleScript(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{`say "hello"`, `say \"hello\"`},
		{`path\to\file`, `path\\to\\file`},
		{`"quote" and \backslash`, `\"quote\" and \\backslash`},
		{"", ""},
	}
	for _, tt := range tests {
		got := escapeAppleScript(tt.input)
		if got != tt.want {
			t.Errorf("escapeAppleScript(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSend_NoneChannelIsSilent(t *testing.T) {
	if err := Send(ChannelNone, "phase escalated", "review needs a decision"); err != nil {
		t.Errorf("none channel should never error, got %v", err)
	}
}

func TestSend_UnknownChannel(t *testing.T) {
	err := Send("carrier-pigeon", "title", "message")
	if err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestSend_DesktopSpecialCharacters(t *testing.T) {
	// Exercises the escaping path end to end. Without a desktop
	// session the helper binary may be missing or fail; either way it
	// must not panic.
	err := Send(ChannelDesktop, `Phase "review"`, `gate rejected \output`)
	_ = err
}
