package main

import (
	"testing"

	"github.com/whisper/guardbot/internal/protocol"
)

func TestFormatDirective(t *testing.T) {
	tests := []struct {
		name string
		d    protocol.Directive
		want string
	}{
		{"delete", protocol.DeleteMessage("m1"), `delete_message message="m1"`},
		{"kick", protocol.KickUser("g1", "u1"), `kick_user group="g1" user="u1"`},
		{"reply", protocol.SendReply("u2", "hi there"), `send_reply user="u2" text="hi there"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.d.Encode()
			if err != nil {
				t.Fatal(err)
			}
			d, err := protocol.ParseDirective(data)
			if err != nil {
				t.Fatalf("ParseDirective: %v", err)
			}
			if got := formatDirective(d); got != tt.want {
				t.Errorf("formatDirective = %s, want %s", got, tt.want)
			}
		})
	}
}
