package commands_test

import (
	"context"
	"errors"
	"testing"

	"github.com/oqilov/monomane/internal/monomane/chat"
	"github.com/oqilov/monomane/internal/monomane/commands"
)

func TestParse(t *testing.T) {
	router := commands.NewRouter(".")

	tests := []struct {
		name     string
		input    string
		wantName string
		wantRest string
	}{
		{"bare command", ".help", "help", ""},
		{"command with argument", ".ai what is the weather", "ai", "what is the weather"},
		{"uppercase name", ".AI hello", "ai", "hello"},
		{"multiline rest", ".text 5 3 line one\nline two", "text", "5 3 line one\nline two"},
		{"surrounding whitespace", "  .adm online on  ", "adm", "online on"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := router.Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.input, err)
			}
			if cmd.Name != tt.wantName {
				t.Errorf("name: got %q, want %q", cmd.Name, tt.wantName)
			}
			if cmd.Rest != tt.wantRest {
				t.Errorf("rest: got %q, want %q", cmd.Rest, tt.wantRest)
			}
		})
	}
}

func TestParseNonCommands(t *testing.T) {
	router := commands.NewRouter(".")

	for _, input := range []string{"hello", "", ".", ". leading space", "ai without prefix"} {
		_, err := router.Parse(input)
		if !errors.Is(err, commands.ErrNotACommand) {
			t.Errorf("Parse(%q): got %v, want ErrNotACommand", input, err)
		}
	}
}

func TestDispatchUnknownNameFallsThrough(t *testing.T) {
	router := commands.NewRouter(".")

	cmd, err := router.Parse(".nope")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, handled, err := router.Dispatch(context.Background(), cmd, chat.Message{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if handled {
		t.Error("unknown commands must fall through to the auto-reply path")
	}
}

func TestDispatchRunsHandler(t *testing.T) {
	router := commands.NewRouter(".")
	router.Register("echo", func(ctx context.Context, cmd *commands.Command, msg chat.Message) (string, error) {
		return cmd.Rest, nil
	})

	cmd, err := router.Parse(".echo back at you")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	reply, handled, err := router.Dispatch(context.Background(), cmd, chat.Message{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !handled {
		t.Fatal("registered command should be handled")
	}
	if reply != "back at you" {
		t.Errorf("reply: got %q", reply)
	}
}

func TestDispatchWrapsHandlerError(t *testing.T) {
	router := commands.NewRouter(".")
	boom := errors.New("boom")
	router.Register("fail", func(ctx context.Context, cmd *commands.Command, msg chat.Message) (string, error) {
		return "", boom
	})

	cmd, _ := router.Parse(".fail")
	_, handled, err := router.Dispatch(context.Background(), cmd, chat.Message{})
	if !handled {
		t.Error("a failing handler still counts as handled")
	}
	if !errors.Is(err, boom) {
		t.Errorf("error: got %v, want wrapped boom", err)
	}
}
