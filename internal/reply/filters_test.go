package reply

import "testing"

const zw = "\u200b"

func TestEscapeMentions(t *testing.T) {
	got := EscapeMentions("hi @everyone and @bob")
	want := "hi @" + zw + "everyone and @" + zw + "bob"
	if got != want {
		t.Errorf("EscapeMentions = %q, want %q", got, want)
	}
}

func TestRedactAges(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single digit", "i am 9", "i am " + zw},
		{"twelve digits", "turning 12 soon", "turning " + zw + " soon"},
		{"thirteen kept", "i am 13", "i am 13"},
		{"part of longer number", "call 911 or 2024", "call 911 or 2024"},
		{"leading zero run kept", "room 012", "room 012"},
		{"zero digit", "0 issues", zw + " issues"},
		{"number word", "she is Eleven years old", "she is " + zw + " years old"},
		{"word needs boundary", "someone alone", "someone alone"},
		{"digits next to letters", "v2 rocks", "v" + zw + " rocks"},
		{"mixed", "5 or five", zw + " or " + zw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedactAges(tt.in); got != tt.want {
				t.Errorf("RedactAges(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestApplyFiltersOrderAndGating(t *testing.T) {
	in := "@sam is 7"
	if got := ApplyFilters(in, Options{}); got != in {
		t.Errorf("no filters changed text: %q", got)
	}
	if got := ApplyFilters(in, Options{DisableMentions: true}); got != "@"+zw+"sam is 7" {
		t.Errorf("mentions only = %q", got)
	}
	want := "@" + zw + "sam is " + zw
	if got := ApplyFilters(in, Options{DisableMentions: true, AgeFilter: true}); got != want {
		t.Errorf("both = %q, want %q", got, want)
	}
}
