package pipeline

import (
	"testing"
)

func TestParseDirectives_NoTags(t *testing.T) {
	text, dirs := ParseDirectives("Thanks for calling, goodbye.")
	if text != "Thanks for calling, goodbye." {
		t.Errorf("text = %q", text)
	}
	if len(dirs) != 0 {
		t.Errorf("dirs = %v, want none", dirs)
	}
}

func TestParseDirectives_EndCall(t *testing.T) {
	text, dirs := ParseDirectives("Have a great day! [END_CALL]")
	if text != "Have a great day!" {
		t.Errorf("text = %q", text)
	}
	if len(dirs) != 1 || dirs[0].Kind != DirectiveEndCall {
		t.Fatalf("dirs = %v, want one end_call", dirs)
	}
}

func TestParseDirectives_VerifyWithArg(t *testing.T) {
	text, dirs := ParseDirectives("Let me check that. [VERIFY: Jane Doe] One moment.")
	if text != "Let me check that. One moment." {
		t.Errorf("text = %q", text)
	}
	if len(dirs) != 1 {
		t.Fatalf("dirs = %v, want one", dirs)
	}
	if dirs[0].Kind != DirectiveVerify || dirs[0].Arg != "Jane Doe" {
		t.Errorf("dir = %+v, want verify with arg %q", dirs[0], "Jane Doe")
	}
}

func TestParseDirectives_MultipleInOrder(t *testing.T) {
	_, dirs := ParseDirectives("[VERIFY: Bob] ok [HANDOFF] bye [END_CALL]")
	want := []DirectiveKind{DirectiveVerify, DirectiveHandoff, DirectiveEndCall}
	if len(dirs) != len(want) {
		t.Fatalf("dirs = %v, want %d entries", dirs, len(want))
	}
	for i, k := range want {
		if dirs[i].Kind != k {
			t.Errorf("dirs[%d].Kind = %q, want %q", i, dirs[i].Kind, k)
		}
	}
}

func TestParseDirectives_UnknownBracketKept(t *testing.T) {
	text, dirs := ParseDirectives("the code is [A4] today")
	if text != "the code is [A4] today" {
		t.Errorf("text = %q", text)
	}
	if len(dirs) != 0 {
		t.Errorf("dirs = %v, want none", dirs)
	}
}

func TestTagFilter_TagSplitAcrossTokens(t *testing.T) {
	var f tagFilter
	var spoken string
	for _, tok := range []string{"Goodbye! ", "[END", "_CA", "LL]"} {
		spoken += f.feed(tok)
	}
	spoken += f.flush()
	if spoken != "Goodbye! " {
		t.Errorf("spoken = %q, want %q", spoken, "Goodbye! ")
	}
}

func TestTagFilter_NonTagBracketsSpoken(t *testing.T) {
	var f tagFilter
	var spoken string
	for _, tok := range []string{"press [1] ", "to continue"} {
		spoken += f.feed(tok)
	}
	spoken += f.flush()
	if spoken != "press [1] to continue" {
		t.Errorf("spoken = %q", spoken)
	}
}

func TestTagFilter_UnclosedBracketFlushed(t *testing.T) {
	var f tagFilter
	spoken := f.feed("trailing [END")
	spoken += f.flush()
	if spoken != "trailing [END" {
		t.Errorf("spoken = %q", spoken)
	}
}

func TestTagFilter_NewlineReleasesHeldText(t *testing.T) {
	var f tagFilter
	spoken := f.feed("a [note\nmore")
	spoken += f.flush()
	if spoken != "a [note\nmore" {
		t.Errorf("spoken = %q", spoken)
	}
}

func TestTagFilter_VerifyTagStripped(t *testing.T) {
	var f tagFilter
	var spoken string
	for _, tok := range []string{"Sure. [VERIFY:", " Jane", " Doe]", " Checking now."} {
		spoken += f.feed(tok)
	}
	spoken += f.flush()
	// The filter drops the tag but does not collapse surrounding whitespace.
	if spoken != "Sure.  Checking now." {
		t.Errorf("spoken = %q, want %q", spoken, "Sure.  Checking now.")
	}
}
