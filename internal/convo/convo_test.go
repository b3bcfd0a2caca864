package convo

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewWindowCapacity(t *testing.T) {
	cases := map[int]int{0: 6, 1: 6, -3: 6, 2: 2, 7: 6, 10: 10}
	for in, want := range cases {
		if got := NewWindow(in).Cap(); got != want {
			t.Fatalf("NewWindow(%d).Cap() = %d, want %d", in, got, want)
		}
	}
}

func TestWindowEvictsWholeExchanges(t *testing.T) {
	w := NewWindow(6)
	for i := 1; i <= 5; i++ {
		w.Append(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
		if w.Len() > w.Cap() {
			t.Fatalf("len %d exceeds cap %d", w.Len(), w.Cap())
		}
	}
	turns := w.Turns()
	if len(turns) != 6 {
		t.Fatalf("want 6 records, got %d", len(turns))
	}
	if turns[0].Role != RoleUser || turns[0].Text != "q3" {
		t.Fatalf("window must start at a user turn of exchange 3: %+v", turns[0])
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].Ordinal <= turns[i-1].Ordinal {
			t.Fatalf("ordinals must increase: %+v", turns)
		}
	}
	want := "User: q3\nAssistant: a3\nUser: q4\nAssistant: a4\nUser: q5\nAssistant: a5\n"
	if got := w.Render(); got != want {
		t.Fatalf("render:\n%q\nwant\n%q", got, want)
	}
}

func TestWindowTurnsIsCopy(t *testing.T) {
	w := NewWindow(4)
	w.Append("q", "a")
	turns := w.Turns()
	turns[0].Text = "mutated"
	if w.Turns()[0].Text != "q" {
		t.Fatalf("Turns leaked internal state")
	}
}

func TestWindowRebuildAndReset(t *testing.T) {
	var history []TurnRecord
	for i := 0; i < 9; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		history = append(history, TurnRecord{Role: role, Text: fmt.Sprint(i), Ordinal: i})
	}
	w := NewWindow(6)
	w.Rebuild(history)
	turns := w.Turns()
	if len(turns) != 6 || turns[0].Text != "3" || turns[5].Text != "8" {
		t.Fatalf("rebuild should keep the last 6 records: %+v", turns)
	}
	w.Append("next", "reply")
	if got := w.Turns(); got[len(got)-1].Ordinal != 10 {
		t.Fatalf("ordinals continue after rebuild: %+v", got)
	}
	w.Reset()
	if w.Len() != 0 || w.Render() != "" {
		t.Fatalf("reset left %d records", w.Len())
	}
}

func TestWindowAppendAfterOddRebuildKeepsPairs(t *testing.T) {
	var history []TurnRecord
	for i := 0; i < 9; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		history = append(history, TurnRecord{Role: role, Text: fmt.Sprint(i), Ordinal: i})
	}
	w := NewWindow(6)
	w.Rebuild(history)
	if w.Turns()[0].Role != RoleAssistant {
		t.Fatalf("rebuild keeps the last records as is")
	}
	w.Append("9", "10")
	got := w.Turns()
	if len(got) > w.Cap() || got[0].Role != RoleUser {
		t.Fatalf("window must open on a user turn within capacity: %+v", got)
	}
	for i, tr := range got {
		if tr.Role == RoleAssistant && (i == 0 || got[i-1].Role != RoleUser || got[i-1].Ordinal != tr.Ordinal-1) {
			t.Fatalf("assistant turn %d without its user half: %+v", tr.Ordinal, got)
		}
	}
	if got[0].Ordinal != 6 || got[len(got)-1].Ordinal != 10 {
		t.Fatalf("unexpected window %+v", got)
	}
}

func TestWindowRebuildFrom(t *testing.T) {
	var history []TurnRecord
	for i := 0; i < 8; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		history = append(history, TurnRecord{Role: role, Text: fmt.Sprint(i), Ordinal: i})
	}
	w := NewWindow(6)
	w.RebuildFrom(history, 6)
	if got := w.Turns(); len(got) != 2 || got[0].Ordinal != 6 {
		t.Fatalf("only records from ordinal 6 on: %+v", got)
	}
	w.RebuildFrom(history, 8)
	if w.Len() != 0 {
		t.Fatalf("nothing after the start ordinal")
	}
	w.Append("q", "a")
	if got := w.Turns(); got[0].Ordinal != 8 {
		t.Fatalf("ordinals continue after history: %+v", got)
	}
}

func TestNewGroundingTruncation(t *testing.T) {
	short := NewGrounding(GroundingDocument, "a.txt", strings.Repeat("x", GroundingBudget))
	if short.Truncated || utf8.RuneCountInString(short.Text) != GroundingBudget {
		t.Fatalf("text at budget must be unchanged")
	}
	long := NewGrounding(GroundingDocument, "b.txt", strings.Repeat("é", GroundingBudget+10))
	if !long.Truncated || !strings.HasSuffix(long.Text, TruncationMarker) {
		t.Fatalf("expected truncation marker")
	}
	body := strings.TrimSuffix(long.Text, TruncationMarker)
	if utf8.RuneCountInString(body) != GroundingBudget || !utf8.ValidString(body) {
		t.Fatalf("truncated body has %d runes", utf8.RuneCountInString(body))
	}
}

func TestAssemble(t *testing.T) {
	doc := NewGrounding(GroundingDocument, "report.pdf", "Revenue grew 10%.")
	if got, want := Assemble(&doc, "", "What grew?"),
		"Document context:\nRevenue grew 10%.\n\nUser: What grew?\nAssistant:"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	if got, want := Assemble(nil, "User: hi\nAssistant: hello\n", "and?"),
		"Previous conversation:\nUser: hi\nAssistant: hello\n\nUser: and?\nAssistant:"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	ocr := NewGrounding(GroundingImageOCR, "receipt.png", "TOTAL 4.20")
	got := Assemble(&ocr, "User: a\nAssistant: b\n", "How much?")
	parts := []string{
		"You have access to text extracted from an image via OCR.\nTOTAL 4.20\n\n",
		"Please answer questions about this text accurately. If asked about specific content, quote directly from the extracted text.\n\n",
		"Previous conversation:\n",
		"User: How much?\nAssistant:",
	}
	last := -1
	for _, p := range parts {
		i := strings.Index(got, p)
		if i <= last {
			t.Fatalf("section %q missing or out of order in %q", p, got)
		}
		last = i
	}

	none := NewGrounding(GroundingNone, "", "ignored")
	if got := Assemble(&none, "", "x"); got != "User: x\nAssistant:" {
		t.Fatalf("inactive grounding leaked: %q", got)
	}
}

func TestParseGroundingKind(t *testing.T) {
	for in, want := range map[string]GroundingKind{"": GroundingNone, "Document": GroundingDocument, "image-ocr": GroundingImageOCR} {
		got, err := ParseGroundingKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseGroundingKind(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseGroundingKind("pdf"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
