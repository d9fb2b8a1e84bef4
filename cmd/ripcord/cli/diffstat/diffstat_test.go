package diffstat

import (
	"bytes"
	"strings"
	"testing"
)

func TestCountLines(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"empty string", "", 0},
		{"single line no newline", "hello", 1},
		{"single line with newline", "hello\n", 1},
		{"two lines", "hello\nworld\n", 2},
		{"two lines no trailing newline", "hello\nworld", 2},
		{"only newline", "\n", 1},
		{"blank lines count", "\n\n\n", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CountLines(tt.content)
			if got != tt.want {
				t.Errorf("CountLines(%q) = %d, want %d", tt.content, got, tt.want)
			}
		})
	}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name        string
		before      string
		after       string
		wantAdded   int
		wantRemoved int
	}{
		{
			name:        "identical content",
			before:      "a\nb\nc\n",
			after:       "a\nb\nc\n",
			wantAdded:   0,
			wantRemoved: 0,
		},
		{
			name:        "new file",
			before:      "",
			after:       "a\nb\nc\n",
			wantAdded:   3,
			wantRemoved: 0,
		},
		{
			name:        "deleted file",
			before:      "a\nb\n",
			after:       "",
			wantAdded:   0,
			wantRemoved: 2,
		},
		{
			name:        "line added in middle",
			before:      "a\nb\nc\n",
			after:       "a\nb\nnew\nc\n",
			wantAdded:   1,
			wantRemoved: 0,
		},
		{
			name:        "line removed",
			before:      "a\nb\nc\n",
			after:       "a\nc\n",
			wantAdded:   0,
			wantRemoved: 1,
		},
		{
			name:        "line modified counts as add and remove",
			before:      "a\nold\nc\n",
			after:       "a\nnew\nc\n",
			wantAdded:   1,
			wantRemoved: 1,
		},
		{
			name:        "full rewrite",
			before:      "x\ny\n",
			after:       "p\nq\nr\n",
			wantAdded:   3,
			wantRemoved: 2,
		},
		{
			name:        "mixed edit",
			before:      "a\nb\nc\nd\ne\n",
			after:       "a\none\ntwo\nthree\nfour\nfive\nc\ne\n",
			wantAdded:   5,
			wantRemoved: 2,
		},
		{
			name:        "both empty",
			before:      "",
			after:       "",
			wantAdded:   0,
			wantRemoved: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.before, tt.after)
			if got.Added != tt.wantAdded || got.Removed != tt.wantRemoved {
				t.Errorf("Compute() = (+%d, -%d), want (+%d, -%d)",
					got.Added, got.Removed, tt.wantAdded, tt.wantRemoved)
			}
		})
	}
}

func TestIsBinary(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"empty", nil, false},
		{"plain text", []byte("hello world\n"), false},
		{"utf-8 text", []byte("héllo wörld\n"), false},
		{"null byte", []byte("hel\x00lo"), true},
		{"png header", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), true},
		{"mostly control bytes", bytes.Repeat([]byte{0x01, 'a'}, 100), true},
		{"tabs and newlines are fine", []byte("col1\tcol2\r\nval1\tval2\r\n"), false},
		{
			name: "null byte beyond sniff window is not seen",
			data: append(bytes.Repeat([]byte{'a'}, 2048), 0x00),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsBinary(tt.data)
			if got != tt.want {
				t.Errorf("IsBinary() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRender(t *testing.T) {
	before := "a\nb\nc\n"
	after := "a\nB\nc\n"

	out := Render(before, after)

	if !strings.Contains(out, "-b\n") {
		t.Errorf("Render() missing removed line, got:\n%s", out)
	}
	if !strings.Contains(out, "+B\n") {
		t.Errorf("Render() missing added line, got:\n%s", out)
	}
	if !strings.Contains(out, " a\n") {
		t.Errorf("Render() missing context line, got:\n%s", out)
	}
}

func TestRender_ElidesLongUnchangedRuns(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("line\n")
	}
	middle := sb.String()

	before := "start\n" + middle + "end\n"
	after := "START\n" + middle + "END\n"

	out := Render(before, after)

	if !strings.Contains(out, "unchanged lines @@") {
		t.Errorf("Render() should elide the long unchanged run, got:\n%s", out)
	}
	if strings.Count(out, " line\n") > 2*contextLines {
		t.Errorf("Render() kept too many context lines:\n%s", out)
	}
}

func TestRender_IdenticalContentIsEmpty(t *testing.T) {
	if out := Render("same\n", "same\n"); out != "" {
		t.Errorf("Render() on identical content = %q, want empty", out)
	}
}
