package progress

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"batchdl/internal/consts"
	"batchdl/internal/entity"
)

// syncBuffer lets the test read output that bars may still be rendering.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func TestShorten(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "intro", "intro"},
		{"exact", strings.Repeat("a", 25), strings.Repeat("a", 25)},
		{"long", strings.Repeat("b", 30), strings.Repeat("b", 24) + "…"},
		{"multibyte", strings.Repeat("ж", 26), strings.Repeat("ж", 24) + "…"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := shorten(tc.in)
			if got != tc.want {
				t.Fatalf("shorten(%q) = %q, want %q", tc.in, got, tc.want)
			}

			if n := len([]rune(got)); n > maxDescriptionRunes {
				t.Fatalf("shorten(%q) has %d runes", tc.in, n)
			}
		})
	}
}

func TestNewFactory(t *testing.T) {
	log := slog.New(slog.DiscardHandler)

	tests := []struct {
		mode    string
		wantErr bool
	}{
		{consts.ProgressBar, false},
		{consts.ProgressLog, false},
		{consts.ProgressNone, false},
		{"fancy", true},
	}

	for _, tc := range tests {
		t.Run(tc.mode, func(t *testing.T) {
			f, err := NewFactory(log, tc.mode, &bytes.Buffer{})
			if (err != nil) != tc.wantErr {
				t.Fatalf("NewFactory(%q) error = %v, wantErr %v", tc.mode, err, tc.wantErr)
			}

			if !tc.wantErr && f.New("job") == nil {
				t.Fatalf("NewFactory(%q).New() returned nil", tc.mode)
			}
		})
	}
}

func TestBarFailLine(t *testing.T) {
	var buf syncBuffer

	r := NewBars(&buf).New("lesson-02")
	r.Update(entity.ProgressSample{Downloaded: 10, Total: 100})
	r.Fail("exit status 1")
	r.Finalize()

	if !strings.Contains(buf.String(), "lesson-02 ❌ Error: exit status 1") {
		t.Fatalf("missing failure line in output: %q", buf.String())
	}
}

func TestBarIgnoresCallsAfterFinalize(t *testing.T) {
	tests := []struct {
		name  string
		total int64
	}{
		{"knownTotal", 100},
		{"unknownTotal", -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf syncBuffer

			bar, ok := NewBars(&buf).New("clip").(*Bar)
			if !ok {
				t.Fatal("Bars.New did not return *Bar")
			}

			bar.Update(entity.ProgressSample{Downloaded: 50, Total: tc.total})
			bar.Finalize()

			bar.Update(entity.ProgressSample{Downloaded: 80, Total: 200})
			bar.Fail("late")
			bar.Finalize()

			if bar.current != 50 || bar.failed {
				t.Fatalf("bar changed after Finalize: current=%d failed=%v", bar.current, bar.failed)
			}

			if strings.Contains(buf.String(), "late") {
				t.Fatalf("failure printed after Finalize: %q", buf.String())
			}
		})
	}
}

func TestBarTracksTotal(t *testing.T) {
	bar, ok := NewBars(&bytes.Buffer{}).New("clip").(*Bar)
	if !ok {
		t.Fatal("Bars.New did not return *Bar")
	}

	bar.Update(entity.ProgressSample{Downloaded: 5})
	if bar.total != -1 {
		t.Fatalf("total = %d after unknown sample, want -1", bar.total)
	}

	bar.Update(entity.ProgressSample{Downloaded: 10, Total: 40})
	bar.Update(entity.ProgressSample{Downloaded: 8, Total: 40})

	if bar.total != 40 || bar.current != 10 {
		t.Fatalf("total, current = %d, %d; want 40, 10", bar.total, bar.current)
	}
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer

	log := slog.New(slog.NewJSONHandler(&buf, nil))

	r := NewLogs(log).New("slide_1")
	r.Update(entity.ProgressSample{Downloaded: 50, Total: 100})
	r.Update(entity.ProgressSample{Downloaded: 60, Total: 100})
	r.Update(entity.ProgressSample{Downloaded: 100, Total: 100, Finished: true})
	r.Finalize()
	r.Update(entity.ProgressSample{Downloaded: 100, Total: 100, Finished: true})

	var msgs []string

	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("bad record %q: %v", line, err)
		}

		if rec["job"] != "slide_1" {
			t.Errorf("record without job attribute: %v", rec)
		}

		msgs = append(msgs, rec["msg"].(string))
	}

	want := []string{"job progress", "job progress", "job finished"}
	if strings.Join(msgs, ",") != strings.Join(want, ",") {
		t.Fatalf("messages = %v, want %v", msgs, want)
	}
}

func TestLogReporterFailure(t *testing.T) {
	var buf bytes.Buffer

	r := NewLogs(slog.New(slog.NewJSONHandler(&buf, nil))).New("clip")
	r.Fail("boom")
	r.Finalize()

	out := buf.String()
	if !strings.Contains(out, `"msg":"job failed"`) || !strings.Contains(out, `"detail":"boom"`) {
		t.Fatalf("missing failure record: %s", out)
	}

	if strings.Contains(out, "job finished") {
		t.Fatalf("failed job logged as finished: %s", out)
	}
}

// replayTerminal applies the cursor movement in out and returns the visible lines.
func replayTerminal(out string) []string {
	var lines [][]rune

	y, x := 0, 0
	grow := func() {
		for len(lines) <= y {
			lines = append(lines, nil)
		}
	}

	rs := []rune(out)
	for i := 0; i < len(rs); i++ {
		switch c := rs[i]; c {
		case '\r':
			x = 0
		case '\n':
			y++
			x = 0
		case '\x1b':
			j, n := i+2, 0
			for j < len(rs) && rs[j] >= '0' && rs[j] <= '9' {
				n = n*10 + int(rs[j]-'0')
				j++
			}

			if j >= len(rs) {
				i = j

				continue
			}

			grow()

			switch rs[j] {
			case 'A':
				y = max(0, y-n)
			case 'B':
				y += n
			case 'K':
				if n == 2 {
					lines[y] = nil
				} else if x < len(lines[y]) {
					lines[y] = lines[y][:x]
				}
			case 'J':
				if x < len(lines[y]) {
					lines[y] = lines[y][:x]
				}

				lines = lines[:y+1]
			}

			i = j
		default:
			grow()

			for len(lines[y]) < x {
				lines[y] = append(lines[y], ' ')
			}

			if x < len(lines[y]) {
				lines[y][x] = c
			} else {
				lines[y] = append(lines[y], c)
			}

			x++
		}
	}

	visible := make([]string, 0, len(lines))
	for _, line := range lines {
		visible = append(visible, strings.TrimRight(string(line), " "))
	}

	for len(visible) > 0 && visible[len(visible)-1] == "" {
		visible = visible[:len(visible)-1]
	}

	return visible
}

func TestBarsKeepOneRowPerJob(t *testing.T) {
	var buf syncBuffer

	bars := NewBars(&buf)
	names := []string{"alpha", "beta", "gamma"}
	totals := map[string]int64{"alpha": 1000, "beta": 2000, "gamma": -1}

	reporters := make(map[string]Reporter, len(names))
	for _, name := range names {
		reporters[name] = bars.New(name)
	}

	var wg sync.WaitGroup

	for _, name := range names {
		wg.Go(func() {
			for step := int64(1); step <= 5; step++ {
				reporters[name].Update(entity.ProgressSample{Downloaded: step * 100, Total: totals[name]})
			}
		})
	}

	wg.Wait()

	lines := replayTerminal(buf.String())
	if len(lines) != len(names) {
		t.Fatalf("got %d lines, want %d: %q", len(lines), len(names), lines)
	}

	for i, name := range names {
		if !strings.Contains(lines[i], name) {
			t.Errorf("line %d = %q, want the %s bar", i, lines[i], name)
		}
	}

	reporters["beta"].Fail("exit status 1")
	reporters["beta"].Finalize()
	reporters["gamma"].Finalize()
	reporters["alpha"].Finalize()

	lines = replayTerminal(buf.String())
	want := []string{"beta ❌ Error: exit status 1", "gamma", "alpha"}

	if len(lines) != len(want) {
		t.Fatalf("got %d lines after finalize, want %d: %q", len(lines), len(want), lines)
	}

	for i, prefix := range want {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], prefix)
		}
	}

	for _, line := range lines[1:] {
		if !strings.Contains(line, "100%") {
			t.Errorf("finished line %q does not show 100%%", line)
		}
	}
}

func TestBarFinalizeUnknownTotal(t *testing.T) {
	var buf syncBuffer

	r := NewBars(&buf).New("clip")
	r.Update(entity.ProgressSample{Downloaded: 300})
	r.Update(entity.ProgressSample{Downloaded: 900, Finished: true})
	r.Finalize()

	lines := replayTerminal(buf.String())
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "clip") || !strings.Contains(lines[0], "100%") {
		t.Fatalf("screen = %q, want one clip line at 100%%", lines)
	}
}

func TestBarRestartedTransfer(t *testing.T) {
	bar, ok := NewBars(&syncBuffer{}).New("clip").(*Bar)
	if !ok {
		t.Fatal("Bars.New did not return *Bar")
	}

	bar.Update(entity.ProgressSample{Downloaded: 60, Total: 100})
	bar.Update(entity.ProgressSample{})

	if bar.current != 0 {
		t.Fatalf("current = %d after restart, want 0", bar.current)
	}

	bar.Update(entity.ProgressSample{Downloaded: 30, Total: 100})

	if bar.current != 30 || bar.total != 100 {
		t.Fatalf("total, current = %d, %d; want 100, 30", bar.total, bar.current)
	}
}

func TestLastFrame(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "\rclip  20% |██|", "clip  20% |██|"},
		{"clearing only", "\r        \r", ""},
		{"clear then frame", "\r      \r\rclip  40% |██|  ", "clip  40% |██|"},
		{"trailing newline", "\rclip 100%\n", "clip 100%"},
		{"empty", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := lastFrame(tc.in); got != tc.want {
				t.Errorf("lastFrame(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
