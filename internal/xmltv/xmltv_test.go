package xmltv

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"
	"time"
)

func TestParseTimeshiftLaxFormats(t *testing.T) {
	cases := map[string]time.Duration{
		"2":     2 * time.Hour,
		"-1:30": -(time.Hour + 30*time.Minute),
		"+0:15": 15 * time.Minute,
		":45":   45 * time.Minute,
		"-:45":  -45 * time.Minute,
		"2:":    2 * time.Hour,
	}
	for raw, want := range cases {
		got, ok := ParseTimeshift(raw)
		if !ok {
			t.Fatalf("ParseTimeshift(%q): expected ok", raw)
		}
		if got != want {
			t.Fatalf("ParseTimeshift(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestParseTimeshiftRejectsEmptyAndInvalid(t *testing.T) {
	for _, raw := range []string{"", "abc", "+abc"} {
		if _, ok := ParseTimeshift(raw); ok {
			t.Fatalf("ParseTimeshift(%q): expected not ok", raw)
		}
	}
}

const sampleDoc = `<?xml version="1.0" encoding="utf-8"?>
<tv>
<channel id="ch1"><display-name>News</display-name></channel>
<programme start="20240102150000 +0000" stop="20240102160000 +0000" channel="ch1">
<title>Evening News</title>
</programme>
</tv>`

func TestRewriteProgrammesShiftsStartAndStop(t *testing.T) {
	var buf bytes.Buffer
	offset := 90 * time.Minute
	if err := rewriteProgrammes(&buf, strings.NewReader(sampleDoc), offset); err != nil {
		t.Fatalf("rewriteProgrammes: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `start="20240102163000 +0000"`) {
		t.Fatalf("expected shifted start in output, got %s", out)
	}
	if !strings.Contains(out, `stop="20240102173000 +0000"`) {
		t.Fatalf("expected shifted stop in output, got %s", out)
	}
	if !strings.Contains(out, "Evening News") {
		t.Fatalf("expected non-time content preserved, got %s", out)
	}
}

func TestRewriteProgrammesZeroOffsetPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	if err := rewriteProgrammes(&buf, strings.NewReader(sampleDoc), 0); err != nil {
		t.Fatalf("rewriteProgrammes: %v", err)
	}
	if !strings.Contains(buf.String(), `start="20240102150000 +0000"`) {
		t.Fatalf("expected unshifted start with zero offset, got %s", buf.String())
	}
}

func TestServeTimeshiftedGzipRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := ServeTimeshifted(&buf, strings.NewReader(sampleDoc), time.Hour, EncodingGzip); err != nil {
		t.Fatalf("ServeTimeshifted: %v", err)
	}
	gr, err := gzip.NewReader(&buf)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer gr.Close()
	decoded, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !strings.Contains(string(decoded), `start="20240102160000 +0000"`) {
		t.Fatalf("expected shifted timestamp in decoded output, got %s", decoded)
	}
}

func TestNegotiateEncodingPrefersBrotliThenGzip(t *testing.T) {
	if got := NegotiateEncoding("gzip, br"); got != EncodingBrotli {
		t.Fatalf("NegotiateEncoding = %v, want brotli", got)
	}
	if got := NegotiateEncoding("gzip"); got != EncodingGzip {
		t.Fatalf("NegotiateEncoding = %v, want gzip", got)
	}
	if got := NegotiateEncoding("identity"); got != EncodingIdentity {
		t.Fatalf("NegotiateEncoding = %v, want identity", got)
	}
}

func TestWriteEmptyProducesValidPlaceholder(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEmpty(&buf); err != nil {
		t.Fatalf("WriteEmpty: %v", err)
	}
	if !strings.Contains(buf.String(), "<tv ") {
		t.Fatalf("expected placeholder tv element, got %s", buf.String())
	}
}
