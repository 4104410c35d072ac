// Package xmltv serves the per-target EPG file, optionally rewriting
// every programme's start/stop timestamps by a user's configured
// timeshift offset while streaming. Ported from
// m3u-filter's src/api/endpoints/xmltv_api.rs, which token-rewrites the
// XML with quick_xml's Reader/Writer while gzip-encoding on the fly;
// this package does the same token walk with encoding/xml (the only
// XML package anywhere in this retrieval pack — every other example
// that touches XMLTV, csfrancis/proxytv included, also reaches for the
// standard library's encoding/xml) and compresses with either
// compress/gzip or andybalholm/brotli depending on what the client's
// Accept-Encoding prefers.
package xmltv

import (
	"bufio"
	"compress/gzip"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

const emptyDocument = `<?xml version="1.0" encoding="utf-8" ?><!DOCTYPE tv SYSTEM "xmltv.dtd"><tv generator-info-name="xtreamrelay" generator-info-url=""></tv>`

// WriteEmpty writes the canonical empty EPG document for a user whose
// target has no EPG file yet.
func WriteEmpty(w io.Writer) error {
	_, err := io.WriteString(w, emptyDocument)
	return err
}

// dateLayout is XMLTV's "%Y%m%d%H%M%S %z" programme timestamp format,
// e.g. "20240102150405 +0000".
const dateLayout = "20060102150405 -0700"

var timeshiftPattern = regexp.MustCompile(`^([+-]?)(\d*):?(\d*)$`)

// ParseTimeshift accepts lax partial offset formats: "2" (2h), "-1:30"
// (-1h30m), "+0:15" (15m), ":45" (45m), "-:45" (-45m), "2:" (2h). Mirrors
// config_input.rs's parse_timeshift: a value with no digits at all is
// "no timeshift configured", not zero.
func ParseTimeshift(raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	m := timeshiftPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, false
	}
	sign, hourStr, minStr := m[1], m[2], m[3]
	if hourStr == "" && minStr == "" {
		return 0, false
	}
	hours, _ := strconv.Atoi(hourStr)
	minutes, _ := strconv.Atoi(minStr)
	total := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	if sign == "-" {
		total = -total
	}
	return total, true
}

// Encoding picks the compressed transfer encoding for a response based
// on what the client's Accept-Encoding header lists, preferring brotli
// when offered since it compresses XMLTV's repetitive markup tighter
// than gzip.
type Encoding string

const (
	EncodingIdentity Encoding = ""
	EncodingGzip     Encoding = "gzip"
	EncodingBrotli   Encoding = "br"
)

func NegotiateEncoding(acceptEncoding string) Encoding {
	if strings.Contains(acceptEncoding, "br") {
		return EncodingBrotli
	}
	if strings.Contains(acceptEncoding, "gzip") {
		return EncodingGzip
	}
	return EncodingIdentity
}

// ServeTimeshifted streams src's XML through a programme start/stop
// rewriter shifted by offset, then through the chosen content encoding,
// into w. When offset is 0 the document still passes through the
// tokenizer unchanged, keeping a single code path for both cases.
func ServeTimeshifted(w io.Writer, src io.Reader, offset time.Duration, enc Encoding) error {
	var compressed io.WriteCloser
	switch enc {
	case EncodingGzip:
		compressed = gzip.NewWriter(w)
	case EncodingBrotli:
		compressed = brotli.NewWriter(w)
	default:
		compressed = nopWriteCloser{w}
	}

	bw := bufio.NewWriterSize(compressed, 32*1024)
	if err := rewriteProgrammes(bw, src, offset); err != nil {
		_ = compressed.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = compressed.Close()
		return err
	}
	return compressed.Close()
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// rewriteProgrammes walks src token by token, shifting the start/stop
// attributes of every <programme> element by offset and copying
// everything else through unmodified, so the whole document streams
// without ever being held fully in memory.
func rewriteProgrammes(w io.Writer, src io.Reader, offset time.Duration) error {
	dec := xml.NewDecoder(src)
	enc := xml.NewEncoder(w)
	defer enc.Flush()

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("xmltv: decode: %w", err)
		}

		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "programme" && offset != 0 {
			tok = shiftProgrammeTimes(start, offset)
		}

		if err := enc.EncodeToken(tok); err != nil {
			return fmt.Errorf("xmltv: encode: %w", err)
		}
	}
}

func shiftProgrammeTimes(start xml.StartElement, offset time.Duration) xml.StartElement {
	for i, attr := range start.Attr {
		if attr.Name.Local != "start" && attr.Name.Local != "stop" {
			continue
		}
		if shifted, ok := shiftTimestamp(attr.Value, offset); ok {
			start.Attr[i].Value = shifted
		}
	}
	return start
}

// shiftTimestamp adds offset to an XMLTV timestamp, preserving any
// trailing content that doesn't parse as the expected layout (mirrors
// time_correct's fall-through-on-parse-failure behavior).
func shiftTimestamp(value string, offset time.Duration) (string, bool) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return value, false
	}
	return t.Add(offset).Format(dateLayout), true
}
