package pipeline

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"strconv"
	"strings"
)

// UIImageLine is one parsed row of Art/UIImages1.txt: a named sprite
// cropped out of a shared atlas image at (X1,Y1)-(X2,Y2).
type UIImageLine struct {
	Name           string
	File           string
	X1, Y1, X2, Y2 int
}

// Rect returns the crop rectangle for this line under mode. Exclusive
// bounds treat (X2,Y2) as one-past-the-end; inclusive bounds treat it as
// the last included pixel, per the two conventions seen across archive
// versions (see pipeline.CoordMode).
func (l UIImageLine) Rect(mode CoordMode) image.Rectangle {
	if mode == CoordInclusive {
		return image.Rect(l.X1, l.Y1, l.X2+1, l.Y2+1)
	}
	return image.Rect(l.X1, l.Y1, l.X2, l.Y2)
}

// ParseUIImages parses the atlas text format: one sprite per line,
// `"<name>" "<file>" x1 y1 x2 y2`.
func ParseUIImages(data []byte) ([]UIImageLine, error) {
	var lines []UIImageLine
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		line, err := parseUIImageLine(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func parseUIImageLine(text string) (UIImageLine, error) {
	name, rest, err := takeQuoted(text)
	if err != nil {
		return UIImageLine{}, fmt.Errorf("name: %w", err)
	}
	file, rest, err := takeQuoted(rest)
	if err != nil {
		return UIImageLine{}, fmt.Errorf("file: %w", err)
	}
	fields := strings.Fields(rest)
	if len(fields) != 4 {
		return UIImageLine{}, fmt.Errorf("expected 4 coordinates, got %d", len(fields))
	}
	var coords [4]int
	for i, field := range fields {
		v, err := strconv.Atoi(field)
		if err != nil {
			return UIImageLine{}, fmt.Errorf("coordinate %d (%q): %w", i, field, err)
		}
		coords[i] = v
	}
	return UIImageLine{Name: name, File: file, X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}, nil
}

func takeQuoted(s string) (value, rest string, err error) {
	s = strings.TrimLeft(s, " \t")
	if len(s) == 0 || s[0] != '"' {
		return "", "", fmt.Errorf("expected opening quote in %q", s)
	}
	end := strings.IndexByte(s[1:], '"')
	if end < 0 {
		return "", "", fmt.Errorf("unterminated quoted value in %q", s)
	}
	return s[1 : 1+end], s[1+end+1:], nil
}
