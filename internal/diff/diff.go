// internal/diff/diff.go
package diff

import (
	"bytes"
	"fmt"
)

// Line represents a single line in a diff with its type and content
type Line struct {
	Type    LineType
	Content string
	OldNum  int // 1-based, 0 for additions
	NewNum  int // 1-based, 0 for deletions
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// Hunk represents a continuous section of changes
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Patch contains the complete line diff between two blobs
type Patch struct {
	Hunks []Hunk
	// Binary is set when either side is not text; no hunks are computed.
	Binary bool
	// TooLarge is set when the inputs exceed the engine's line budget.
	TooLarge bool
	Stats    struct {
		Additions int
		Deletions int
		Changes   int
	}
}

// maxCells bounds the LCS table size.
const maxCells = 16 << 20

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{
		contextLines: contextLines,
	}
}

// Diff generates a line-by-line diff between two contents
func (e *Engine) Diff(oldContent, newContent []byte) (*Patch, error) {
	result := &Patch{}
	if isBinary(oldContent) || isBinary(newContent) {
		result.Binary = !bytes.Equal(oldContent, newContent)
		return result, nil
	}

	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)
	if (len(oldLines)+1)*(len(newLines)+1) > maxCells {
		result.TooLarge = true
		return result, nil
	}

	ops := e.script(oldLines, newLines)
	result.Hunks = e.group(ops)

	for _, line := range ops {
		switch line.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions

	return result, nil
}

// script walks a suffix-LCS table and emits the full edit script,
// deletions before additions within a change.
func (e *Engine) script(oldLines, newLines [][]byte) []Line {
	n, m := len(oldLines), len(newLines)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if bytes.Equal(oldLines[i], newLines[j]) {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	ops := make([]Line, 0, n+m)
	i, j := 0, 0
	for i < n || j < m {
		switch {
		case i < n && j < m && bytes.Equal(oldLines[i], newLines[j]):
			ops = append(ops, Line{Type: Context, Content: string(oldLines[i]), OldNum: i + 1, NewNum: j + 1})
			i++
			j++
		case i < n && (j == m || lcs[i+1][j] >= lcs[i][j+1]):
			ops = append(ops, Line{Type: Deletion, Content: string(oldLines[i]), OldNum: i + 1})
			i++
		default:
			ops = append(ops, Line{Type: Addition, Content: string(newLines[j]), NewNum: j + 1})
			j++
		}
	}
	return ops
}

// group cuts the edit script into hunks, keeping contextLines of context
// around each change and merging changes whose context overlaps.
func (e *Engine) group(ops []Line) []Hunk {
	var hunks []Hunk

	i := 0
	for i < len(ops) {
		if ops[i].Type == Context {
			i++
			continue
		}

		start := max(0, i-e.contextLines)
		end := i
		for end < len(ops) {
			if ops[end].Type != Context {
				end++
				continue
			}
			// Look ahead: does another change start within 2*context lines?
			k := end
			for k < len(ops) && ops[k].Type == Context && k-end < 2*e.contextLines {
				k++
			}
			if k < len(ops) && ops[k].Type != Context {
				end = k
				continue
			}
			break
		}
		stop := min(len(ops), end+e.contextLines)

		hunks = append(hunks, newHunk(ops, start, stop))
		i = stop
	}

	return hunks
}

func newHunk(ops []Line, start, stop int) Hunk {
	h := Hunk{Lines: append([]Line(nil), ops[start:stop]...)}
	for _, l := range h.Lines {
		if l.Type != Addition {
			if h.OldLines == 0 {
				h.OldStart = l.OldNum
			}
			h.OldLines++
		}
		if l.Type != Deletion {
			if h.NewLines == 0 {
				h.NewStart = l.NewNum
			}
			h.NewLines++
		}
	}
	// Empty sides point at the line before, as unified diffs do.
	if h.OldLines == 0 {
		h.OldStart = lineBefore(ops, start, func(l Line) int { return l.OldNum })
	}
	if h.NewLines == 0 {
		h.NewStart = lineBefore(ops, start, func(l Line) int { return l.NewNum })
	}
	return h
}

func lineBefore(ops []Line, start int, num func(Line) int) int {
	for k := start - 1; k >= 0; k-- {
		if n := num(ops[k]); n > 0 {
			return n
		}
	}
	return 0
}

func splitLines(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	return bytes.Split(bytes.TrimSuffix(content, []byte{'\n'}), []byte{'\n'})
}

func isBinary(content []byte) bool {
	return bytes.IndexByte(content[:min(len(content), 8000)], 0) >= 0
}

// Format returns a string representation of the diff
func (r *Patch) Format() string {
	var buf bytes.Buffer

	switch {
	case r.Binary:
		buf.WriteString("Binary content differs\n")
		return buf.String()
	case r.TooLarge:
		buf.WriteString("Content too large to diff\n")
		return buf.String()
	}

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteString("+ ")
			case Deletion:
				buf.WriteString("- ")
			case Context:
				buf.WriteString("  ")
			}
			buf.WriteString(line.Content)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}
