package testhelper

import (
	"fmt"
	"strings"
)

// DumpByteSlicesWithDiffs compare two byte slices and render them side by side
// in rows of width bytes, marking each row that differs with a leading '*'.
// Returns whether the slices differ at all, along with the rendered dump.
// hexOffsets prints row offsets in hex rather than decimal; includeASCII adds
// an ASCII column; onlyDiffRows limits output to the rows that differ.
func DumpByteSlicesWithDiffs(b1, b2 []byte, width int, hexOffsets, includeASCII, onlyDiffRows bool) (different bool, diffString string) {
	if width <= 0 {
		width = 16
	}
	longest := len(b1)
	if len(b2) > longest {
		longest = len(b2)
	}

	var out strings.Builder
	for start := 0; start < longest; start += width {
		row1 := sliceRow(b1, start, width)
		row2 := sliceRow(b2, start, width)
		rowDiffers := !bytesEqual(row1, row2)
		if rowDiffers {
			different = true
		}
		if onlyDiffRows && !rowDiffers {
			continue
		}
		marker := " "
		if rowDiffers {
			marker = "*"
		}
		offset := fmt.Sprintf("%8d", start)
		if hexOffsets {
			offset = fmt.Sprintf("%08x", start)
		}
		out.WriteString(fmt.Sprintf("%s %s: %s | %s", marker, offset, hexRow(row1, width), hexRow(row2, width)))
		if includeASCII {
			out.WriteString(fmt.Sprintf("  %s | %s", asciiRow(row1, width), asciiRow(row2, width)))
		}
		out.WriteString("\n")
	}
	if len(b1) != len(b2) {
		different = true
		out.WriteString(fmt.Sprintf("  length %d | %d\n", len(b1), len(b2)))
	}
	return different, out.String()
}

func sliceRow(b []byte, start, width int) []byte {
	if start >= len(b) {
		return nil
	}
	end := start + width
	if end > len(b) {
		end = len(b)
	}
	return b[start:end]
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hexRow(b []byte, width int) string {
	var parts []string
	for i := 0; i < width; i++ {
		if i < len(b) {
			parts = append(parts, fmt.Sprintf("%02x", b[i]))
		} else {
			parts = append(parts, "  ")
		}
	}
	return strings.Join(parts, " ")
}

func asciiRow(b []byte, width int) string {
	var out strings.Builder
	for i := 0; i < width; i++ {
		switch {
		case i >= len(b):
			out.WriteByte(' ')
		case b[i] >= 0x20 && b[i] < 0x7f:
			out.WriteByte(b[i])
		default:
			out.WriteByte('.')
		}
	}
	return out.String()
}
