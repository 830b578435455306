package cutter

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// CutFileName builds the output name for a cut of filename:
// <stem>_<start>-<end>_<short id><ext>, e.g. "song_10-40_1f0c2a9b.mp3".
// The extension is kept so the output is encoded like its source.
func CutFileName(filename string, req CutRequest, jobID string) string {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	if stem == "" {
		stem = "cut"
	}
	short := strings.ReplaceAll(jobID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s_%s-%s_%s%s",
		stem,
		formatSeconds(req.StartSeconds),
		formatSeconds(req.StartSeconds+req.DurationSeconds),
		short,
		strings.ToLower(ext))
}

// formatSeconds renders seconds with at most millisecond precision and no
// trailing zeros.
func formatSeconds(s float64) string {
	return strconv.FormatFloat(float64(int64(s*1000+0.5))/1000, 'f', -1, 64)
}
