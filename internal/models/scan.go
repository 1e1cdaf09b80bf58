package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reason identifies why a line was flagged.
type Reason string

const (
	ReasonEmptyLine       Reason = "empty_line"
	ReasonInvalidJSON     Reason = "invalid_json"
	ReasonMissingText     Reason = "missing_text"
	ReasonLowQuality      Reason = "low_quality_text"
	ReasonDuplicate       Reason = "duplicate"
	ReasonPromptInjection Reason = "possible_prompt_injection"
	ReasonSemanticOutlier Reason = "semantic_outlier"
)

// AllReasons lists every reason in emission-precedence order.
var AllReasons = []Reason{
	ReasonEmptyLine,
	ReasonInvalidJSON,
	ReasonMissingText,
	ReasonLowQuality,
	ReasonDuplicate,
	ReasonPromptInjection,
	ReasonSemanticOutlier,
}

// IsStructural reports whether the reason ends analysis of its line.
func (r Reason) IsStructural() bool {
	switch r {
	case ReasonEmptyLine, ReasonInvalidJSON, ReasonMissingText:
		return true
	}
	return false
}

// ParseReason validates a reason name.
func ParseReason(s string) (Reason, error) {
	for _, r := range AllReasons {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown reason: %q", s)
}

// ParseReasonList parses a comma separated list of reasons.
// An empty string yields an empty set.
func ParseReasonList(s string) (map[Reason]bool, error) {
	set := make(map[Reason]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r, err := ParseReason(part)
		if err != nil {
			return nil, err
		}
		set[r] = true
	}
	return set, nil
}

// Severity grades a flag.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Flag is a single finding attached to a line
type Flag struct {
	Line     int      `json:"line"`
	Reason   Reason   `json:"reason"`
	Severity Severity `json:"severity"`
	Preview  string   `json:"preview"`
	Score    *float64 `json:"score,omitempty"`
}

// LineReasons maps a line number to the reasons attached to it, keeping the
// order in which lines were first flagged.
type LineReasons struct {
	keys    []int
	reasons map[int][]Reason
}

// NewLineReasons creates an empty mapping.
func NewLineReasons() *LineReasons {
	return &LineReasons{reasons: make(map[int][]Reason)}
}

// Add appends a reason to a line.
func (lr *LineReasons) Add(line int, reason Reason) {
	if _, ok := lr.reasons[line]; !ok {
		lr.keys = append(lr.keys, line)
	}
	lr.reasons[line] = append(lr.reasons[line], reason)
}

// Get returns the reasons for a line, nil when the line is clean.
func (lr *LineReasons) Get(line int) []Reason {
	if lr == nil {
		return nil
	}
	return lr.reasons[line]
}

// Has reports whether the line carries any flag.
func (lr *LineReasons) Has(line int) bool {
	return len(lr.Get(line)) > 0
}

// Lines returns flagged line numbers in first-flag order.
func (lr *LineReasons) Lines() []int {
	if lr == nil {
		return nil
	}
	return append([]int(nil), lr.keys...)
}

// Len returns the number of flagged lines.
func (lr *LineReasons) Len() int {
	if lr == nil {
		return 0
	}
	return len(lr.keys)
}

// MarshalJSON encodes the mapping as an object keyed by the line number
// string, preserving insertion order.
func (lr *LineReasons) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if lr != nil {
		for i, line := range lr.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Quote(strconv.Itoa(line)))
			buf.WriteByte(':')
			reasons, err := json.Marshal(lr.reasons[line])
			if err != nil {
				return nil, err
			}
			buf.Write(reasons)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes the object form, keeping key order.
func (lr *LineReasons) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("line reasons: expected object")
	}

	*lr = LineReasons{reasons: make(map[int][]Reason)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		line, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("line reasons: bad line key %q: %w", key, err)
		}
		var reasons []Reason
		if err := dec.Decode(&reasons); err != nil {
			return err
		}
		for _, r := range reasons {
			lr.Add(line, r)
		}
	}
	_, err = dec.Token()
	return err
}

// ScanReport is the result of scanning one corpus.
type ScanReport struct {
	TotalLines         int            `json:"total_lines"`
	FlaggedCount       int            `json:"flagged_count"`
	ReasonCounts       map[Reason]int `json:"reason_counts"`
	FlaggedSamples     []Flag         `json:"flagged_samples"`
	RawLines           []string       `json:"raw_lines"`
	FlaggedLineReasons *LineReasons   `json:"flagged_line_reasons"`
	CleanedJSONL       string         `json:"cleaned_jsonl"`
}

// CleanedExcluding rebuilds the cleaned corpus dropping only lines that carry
// at least one reason in exclude. Blank lines are always dropped.
func (r *ScanReport) CleanedExcluding(exclude map[Reason]bool) string {
	var kept []string
	for i, line := range r.RawLines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		drop := false
		for _, reason := range r.FlaggedLineReasons.Get(i + 1) {
			if exclude[reason] {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, "\n") + "\n"
}

// DefaultCleanExclusions is the exclusion set used by the dataset client when
// the caller does not choose one.
var DefaultCleanExclusions = map[Reason]bool{
	ReasonInvalidJSON:     true,
	ReasonMissingText:     true,
	ReasonPromptInjection: true,
	ReasonLowQuality:      true,
}

// ScanRecord is an archived scan
type ScanRecord struct {
	ID           string      `json:"id" db:"id"`
	SourceName   string      `json:"source_name" db:"source_name"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	TotalLines   int         `json:"total_lines" db:"total_lines"`
	FlaggedCount int         `json:"flagged_count" db:"flagged_count"`
	Report       *ScanReport `json:"report,omitempty" db:"-"`
}

// ScanResult is returned to callers of the scan endpoints
type ScanResult struct {
	ScanID string `json:"scan_id"`
	*ScanReport
}
