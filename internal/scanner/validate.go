package scanner

import (
	"encoding/json"
	"errors"
	"strings"

	"dataset-scanner/internal/models"
)

var errInvalidJSON = errors.New("invalid json")

// validateLine runs the structural checks for one raw line. It returns the
// extracted text when the line is usable, or the single structural flag that
// ends analysis of the line.
func (s *Scanner) validateLine(lineNum int, line string) (string, *models.Flag) {
	if strings.TrimSpace(line) == "" {
		return "", &models.Flag{
			Line:     lineNum,
			Reason:   models.ReasonEmptyLine,
			Severity: models.SeverityLow,
			Preview:  "",
		}
	}

	var value any
	if err := decodeLine(line, &value); err != nil {
		return "", &models.Flag{
			Line:     lineNum,
			Reason:   models.ReasonInvalidJSON,
			Severity: models.SeverityHigh,
			Preview:  truncate(line, s.cfg.PreviewLength),
		}
	}

	text := strings.TrimSpace(s.extractText(value))
	if text == "" {
		return "", &models.Flag{
			Line:     lineNum,
			Reason:   models.ReasonMissingText,
			Severity: models.SeverityMedium,
			Preview:  truncate(renderValue(line), s.cfg.PreviewLength),
		}
	}

	return text, nil
}

// extractText picks the primary field, falling back to the secondary one
// when the primary is absent, empty or not a string.
func (s *Scanner) extractText(value any) string {
	obj, ok := value.(map[string]any)
	if !ok {
		return ""
	}
	for _, field := range []string{s.cfg.PrimaryField, s.cfg.FallbackField} {
		if field == "" {
			continue
		}
		if text, ok := obj[field].(string); ok && text != "" {
			return text
		}
	}
	return ""
}

// decodeLine parses exactly one JSON value, keeping numbers verbatim.
func decodeLine(line string, value *any) error {
	if !json.Valid([]byte(line)) {
		return errInvalidJSON
	}
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()
	return dec.Decode(value)
}

// renderValue prints a parsed line in Python literal notation for previews.
func renderValue(line string) string {
	out, err := pyRepr(line)
	if err != nil {
		return strings.TrimSpace(line)
	}
	return out
}
