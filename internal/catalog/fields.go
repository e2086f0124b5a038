package catalog

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FieldKind tags how the raw string value of a content field is interpreted.
type FieldKind string

const (
	KindText         FieldKind = "text"
	KindNumber       FieldKind = "number"
	KindBoolean      FieldKind = "boolean"
	KindObject       FieldKind = "object"
	KindKeyValue     FieldKind = "keyValue"
	KindColor        FieldKind = "color"
	KindShadow       FieldKind = "shadow"
	KindBinding      FieldKind = "binding"
	KindEventHandler FieldKind = "eventHandler"
)

func (k FieldKind) Valid() bool {
	switch k {
	case KindText, KindNumber, KindBoolean, KindObject, KindKeyValue,
		KindColor, KindShadow, KindBinding, KindEventHandler:
		return true
	default:
		return false
	}
}

var (
	hexColor  = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{4}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)
	funcColor = regexp.MustCompile(`^(rgb|rgba|hsl|hsla)\([^()]*\)$`)
	statePath = regexp.MustCompile(`^([^.\s]|\\\.)+(\.([^.\s]|\\\.)+)*$`)
)

// HasTemplate reports whether raw contains a @{...} expression that is only
// resolvable at evaluation time.
func HasTemplate(raw string) bool {
	start := strings.Index(raw, "@{")
	return start >= 0 && strings.Contains(raw[start:], "}")
}

// ValidateField checks a raw content value against its kind. Empty values and
// values carrying templates are always accepted.
func ValidateField(kind FieldKind, raw string) error {
	if raw == "" || HasTemplate(raw) {
		return nil
	}
	switch kind {
	case KindNumber:
		if _, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err != nil {
			return fmt.Errorf("%q is not a number", raw)
		}
	case KindBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "false", "yes", "no":
		default:
			return fmt.Errorf("%q is not a boolean", raw)
		}
	case KindObject:
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("invalid JSON value")
		}
	case KindKeyValue:
		var pairs map[string]string
		if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
			return fmt.Errorf("expected a JSON object of strings")
		}
	case KindColor:
		value := strings.TrimSpace(raw)
		if !hexColor.MatchString(value) && !funcColor.MatchString(value) {
			return fmt.Errorf("%q is not a color", raw)
		}
	case KindBinding:
		if !statePath.MatchString(raw) {
			return fmt.Errorf("%q is not a state path", raw)
		}
	}
	return nil
}
