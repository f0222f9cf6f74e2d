package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/trackscan/internal/db"
)

// entryShape tags which of the accepted body forms carried the entries.
type entryShape int

const (
	shapeList    entryShape = iota // [{label, value}, ...]
	shapeSingle                    // {label, value}
	shapeWrapped                   // {<wrapper key>: list or single}
)

func (s entryShape) String() string {
	switch s {
	case shapeList:
		return "list"
	case shapeSingle:
		return "single"
	case shapeWrapped:
		return "wrapped"
	default:
		return fmt.Sprintf("entryShape(%d)", int(s))
	}
}

// entryBody is the canonical form of every accepted entry payload. Elements
// are still raw until parseEntry converts them.
type entryBody struct {
	shape    entryShape
	wrapper  string
	elements []json.RawMessage
}

// entryError names the element and field that failed to parse.
type entryError struct {
	Index  int
	Field  string
	Reason string
}

func (e *entryError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("entry %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("entry %d: %s %s", e.Index, e.Field, e.Reason)
}

// Keys that may hold the entries, both at the top level of an append request
// and as a wrapper object around them.
var (
	alertKeys       = []string{"alerts", "alert", "data", "payload", "values"}
	instructionKeys = []string{"instructions", "instruction", "data", "payload", "values"}
)

// appendRequest is a decoded POST /points/alerts or /points/instructions body.
type appendRequest struct {
	Pt      float64
	Entries []db.Entry
}

// decodeAppendRequest reads {pt, <key>: payload} where key is one of keys and
// payload is a list, a single entry or a wrapper around either.
func decodeAppendRequest(body []byte, field string, keys []string) (*appendRequest, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil || top == nil {
		return nil, errors.New("body must be a JSON object")
	}

	pt, err := parseNumber(top["pt"])
	if err != nil {
		return nil, fmt.Errorf("pt %w", err)
	}

	raw, ok := firstKey(top, keys)
	if !ok {
		return nil, fmt.Errorf("%s is required", field)
	}
	eb, err := normalizeEntries(raw, keys)
	if err != nil {
		return nil, fmt.Errorf("%s %w", field, err)
	}
	entries, err := eb.entries()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s must contain at least one entry", field)
	}
	return &appendRequest{Pt: pt, Entries: entries}, nil
}

// normalizeEntries maps one payload onto entryBody. A wrapper may hold a list
// or a single entry but not another wrapper.
func normalizeEntries(raw json.RawMessage, wrapperKeys []string) (entryBody, error) {
	return normalize(raw, wrapperKeys, true)
}

func normalize(raw json.RawMessage, wrapperKeys []string, allowWrapper bool) (entryBody, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return entryBody{}, errors.New("must not be empty")
	}

	switch raw[0] {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return entryBody{}, errors.New("must be a list of {label, value}")
		}
		return entryBody{shape: shapeList, elements: elems}, nil

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return entryBody{}, errors.New("must be an object")
		}
		_, hasLabel := obj["label"]
		_, hasValue := obj["value"]
		if hasLabel || hasValue {
			return entryBody{shape: shapeSingle, elements: []json.RawMessage{raw}}, nil
		}
		if allowWrapper {
			for _, k := range wrapperKeys {
				inner, ok := obj[k]
				if !ok {
					continue
				}
				eb, err := normalize(inner, wrapperKeys, false)
				if err != nil {
					return entryBody{}, fmt.Errorf("%s %w", k, err)
				}
				return entryBody{shape: shapeWrapped, wrapper: k, elements: eb.elements}, nil
			}
		}
		return entryBody{}, fmt.Errorf("must be {label, value}, a list of them, or an object wrapping them under one of %s", strings.Join(wrapperKeys, ", "))
	}

	return entryBody{}, errors.New("must be {label, value} or a list of them")
}

// entries parses every element. The first failure is returned.
func (eb entryBody) entries() ([]db.Entry, error) {
	out := make([]db.Entry, 0, len(eb.elements))
	for i, raw := range eb.elements {
		e, err := parseEntry(raw)
		if err != nil {
			var ee *entryError
			if errors.As(err, &ee) {
				ee.Index = i
			}
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// parseEntry converts one raw element into a labelled value. Fields other
// than label and value are ignored.
func parseEntry(raw json.RawMessage) (db.Entry, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return db.Entry{}, &entryError{Reason: "must be an object with label and value"}
	}

	labelRaw, ok := obj["label"]
	if !ok {
		return db.Entry{}, &entryError{Field: "label", Reason: "is required"}
	}
	var label string
	if err := json.Unmarshal(labelRaw, &label); err != nil {
		return db.Entry{}, &entryError{Field: "label", Reason: "must be a string"}
	}
	if strings.TrimSpace(label) == "" {
		return db.Entry{}, &entryError{Field: "label", Reason: "must not be empty"}
	}

	valueRaw, ok := obj["value"]
	if !ok {
		return db.Entry{}, &entryError{Field: "value", Reason: "is required"}
	}
	var value float64
	if bytes.Equal(bytes.TrimSpace(valueRaw), []byte("null")) {
		return db.Entry{}, &entryError{Field: "value", Reason: "must be a number"}
	}
	if err := json.Unmarshal(valueRaw, &value); err != nil {
		return db.Entry{}, &entryError{Field: "value", Reason: "must be a number"}
	}

	return db.Entry{Label: label, Value: value}, nil
}

// parseEntryList accepts only a JSON list, as used by create and update.
func parseEntryList(raw json.RawMessage) ([]db.Entry, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil || elems == nil {
		return nil, errors.New("must be an array of {label, value}")
	}
	return entryBody{shape: shapeList, elements: elems}.entries()
}

// parseNumber accepts a JSON number or a string holding one. The result is
// always finite.
func parseNumber(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errors.New("must be a number")
	}

	var f float64
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, errors.New("must be a number")
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, errors.New("must be a number")
		}
		f = v
	} else if err := json.Unmarshal(raw, &f); err != nil {
		return 0, errors.New("must be a number")
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("must be a number")
	}
	return f, nil
}

func firstKey(obj map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v, true
		}
	}
	return nil, false
}
