package models

import (
	"encoding/json"
	"fmt"
)

// Stored booleans use a fixed two-value encoding and stored string lists use
// JSON arrays. Nothing in the store is ever evaluated as code.

func encodeBool(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func decodeBool(s string) (bool, error) {
	switch s {
	case "true":
		return true, nil
	case "false", "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean encoding %q", s)
	}
}

func EncodeStringList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		// a []string cannot fail to marshal
		return "[]"
	}
	return string(b)
}

func DecodeStringList(s string) ([]string, error) {
	if s == "" {
		return []string{}, nil
	}
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("invalid list encoding %q: %w", s, err)
	}
	if v == nil {
		v = []string{}
	}
	return v, nil
}
