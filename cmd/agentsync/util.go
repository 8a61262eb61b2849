package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// printYAML renders v through its JSON form so keys match the API.
func printYAML(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return err
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func printOutput(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "", "json":
		return printJSON(w, v)
	case "yaml", "yml":
		return printYAML(w, v)
	default:
		return fmt.Errorf("unsupported output format %q (json, yaml)", format)
	}
}

// parseMeta turns k=v pairs into metadata. JSON literals (numbers, bools,
// objects) are decoded; anything else stays a string.
func parseMeta(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q, want key=value", p)
		}
		var decoded any
		if json.Valid([]byte(v)) && json.Unmarshal([]byte(v), &decoded) == nil {
			out[k] = decoded
			continue
		}
		out[k] = v
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
