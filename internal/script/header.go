// File: internal/script/header.go
package script

import (
	"bufio"
	"regexp"
	"strings"
)

const (
	headerOpen  = "==UserScript=="
	headerClose = "==/UserScript=="
)

// headerLineRe captures "@key value" from a header comment line. The value
// may be empty (e.g. a bare "@noframes"). Localized variants like "@name:fr"
// are captured separately so they never override the base value.
var headerLineRe = regexp.MustCompile(`^//\s*@([A-Za-z-]+)(:[A-Za-z0-9-]+)?\s*(.*)$`)

// ParseHeader extracts the ==UserScript== metadata block from a script
// source. A source without a complete header block (missing the opening or
// closing delimiter) yields zero-valued metadata and no error; the script is
// still usable, it just matches nothing.
func ParseHeader(source string) Metadata {
	meta := Metadata{RunAt: RunAtDocumentIdle}

	scanner := bufio.NewScanner(strings.NewReader(source))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	inHeader := false
	closed := false
	var collected []string

scan:
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case !inHeader:
			if strings.HasPrefix(line, "//") && strings.Contains(line, headerOpen) {
				inHeader = true
			}
		case strings.HasPrefix(line, "//") && strings.Contains(line, headerClose):
			closed = true
			break scan
		default:
			collected = append(collected, line)
		}
	}

	// An unterminated header yields empty metadata rather than a guess at
	// where the block was supposed to end.
	if !inHeader || !closed {
		return Metadata{RunAt: RunAtDocumentIdle}
	}

	for _, line := range collected {
		m := headerLineRe.FindStringSubmatch(line)
		if m == nil || m[2] != "" {
			continue
		}
		key := strings.ToLower(m[1])
		value := strings.TrimSpace(m[3])
		applyHeaderLine(&meta, key, value)
	}
	return meta
}

// applyHeaderLine folds a single @key value into the metadata. Unknown keys
// are ignored so scripts written for richer managers still parse.
func applyHeaderLine(meta *Metadata, key, value string) {
	switch key {
	case "name":
		meta.Name = value
	case "namespace":
		meta.Namespace = value
	case "version":
		meta.Version = value
	case "description":
		meta.Description = value
	case "author":
		meta.Author = value
	case "match":
		if value != "" {
			meta.Matches = append(meta.Matches, value)
		}
	case "include":
		if value != "" {
			meta.Includes = append(meta.Includes, value)
		}
	case "exclude":
		if value != "" {
			meta.Excludes = append(meta.Excludes, value)
		}
	case "require":
		if value != "" {
			meta.Requires = append(meta.Requires, value)
		}
	case "resource":
		if name, url, ok := splitResource(value); ok {
			meta.Resources = append(meta.Resources, Resource{Name: name, URL: url})
		}
	case "connect":
		if value != "" {
			meta.Connects = append(meta.Connects, value)
		}
	case "grant":
		if value != "" {
			meta.Grants = append(meta.Grants, value)
		}
	case "run-at":
		meta.RunAt = ParseRunAt(value)
	case "noframes":
		meta.NoFrames = true
	case "icon":
		meta.Icon = value
	case "downloadurl":
		meta.DownloadURL = value
	case "updateurl":
		meta.UpdateURL = value
	}
}

// splitResource parses "@resource name url". Both fields are required.
func splitResource(value string) (name, url string, ok bool) {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return "", "", false
	}
	return fields[0], fields[1], true
}
