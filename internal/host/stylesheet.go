package host

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// StyleSheet is a source of presentation rules. Href is empty for inline
// sheets.
type StyleSheet interface {
	Href() string
	Rules() ([]string, error)
}

type InlineStyleSheet []string

func (s InlineStyleSheet) Href() string             { return "" }
func (s InlineStyleSheet) Rules() ([]string, error) { return []string(s), nil }

type FileStyleSheet struct {
	Path string
}

func (s FileStyleSheet) Href() string { return "file://" + s.Path }

func (s FileStyleSheet) Rules() ([]string, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read style sheet: %w", err)
	}
	defer f.Close()
	return ParseRules(f)
}

// RemoteStyleSheet is never fetched; its rules are unreadable from a local
// surface.
type RemoteStyleSheet struct {
	URL string
}

func (s RemoteStyleSheet) Href() string { return s.URL }

func (s RemoteStyleSheet) Rules() ([]string, error) {
	return nil, fmt.Errorf("%w: %s", ErrCrossOrigin, s.URL)
}

// LoadStyleSheets turns configured references into sheets. URLs with a scheme
// other than file become remote sheets; everything else is a path relative to
// baseDir.
func LoadStyleSheets(refs []string, baseDir string) []StyleSheet {
	sheets := make([]StyleSheet, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		switch {
		case ref == "":
			continue
		case strings.HasPrefix(ref, "file://"):
			sheets = append(sheets, FileStyleSheet{Path: strings.TrimPrefix(ref, "file://")})
		case strings.Contains(ref, "://"):
			sheets = append(sheets, RemoteStyleSheet{URL: ref})
		default:
			if !filepath.IsAbs(ref) && baseDir != "" {
				ref = filepath.Join(baseDir, ref)
			}
			sheets = append(sheets, FileStyleSheet{Path: ref})
		}
	}
	return sheets
}

// SameOrigin reports whether rules from sheet may be copied into a window
// of a provider with the given origin.
func SameOrigin(sheet StyleSheet, origin string) bool {
	href := sheet.Href()
	return href == "" || strings.HasPrefix(href, origin)
}

// ParseRules reads "property: value" declarations, one per line or separated
// by semicolons. Blank lines and lines starting with # are skipped.
func ParseRules(r io.Reader) ([]string, error) {
	var rules []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, decl := range strings.Split(line, ";") {
			if decl = strings.TrimSpace(decl); decl != "" {
				rules = append(rules, decl)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse style sheet: %w", err)
	}
	return rules, nil
}

// ParseDeclaration splits "property: value".
func ParseDeclaration(rule string) (property, value string, ok bool) {
	property, value, ok = strings.Cut(rule, ":")
	if !ok {
		return "", "", false
	}
	property = strings.ToLower(strings.TrimSpace(property))
	value = strings.TrimSpace(value)
	if property == "" || value == "" {
		return "", "", false
	}
	return property, value, true
}
