// Package errorpattern classifies provisioning failure output against a table
// of known signatures.
package errorpattern

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultTable []byte

// Placeholders substituted into fix commands.
const (
	AccountPlaceholder = "ACCOUNT_ID"
	RegionPlaceholder  = "REGION"
	StackPlaceholder   = "STACK_NAME"
)

// Hints carries values the caller already knows. They take precedence over
// tokens scraped from the output.
type Hints struct {
	StackName string
	Region    string
}

var (
	accountRe = regexp.MustCompile(`\b\d{12}\b`)
	regionRe  = regexp.MustCompile(`\b(?:us|eu|ap|sa|ca|me|af|il|mx)(?:-gov)?-(?:north|south|east|west|central|northeast|southeast|northwest|southwest)-\d\b`)
)

// Pattern is one row of the signature table.
type Pattern struct {
	Name        string `yaml:"name"`
	Match       string `yaml:"match"`
	Title       string `yaml:"title"`
	Remediation string `yaml:"remediation"`
	Fix         string `yaml:"fix,omitempty"`

	re *regexp.Regexp
}

// Diagnosis is the human-readable classification of a failure.
type Diagnosis struct {
	Pattern     string `json:"pattern"`
	Title       string `json:"title"`
	Remediation string `json:"remediation"`
	FixCommand  string `json:"fixCommand,omitempty"`
}

// Matcher scans text against an ordered table; the first match wins.
type Matcher struct {
	patterns []Pattern
}

// New compiles the given table in order.
func New(patterns []Pattern) (*Matcher, error) {
	m := &Matcher{patterns: make([]Pattern, 0, len(patterns))}
	for i, p := range patterns {
		if p.Name == "" || p.Match == "" {
			return nil, fmt.Errorf("pattern %d: name and match are required", i)
		}
		re, err := regexp.Compile(p.Match)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p.Name, err)
		}
		p.re = re
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// Load reads a YAML table.
func Load(r io.Reader) (*Matcher, error) {
	var patterns []Pattern
	if err := yaml.NewDecoder(r).Decode(&patterns); err != nil {
		return nil, fmt.Errorf("decode error patterns: %w", err)
	}
	return New(patterns)
}

// LoadFile reads a YAML table from path, or returns the defaults when path is empty.
func LoadFile(path string) (*Matcher, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Default returns the built-in table.
func Default() *Matcher {
	var patterns []Pattern
	if err := yaml.Unmarshal(defaultTable, &patterns); err != nil {
		panic("errorpattern: bad embedded table: " + err.Error())
	}
	m, err := New(patterns)
	if err != nil {
		panic("errorpattern: bad embedded table: " + err.Error())
	}
	return m
}

// Patterns returns the table names in match order.
func (m *Matcher) Patterns() []string {
	out := make([]string, len(m.patterns))
	for i, p := range m.patterns {
		out[i] = p.Name
	}
	return out
}

// Match classifies text. ok is false when no signature matched.
func (m *Matcher) Match(text string, h Hints) (d Diagnosis, ok bool) {
	for _, p := range m.patterns {
		if p.re.MatchString(text) {
			return Diagnosis{
				Pattern:     p.Name,
				Title:       p.Title,
				Remediation: p.Remediation,
				FixCommand:  Substitute(p.Fix, text, h),
			}, true
		}
	}
	return Diagnosis{}, false
}

// Diagnose is Match with a generic fallback for unrecognised failures.
func (m *Matcher) Diagnose(text string, h Hints) Diagnosis {
	if d, ok := m.Match(text, h); ok {
		return d
	}
	return Diagnosis{
		Pattern:     "unknown",
		Title:       "Provisioning failed",
		Remediation: "No known failure signature matched. Review the output above for the first error.",
	}
}

// Substitute fills STACK_NAME, ACCOUNT_ID and REGION in tmpl. STACK_NAME
// comes from h only; the region from h or else the first region in text; the
// account from the first 12-digit token in text. Unresolved placeholders are
// left as-is.
func Substitute(tmpl, text string, h Hints) string {
	if tmpl == "" {
		return ""
	}
	if h.StackName != "" {
		tmpl = strings.ReplaceAll(tmpl, StackPlaceholder, h.StackName)
	}
	if acct := accountRe.FindString(text); acct != "" {
		tmpl = strings.ReplaceAll(tmpl, AccountPlaceholder, acct)
	}
	region := h.Region
	if region == "" {
		region = regionRe.FindString(text)
	}
	if region != "" {
		tmpl = strings.ReplaceAll(tmpl, RegionPlaceholder, region)
	}
	return tmpl
}
