package build

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// Requirement is one pin from the dependency manifest.
type Requirement struct {
	Name       string
	Constraint string // "==2.31.0", may be empty for an unconstrained entry
}

func (r Requirement) String() string {
	return r.Name + r.Constraint
}

// One requirements.txt line: a package name, optionally followed by a
// version constraint.
var requirementRe = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)\s*((?:==|>=|<=|~=|!=|>|<)\s*\S+)?$`)

// ParseRequirements reads a requirements.txt style manifest: one pin per
// line, '#' comments, blank lines ignored. A line that is not a valid pin
// is a syntax error carrying the line number; this runs before the install
// stage, so a bad manifest never reaches the installer.
func ParseRequirements(data []byte) ([]Requirement, error) {
	var reqs []Requirement

	s := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := s.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		m := requirementRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("%w: line %d: %q", ErrManifestSyntax, lineNo, line)
		}
		reqs = append(reqs, Requirement{
			Name:       m[1],
			Constraint: strings.ReplaceAll(m[2], " ", ""),
		})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}

	return reqs, nil
}
