package biopipe

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/simon020286/biopipe/models"
)

// implicitBranch is the branch key used when a pattern without % groups
// every matching input together.
const implicitBranch = "all"

// splitInputs groups inputs by a filename pattern where % captures the
// branch id and * matches anything. If the pattern matches none of the
// current inputs, the prior stages' inputs are searched backwards, so a
// pattern can pick up data produced upstream. A pattern with no % groups
// every matching file into one implicit branch.
func splitInputs(pattern string, inputs []string, priors [][]string) (map[string][]string, error) {
	re, capture, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}

	branches := matchGroup(re, capture, inputs)
	if len(branches) == 0 {
		for i := len(priors) - 1; i >= 0; i-- {
			branches = matchGroup(re, capture, priors[i])
			if len(branches) > 0 {
				break
			}
		}
	}

	if len(branches) == 0 {
		if pattern == "*" {
			if len(inputs) == 0 {
				return nil, &models.PatternMatchError{Pattern: pattern}
			}
			return map[string][]string{implicitBranch: inputs}, nil
		}
		return nil, &models.PatternMatchError{Pattern: pattern}
	}

	for _, files := range branches {
		sort.Strings(files)
	}
	return branches, nil
}

// compilePattern turns a %-and-* filename pattern into a regexp matched
// against base names. capture reports whether the pattern has a % group.
func compilePattern(pattern string) (*regexp.Regexp, bool, error) {
	var b strings.Builder
	b.WriteString("^")
	capture := false
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString("(.*?)")
			capture = true
		case '*':
			b.WriteString(".*")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, false, err
	}
	return re, capture, nil
}

func matchGroup(re *regexp.Regexp, capture bool, files []string) map[string][]string {
	branches := make(map[string][]string)
	for _, f := range files {
		m := re.FindStringSubmatch(filepath.Base(f))
		if m == nil {
			continue
		}
		key := implicitBranch
		if capture {
			key = m[1]
		}
		branches[key] = append(branches[key], f)
	}
	if capture {
		// An empty id means % matched nothing useful; drop it rather
		// than forking a nameless branch.
		delete(branches, "")
	}
	return branches
}
