package mx

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Output patterns of `host -t mx <domain>`.
var (
	handledByPattern = regexp.MustCompile(` mail is handled by ([0-9]+) (.+)\.$`)
	noMXPattern      = regexp.MustCompile(` has no MX record$`)
	nxDomainPattern  = regexp.MustCompile(`^Host .* not found: 3\(NXDOMAIN\)$`)
)

// Candidate is a mail exchange that may accept mail for a domain.
type Candidate struct {
	Host     string
	Priority int
}

// Parse extracts mail exchanges for domain from lookup output.
//
// A "has no MX record" line means the domain host itself accepts mail and
// replaces everything found so far. An NXDOMAIN line reports nx and no
// candidates. Otherwise candidates are sorted by ascending priority, keeping
// discovery order for equal priorities, and cut to max entries (max <= 0
// keeps all). A host listed twice keeps its first position and last priority.
func Parse(domain, output string, max int) (nx bool, candidates []Candidate) {
	index := make(map[string]int)

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")

		if m := handledByPattern.FindStringSubmatch(line); m != nil {
			priority, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			host := m[2]
			if i, seen := index[host]; seen {
				candidates[i].Priority = priority
				continue
			}
			index[host] = len(candidates)
			candidates = append(candidates, Candidate{Host: host, Priority: priority})
			continue
		}

		if noMXPattern.MatchString(line) {
			candidates = []Candidate{{Host: domain, Priority: 0}}
			break
		}

		if nxDomainPattern.MatchString(line) {
			return true, nil
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})
	if max > 0 && len(candidates) > max {
		candidates = candidates[:max]
	}
	return false, candidates
}

// Hosts returns the host names of candidates in order.
func Hosts(candidates []Candidate) []string {
	hosts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		hosts = append(hosts, c.Host)
	}
	return hosts
}
