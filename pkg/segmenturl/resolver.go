// Package segmenturl derives concrete segment addresses from a known
// "last segment" template URL. There is no manifest to consult: the only
// signal is the numeric index embedded in the template's filename.
package segmenturl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type digitRun struct {
	start int
	end   int // exclusive
	value int
}

// Resolve rewrites lastSegmentURL so that its index token becomes index,
// left-zero-padded to the token's original width. The index token is the
// contiguous digit run in the final path component with the largest numeric
// value, not the last-occurring one: filenames like "segment-41-v1-a1.ts"
// embed several numbers and the segment index is the largest. Known
// fragility: an unrelated larger number (a resolution tag such as "1080")
// in the filename wins over the real index; callers rely on the current
// behavior, so it stays.
//
// Templates without any digit run get "_<index>" appended before the file
// extension, or at the end when there is none.
func Resolve(lastSegmentURL string, index int) (string, error) {
	if lastSegmentURL == "" {
		return "", fmt.Errorf("segmenturl: empty template")
	}
	if index < 1 {
		return "", fmt.Errorf("segmenturl: index must be >= 1, got %d", index)
	}

	prefix, name, suffix := splitTemplate(lastSegmentURL)

	run, ok := largestRun(name)
	if !ok {
		return prefix + appendIndex(name, index) + suffix, nil
	}

	width := run.end - run.start
	token := fmt.Sprintf("%0*d", width, index)
	return prefix + name[:run.start] + token + name[run.end:] + suffix, nil
}

// EstimateCount returns the numeric value of the template's index token,
// i.e. the highest segment index the template claims to address. Returns 0
// when the filename carries no digits.
func EstimateCount(lastSegmentURL string) int {
	_, name, _ := splitTemplate(lastSegmentURL)
	run, ok := largestRun(name)
	if !ok {
		return 0
	}
	return run.value
}

// Host extracts the hostname for admission-control keying. Falls back to
// the raw string when the URL does not parse.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}

// splitTemplate cuts a URL into everything before the final path
// component, the final component itself, and the query/fragment tail.
func splitTemplate(rawURL string) (prefix, name, suffix string) {
	rest := rawURL
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest, suffix = rest[:i], rest[i:]
	}
	if i := strings.LastIndex(rest, "/"); i >= 0 {
		return rest[:i+1], rest[i+1:], suffix
	}
	return "", rest, suffix
}

func largestRun(name string) (digitRun, bool) {
	var best digitRun
	found := false
	i := 0
	for i < len(name) {
		if name[i] < '0' || name[i] > '9' {
			i++
			continue
		}
		j := i
		for j < len(name) && name[j] >= '0' && name[j] <= '9' {
			j++
		}
		v, err := strconv.Atoi(name[i:j])
		if err == nil && (!found || v > best.value) {
			best = digitRun{start: i, end: j, value: v}
			found = true
		}
		i = j
	}
	return best, found
}

func appendIndex(name string, index int) string {
	if dot := strings.LastIndex(name, "."); dot > 0 {
		return fmt.Sprintf("%s_%d%s", name[:dot], index, name[dot:])
	}
	return fmt.Sprintf("%s_%d", name, index)
}
