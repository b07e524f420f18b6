package shim

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/openclaw/clasper/internal/domain/request"
)

// Fingerprint identifies "the same request" for execution reuse: the adapter,
// the normalized tool, the session key, the sorted target set, and the
// command class. It is deliberately coarse so rapid retries of one logical
// action collapse onto one execution.
func Fingerprint(adapterID string, req *request.ExecutionRequest, session map[string]string) string {
	argv0 := ""
	if req.Context.Exec != nil {
		argv0 = req.Context.Exec.Argv0
	}
	parts := []string{
		adapterID,
		req.Tool,
		sessionKey(session),
		targetsKey(req),
		CommandClass(argv0),
	}
	sum := xxhash.Sum64String(strings.Join(parts, "::"))
	return strconv.FormatUint(sum, 16)
}

// targetsKey is the sorted, deduped, lowercased set of target paths and
// hosts.
func targetsKey(req *request.ExecutionRequest) string {
	seen := map[string]bool{}
	var targets []string
	for _, t := range req.Context.Targets.Paths {
		t = strings.ToLower(t)
		if !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}
	for _, t := range req.Context.Targets.Hosts {
		t = strings.ToLower(t)
		if !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}
	sort.Strings(targets)
	return strings.Join(targets, ",")
}
