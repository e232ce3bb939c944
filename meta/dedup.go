package meta

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drep-project/meshvpnd/mesh"
)

// AgePastRequests reaps flood-dedup cache entries older than
// World.PingTimeout, mirroring tinc's age_past_requests() periodic timer
// (spec §3, §8 Property 8). Package connmgr calls this from its
// maintenance tick; the dedup logic itself lives on mesh.World.SeenRequest
// since it must be reachable from Dispatch without importing package meta.
func AgePastRequests(ctx *Context, now time.Time) int {
	return ctx.World.AgePastRequests(now)
}

// floodToken returns a fresh random hex token, appended as the trailing
// argument of every originated flooded verb so that two logically
// distinct updates which happen to carry identical field values are
// never deduplicated against each other — spec §4.2 "Each such verb
// carries a random hex token so identical logical updates are not
// deduped." seen_request() still matches on the exact line text, so the
// token only needs to be unpredictable, not meaningful.
func floodToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// floodLine assembles one originated flooded-verb request line,
// including its trailing dedup token.
func floodLine(id mesh.RequestID, fields ...string) string {
	parts := append([]string{fmt.Sprint(int(id))}, fields...)
	parts = append(parts, floodToken())
	return strings.Join(parts, " ")
}

// splitToken separates a flooded verb's trailing dedup token from its
// meaningful fields; handlers parse only the fields that precede it.
func splitToken(args []string, wantFields int) ([]string, bool) {
	if len(args) != wantFields+1 {
		return nil, false
	}
	return args[:wantFields], true
}
