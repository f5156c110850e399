package observ

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Log emits one JSON line on stderr with ts and event stamped in, keeping
// stdout free for the binaries' human-readable output.
func Log(event string, kv map[string]any) {
	out := make(map[string]any, len(kv)+2)
	for k, v := range kv {
		out[k] = v
	}
	out["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	out["event"] = event
	b, _ := json.Marshal(out)
	fmt.Fprintln(os.Stderr, string(b))
}
