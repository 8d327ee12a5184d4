package app

import (
	"net/http"
	"os"
	"runtime/debug"
	"sync"

	"github.com/propdesk/propdesk/internal/platform/httpx"
)

// Version is stamped at build time with -ldflags "-X .../internal/app.Version=...".
var Version = "dev"

const testModeEnv = "PROPDESK_TEST_MODE"

// InTestMode reports whether binaries should skip side effects such as
// listening, rate limiting and request logging. The flag is read once.
var InTestMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})

var buildRevision = sync.OnceValue(func() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
})

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Revision string `json:"revision,omitempty"`
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, healthResponse{Status: "ok", Version: Version, Revision: buildRevision()})
}
