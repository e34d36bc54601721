package probe

import (
	"context"
	"time"
)

// Known package managers, tried in order; only the first one present is
// used. mtr-tiny is preferred where it exists since the engine only needs
// report mode.
var packageManagers = []struct {
	binary string
	args   []string
}{
	{"apt-get", []string{"install", "-y", "mtr-tiny"}},
	{"apk", []string{"add", "mtr"}},
	{"dnf", []string{"install", "-y", "mtr"}},
	{"yum", []string{"install", "-y", "mtr"}},
}

const installTimeout = 2 * time.Minute

// EnsureTracerTool best-effort installs mtr through whichever system
// package manager is detected. Called once at startup when the path probe
// is enabled; every failure is logged and swallowed, the engine simply
// runs without path data until the tool appears.
func EnsureTracerTool(ctx context.Context, deps Dependencies) {
	deps = deps.withDefaults()

	if _, err := deps.LookPath(mtrBinary); err == nil {
		return
	}

	for _, pm := range packageManagers {
		if _, err := deps.LookPath(pm.binary); err != nil {
			continue
		}

		deps.Logger.WithField("package_manager", pm.binary).Info("mtr not found, attempting install")
		installCtx, cancel := context.WithTimeout(ctx, installTimeout)
		out, err := deps.RunCommand(installCtx, pm.binary, pm.args...)
		cancel()
		if err != nil {
			deps.Logger.WithError(err).WithField("output", truncate(string(out), 200)).
				Warn("mtr install failed, path probing disabled until available")
		} else {
			deps.Logger.Info("mtr installed")
		}
		return
	}

	deps.Logger.Debug("no supported package manager found, cannot install mtr")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
