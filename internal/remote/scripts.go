package remote

import "strings"

// PreflightScript fails unless the host runs Linux with a reachable docker
// daemon.
func PreflightScript() string {
	return strings.TrimSpace(`set -eu
if [ "$(uname -s)" != "Linux" ]; then
  echo "remote host must be Linux" >&2
  exit 1
fi
if ! command -v docker >/dev/null 2>&1; then
  echo "missing prerequisite: docker" >&2
  exit 1
fi
if ! docker info >/dev/null 2>&1; then
  echo "docker daemon is not running or accessible" >&2
  exit 1
fi`) + "\n"
}
