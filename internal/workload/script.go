package workload

import (
	"fmt"
	"strings"
)

// SpecsScript collects the host's hardware facts and prints them as one
// JSON line, the last line of output. workDir, when set, is the directory
// whose filesystem is measured for disk_gb.
func SpecsScript(workDir string) string {
	dir := strings.TrimSpace(workDir)
	if dir == "" {
		dir = "/"
	}
	var b strings.Builder
	b.WriteString("set -eu\n")
	fmt.Fprintf(&b, "WORKDIR=%s\n", shellQuote(dir))
	b.WriteString(`[ -d "$WORKDIR" ] || WORKDIR=/
HOSTNAME_V=$(hostname 2>/dev/null || uname -n)
OS_V=$( (. /etc/os-release 2>/dev/null && echo "$PRETTY_NAME") || uname -s)
KERNEL_V=$(uname -r)
CPU_V=$(nproc 2>/dev/null || getconf _NPROCESSORS_ONLN)
MEM_V=$(awk '/MemTotal/ {printf "%d", $2/1024}' /proc/meminfo 2>/dev/null || echo 0)
DISK_V=$(df -Pk "$WORKDIR" | awk 'NR==2 {printf "%d", $2/1048576}')
DOCKER_V=$(docker version --format '{{.Server.Version}}' 2>/dev/null || echo "")
GPUS_V=""
if command -v nvidia-smi >/dev/null 2>&1; then
  GPUS_V=$(nvidia-smi --query-gpu=name,memory.total,driver_version --format=csv,noheader,nounits 2>/dev/null \
    | awk -F', *' '{printf "%s{\"name\":\"%s\",\"memory_mb\":%d,\"driver\":\"%s\"}", (NR>1?",":""), $1, $2, $3}')
fi
json_str() { printf '%s' "$1" | sed 's/\\/\\\\/g; s/"/\\"/g'; }
printf '{"hostname":"%s","os":"%s","kernel":"%s","cpu_count":%d,"memory_mb":%d,"disk_gb":%d,"docker_version":"%s","gpus":[%s]}\n' \
  "$(json_str "$HOSTNAME_V")" "$(json_str "$OS_V")" "$(json_str "$KERNEL_V")" \
  "$CPU_V" "$MEM_V" "$DISK_V" "$(json_str "$DOCKER_V")" "$GPUS_V"
`)
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
