package config

import (
	"os"
	"sync"
)

var (
	inContainerOnce sync.Once
	inContainer     bool
)

// IsRunningInDocker reports whether /.dockerenv exists. The result is cached.
func IsRunningInDocker() bool {
	inContainerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		inContainer = err == nil
	})
	return inContainer
}

// ResolveHostForDocker maps loopback hosts to host.docker.internal when the
// process runs inside a container, so a database or Redis on the host stays reachable.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1":
		return "host.docker.internal"
	}
	return host
}
