package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform identifies the host environment, distinguishing WSL from native
// Linux because clipboard tooling and fsnotify behavior differ there.
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL1    Platform = "wsl1"
	PlatformWSL2    Platform = "wsl2"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

var (
	detected      Platform
	detectionDone bool
)

// Detect returns the current platform, caching the result.
func Detect() Platform {
	if detectionDone {
		return detected
	}
	detected = detectPlatform()
	detectionDone = true
	return detected
}

func detectPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		return detectLinuxOrWSL()
	default:
		return PlatformUnknown
	}
}

func detectLinuxOrWSL() Platform {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return detectWSLVersion()
	}

	procVersion, err := os.ReadFile("/proc/version")
	if err != nil {
		return PlatformLinux
	}
	if strings.Contains(string(procVersion), "microsoft") || strings.Contains(string(procVersion), "Microsoft") {
		return detectWSLVersion()
	}
	return PlatformLinux
}

// detectWSLVersion tells WSL1 from WSL2. WSL2 kernels carry a
// "microsoft-standard" signature; WSL1 has "Microsoft" without it.
func detectWSLVersion() Platform {
	procVersion, err := os.ReadFile("/proc/version")
	if err == nil {
		if strings.Contains(string(procVersion), "microsoft-standard") {
			return PlatformWSL2
		}
		if strings.Contains(string(procVersion), "Microsoft") {
			return PlatformWSL1
		}
	}

	// /run/WSL and /dev/vsock exist only under WSL2
	if _, err := os.Stat("/run/WSL"); err == nil {
		return PlatformWSL2
	}
	if _, err := os.Stat("/dev/vsock"); err == nil {
		return PlatformWSL2
	}

	return PlatformWSL1
}

func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformLinux:
		return "Linux"
	case PlatformWSL1:
		return "WSL1"
	case PlatformWSL2:
		return "WSL2"
	case PlatformWindows:
		return "Windows"
	default:
		return "Unknown"
	}
}

// CheckFsnotifySupport returns a warning when path sits on a filesystem where
// fsnotify events are unreliable (9p, nfs, cifs, sshfs), or "" when watching
// should work. WSL2 mounts of the Windows drive are the common offender.
func CheckFsnotifySupport(path string) string {
	if runtime.GOOS != "linux" {
		return ""
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}

	mounts, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return ""
	}

	// longest mountpoint prefix wins
	var matchedMount, matchedFsType string
	for _, line := range strings.Split(string(mounts), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if strings.HasPrefix(absPath, fields[1]) && len(fields[1]) > len(matchedMount) {
			matchedMount = fields[1]
			matchedFsType = fields[2]
		}
	}

	switch {
	case matchedFsType == "9p":
		return "status directory on 9p mount (WSL2 Windows filesystem): file watching disabled"
	case matchedFsType == "nfs" || matchedFsType == "nfs4":
		return "status directory on NFS mount: file watching may be unreliable"
	case matchedFsType == "cifs" || matchedFsType == "smbfs":
		return "status directory on CIFS/SMB mount: file watching may be unreliable"
	case strings.HasPrefix(matchedFsType, "fuse.sshfs"):
		return "status directory on SSHFS mount: file watching disabled"
	}

	return ""
}
