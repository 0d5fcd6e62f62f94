package crypto

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// HasAESHardwareSupport checks if the CPU supports AES hardware acceleration.
// This uses CPU feature detection available in golang.org/x/sys/cpu.
func HasAESHardwareSupport() bool {
	switch runtime.GOARCH {
	case "amd64", "386":
		return cpu.X86.HasAES && cpu.X86.HasPCLMULQDQ
	case "arm64":
		return cpu.ARM64.HasAES && cpu.ARM64.HasPMULL
	case "s390x":
		return cpu.S390X.HasAES && cpu.S390X.HasAESGCM
	default:
		return false
	}
}

// SelectAlgorithm picks the content algorithm for new records. AES-256-GCM is
// only chosen when the CPU accelerates it and the caller prefers it; the
// software fallback is XChaCha20-Poly1305, which is constant time without
// hardware support.
func SelectAlgorithm(preferHardwareAES bool) Algorithm {
	if preferHardwareAES && HasAESHardwareSupport() {
		return AlgorithmAES256GCM
	}
	return AlgorithmXChaCha20Poly1305
}

// HardwareInfo returns information about the selected content algorithm and
// the CPU features behind the choice.
func HardwareInfo(preferHardwareAES bool) map[string]interface{} {
	return map[string]interface{}{
		"aes_hardware_support": HasAESHardwareSupport(),
		"prefer_hardware_aes":  preferHardwareAES,
		"content_algorithm":    string(SelectAlgorithm(preferHardwareAES)),
		"architecture":         runtime.GOARCH,
		"goos":                 runtime.GOOS,
		"go_version":           runtime.Version(),
	}
}
