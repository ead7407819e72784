//go:build production

package webhook

const mockModeAvailable = false
