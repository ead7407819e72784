//go:build !production

package webhook

// Mock mode answers without the network so the shell can be tried
// offline. Release builds use the production tag and drop it.
const mockModeAvailable = true
