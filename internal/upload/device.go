package upload

import "strings"

// deviceToken is the substitution token accepted in device-name templates.
const deviceToken = "$device"

// ResolveDeviceName expands a device-name template against the device's
// runtime identity.
//
// Any literal occurrence of $device in the template is replaced with the
// identity string. An empty template falls back to the raw identity.
//
// Parameters:
//   - template: Configured device-name template (may be empty)
//   - identity: The device's runtime identity string
//
// Returns:
//   - string: Resolved device name
func ResolveDeviceName(template, identity string) string {
	if template == "" {
		return identity
	}
	return strings.ReplaceAll(template, deviceToken, identity)
}
