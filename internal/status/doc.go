// Package status publishes uploader state over MQTT.
//
// Each uploader's latest status is published retained to
// wattline/status/<uploader>, so a dashboard or automation subscribing
// late still sees the current state. The client's own lifecycle is
// announced on wattline/system/status, with a Last Will and Testament
// covering unexpected disconnects.
//
// Publishing is best-effort: a failed publish is logged and dropped,
// never allowed to stall an upload loop.
package status
