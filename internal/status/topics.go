package status

// topicPrefix roots every topic this service publishes.
const topicPrefix = "wattline"

// Topics builds the topic strings used by the status publisher.
//
// Centralising them keeps the topic scheme in one place:
//
//	wattline/system/status      client lifecycle (retained, LWT)
//	wattline/status/<uploader>  per-uploader state (retained)
type Topics struct{}

// SystemStatus returns the client lifecycle topic.
func (Topics) SystemStatus() string {
	return topicPrefix + "/system/status"
}

// Uploader returns the retained status topic for one uploader.
func (Topics) Uploader(id string) string {
	return topicPrefix + "/status/" + id
}
