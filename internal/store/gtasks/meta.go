package gtasks

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/taskmirror/taskmirror/internal/task"
)

// The Tasks API models a single notes blob and no creation time, but the
// engine's identity signature needs the creation date and the separate
// notes field to survive a round trip through the cloud. A small JSON
// trailer appended to the notes carries them. Tasks created directly in the
// cloud UI simply have no trailer and fall back to due-date identity.
const metaMarker = "\n\n-- taskmirror: "

type noteMeta struct {
	Created *time.Time  `json:"created,omitempty"`
	Notes   string      `json:"notes,omitempty"`
	Status  task.Status `json:"status,omitempty"`
}

// encodeNotes packs the description plus the metadata trailer into the API
// notes blob. The trailer is omitted when there is nothing to carry.
func encodeNotes(t task.Task) string {
	var meta noteMeta
	if !t.Created.IsZero() {
		created := t.Created.UTC()
		meta.Created = &created
	}
	meta.Notes = t.Notes
	switch t.Status {
	case task.StatusInProgress, task.StatusWaiting:
		// Statuses the API cannot express ride in the trailer.
		meta.Status = t.Status
	}

	if meta.Created == nil && meta.Notes == "" && meta.Status == "" {
		return t.Description
	}
	blob, err := json.Marshal(meta)
	if err != nil {
		return t.Description
	}
	return t.Description + metaMarker + string(blob)
}

// decodeNotes splits the API notes blob back into the description and the
// metadata trailer. Notes without a trailer decode to an empty noteMeta.
func decodeNotes(notes string) (string, noteMeta) {
	i := strings.LastIndex(notes, metaMarker)
	if i < 0 {
		return notes, noteMeta{}
	}
	var meta noteMeta
	if err := json.Unmarshal([]byte(notes[i+len(metaMarker):]), &meta); err != nil {
		return notes, noteMeta{}
	}
	return notes[:i], meta
}
