package task

// Source tags the store a record was loaded from.
type Source string

const (
	// SourceCloud is the external task-management cloud service. It is
	// authoritative for some fields and wins timestamp ties.
	SourceCloud Source = "cloud"

	// SourceLocal is the on-device store.
	SourceLocal Source = "local"

	// SourceReplica is a remote network-accessible replica database.
	SourceReplica Source = "replica"
)

// Priority is the fixed source ranking used only to break ties when
// modification timestamps are equal or missing. Higher wins.
func (s Source) Priority() int {
	switch s {
	case SourceCloud:
		return 3
	case SourceLocal:
		return 2
	case SourceReplica:
		return 1
	}
	return 0
}
