package domain

// LogType classifies an entry in an agent session's log.
type LogType string

const (
	LogAgent    LogType = "agent"
	LogUser     LogType = "user"
	LogTool     LogType = "tool"
	LogUtil     LogType = "util"
	LogInfo     LogType = "info"
	LogHint     LogType = "hint"
	LogWarning  LogType = "warning"
	LogError    LogType = "error"
	LogResponse LogType = "response"
)

// LogKeyTemp in an item's kvps marks it temporary: the log replaces it with
// the next item instead of keeping both.
const LogKeyTemp = "temp"

// LogUpdate carries the fields a log item update replaces. Nil pointers
// leave the field unchanged; KVPs are merged key by key.
type LogUpdate struct {
	Type    *LogType
	Heading *string
	Content *string
	KVPs    map[string]any
}

// LogItem is a mutable entry in a session log.
type LogItem interface {
	// ID returns the item's stable identifier.
	ID() string
	// Update replaces the fields set in u.
	Update(u LogUpdate)
	// Stream appends heading and content to the existing values.
	Stream(heading, content string)
	// StreamKV appends value to the string stored under key.
	StreamKV(key, value string)
}

// SessionLog is the logging collaborator agents report progress through.
type SessionLog interface {
	Log(typ LogType, heading, content string, kvps map[string]any) LogItem
}
