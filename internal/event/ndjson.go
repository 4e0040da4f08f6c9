package event

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/Iron-Ham/formrunner/internal/logging"
)

// Message is the JSON shape of one line on the output stream.
type Message struct {
	Type       string  `json:"type"`
	Status     string  `json:"status"`
	TaskID     string  `json:"taskId"`
	TargetID   string  `json:"targetId,omitempty"`
	Phase      string  `json:"phase,omitempty"`
	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Error      string  `json:"error,omitempty"`
}

// ToMessage converts a task event into its wire form. It reports false for
// events that are not written to the output stream.
func ToMessage(e Event) (Message, bool) {
	switch ev := e.(type) {
	case ProgressEvent:
		return Message{
			Type:       WireProgress,
			Status:     ev.Status,
			TaskID:     ev.TaskID,
			TargetID:   ev.TargetID,
			Phase:      string(ev.Phase),
			Current:    ev.Current,
			Total:      ev.Total,
			Percentage: ev.Percentage(),
			Error:      ev.Error,
		}, true
	case ResultEvent:
		return Message{
			Type:       WireResult,
			Status:     ev.Status,
			TaskID:     ev.TaskID,
			TargetID:   ev.TargetID,
			Phase:      string(ev.Phase),
			Current:    ev.Current,
			Total:      ev.Total,
			Percentage: ev.Percentage(),
			Error:      ev.Error,
		}, true
	default:
		return Message{}, false
	}
}

// NDJSONWriter writes task events to w, one JSON object per line. Lines from
// concurrent publishers never interleave.
type NDJSONWriter struct {
	mu     sync.Mutex
	enc    *json.Encoder
	logger *logging.Logger
}

// NewNDJSONWriter creates a writer. Write failures are logged, not returned:
// progress is best-effort and a closed stdout must not stop a task.
func NewNDJSONWriter(w io.Writer, logger *logging.Logger) *NDJSONWriter {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &NDJSONWriter{enc: json.NewEncoder(w), logger: logger}
}

// Handle is a Handler suitable for Bus.SubscribeAll.
func (n *NDJSONWriter) Handle(e Event) {
	msg, ok := ToMessage(e)
	if !ok {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.enc.Encode(msg); err != nil {
		n.logger.Warn("failed to write event", "type", msg.Type, "task_id", msg.TaskID, "error", err.Error())
	}
}
