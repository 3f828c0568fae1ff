package chat

import (
	"fmt"

	"github.com/onnwee/request-tender/pipeline"
)

// FormatResult renders a pipeline outcome as a chat reply.
func FormatResult(user string, res pipeline.Result) string {
	switch res.Code {
	case pipeline.CodeAdmitted:
		name := res.Item.ID
		if res.Item.Name != "" {
			name = fmt.Sprintf("%s (%s)", res.Item.Name, res.Item.ID)
		}
		return fmt.Sprintf("@%s queued %s", user, name)
	case pipeline.CodeRemoved:
		return fmt.Sprintf("@%s removed %s from the queue", user, res.Item.ID)
	default:
		return fmt.Sprintf("@%s %s", user, res.Reason)
	}
}
