package genx

import (
	"errors"
	"strings"
)

// Reply is a fully drained model stream.
type Reply struct {
	Text      string
	ToolCalls []*ToolCall
	Usage     Usage
	Status    Status
}

// Collect drains s into a Reply and closes it. A stream that ends with
// anything but ErrDone is returned as an error, with the partial reply.
func Collect(s Stream) (*Reply, error) {
	defer s.Close()
	var (
		sb    strings.Builder
		reply Reply
	)
	for {
		chunk, err := s.Next()
		if err != nil {
			reply.Text = sb.String()
			if st, ok := StateOf(err); ok {
				reply.Usage = st.Usage()
				reply.Status = st.Status()
			}
			if errors.Is(err, ErrDone) {
				return &reply, nil
			}
			return &reply, err
		}
		if chunk.ToolCall != nil {
			if chunk.ToolCall.ID == "" {
				chunk.ToolCall.ID = NewCallID()
			}
			reply.ToolCalls = append(reply.ToolCalls, chunk.ToolCall)
		}
		sb.WriteString(chunk.Text)
	}
}
