package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// guestConn is the host side of the one-shot vsock exec channel.
type guestConn = io.ReadWriteCloser

// guestRequest is the single execution request sent to the guest agent.
// The agent writes the source to a file inside the guest, runs it with
// node under the given budget, and answers with one guestResponse.
type guestRequest struct {
	Source     string `json:"source"`
	TimeoutSec int    `json:"timeout_sec"`
}

// guestResponse is the guest agent's answer.
type guestResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out"`
	Error    string `json:"error,omitempty"`
}

// runInGuest sends the source into the guest and waits for the response
// within the remaining budget of ctx. Closing the connection on ctx expiry
// unblocks the decode; the caller maps the deadline error to a timeout.
func (m *MicroVMBackend) runInGuest(ctx context.Context, conn guestConn, source string) (guestResponse, error) {
	req := guestRequest{
		Source:     source,
		TimeoutSec: m.config.TimeoutSec,
	}

	type decoded struct {
		resp guestResponse
		err  error
	}
	done := make(chan decoded, 1)

	go func() {
		if err := json.NewEncoder(conn).Encode(req); err != nil {
			done <- decoded{err: fmt.Errorf("send guest request: %w", err)}
			return
		}
		var resp guestResponse
		if err := json.NewDecoder(conn).Decode(&resp); err != nil {
			done <- decoded{err: fmt.Errorf("decode guest response: %w", err)}
			return
		}
		done <- decoded{resp: resp}
	}()

	select {
	case d := <-done:
		return d.resp, d.err
	case <-ctx.Done():
		conn.Close()
		return guestResponse{}, ctx.Err()
	}
}
