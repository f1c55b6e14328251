package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mhpenta/docqueue"
)

var ErrEmptyCommand = errors.New("worker: command must not be empty")

// CommandHandler runs an external program per job. The payload is written to
// the program's stdin and the job metadata is exported as DOCQUEUE_JOB_ID,
// DOCQUEUE_QUEUE and DOCQUEUE_ATTEMPTS. A non-zero exit fails the job.
type CommandHandler struct {
	name string
	args []string
	env  []string
}

func NewCommandHandler(command []string, env ...string) (*CommandHandler, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, ErrEmptyCommand
	}
	return &CommandHandler{name: command[0], args: command[1:], env: env}, nil
}

func (h *CommandHandler) Handle(ctx context.Context, job *docqueue.Job) error {
	cmd := exec.CommandContext(ctx, h.name, h.args...)
	cmd.Stdin = bytes.NewReader(job.Payload())
	cmd.Env = append(os.Environ(), h.env...)
	cmd.Env = append(cmd.Env,
		"DOCQUEUE_JOB_ID="+job.ID(),
		"DOCQUEUE_QUEUE="+job.Queue(),
		"DOCQUEUE_ATTEMPTS="+strconv.Itoa(job.Attempts()),
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = os.Stdout

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", h.name, err, msg)
		}
		return fmt.Errorf("%s: %w", h.name, err)
	}
	return nil
}
