// Package git drives the git binary in a deploy repository checkout.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// VersionControlClient is the subset of git the promoter needs to persist a run.
type VersionControlClient interface {
	ConfigUser(ctx context.Context, name, email string) error
	Add(ctx context.Context, paths ...string) error
	// StagedFiles lists paths staged for the next commit.
	StagedFiles(ctx context.Context) ([]string, error)
	Commit(ctx context.Context, message string) error
	// Amend folds the staged changes into HEAD, keeping its message.
	Amend(ctx context.Context) error
	Head(ctx context.Context) (string, error)
	Push(ctx context.Context, remote, refspec string) error
}

type ExecClient struct {
	dir string
}

func NewExecClient(dir string) *ExecClient {
	return &ExecClient{dir: dir}
}

func (c *ExecClient) ConfigUser(ctx context.Context, name, email string) error {
	if _, err := c.run(ctx, "config", "user.name", name); err != nil {
		return err
	}
	_, err := c.run(ctx, "config", "user.email", email)
	return err
}

func (c *ExecClient) Add(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := c.run(ctx, append([]string{"add", "--"}, paths...)...)
	return err
}

func (c *ExecClient) StagedFiles(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return nil, err
	}
	return strings.Fields(out), nil
}

func (c *ExecClient) Commit(ctx context.Context, message string) error {
	_, err := c.run(ctx, "commit", "-m", message)
	return err
}

func (c *ExecClient) Amend(ctx context.Context) error {
	_, err := c.run(ctx, "commit", "--amend", "--no-edit")
	return err
}

func (c *ExecClient) Head(ctx context.Context) (string, error) {
	return c.run(ctx, "rev-parse", "HEAD")
}

func (c *ExecClient) Push(ctx context.Context, remote, refspec string) error {
	_, err := c.run(ctx, "push", remote, refspec)
	return err
}

func (c *ExecClient) run(ctx context.Context, args ...string) (string, error) {
	log := zerolog.Ctx(ctx)
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.Debug().Strs("command", cmd.Args).Str("dir", c.dir).Msg("executing git command")
	if err := cmd.Run(); err != nil {
		log.Error().Err(err).Str("stderr", stderr.String()).Msg("git command failed")
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
