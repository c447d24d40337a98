// Package publish commits accepted modifications to the project's git
// repository, pushes them to the configured remotes, and signals process
// restarts. Outbound only: nothing here can change the working tree beyond
// the git metadata and the dev restart trigger file.
package publish

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"modguard/internal/config"
)

// PushResult records the per-remote outcome of one publish.
type PushResult struct {
	Remote   string `json:"remote"`
	OK       bool   `json:"ok"`
	UpToDate bool   `json:"up_to_date,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Publisher owns the git side of the engine.
type Publisher struct {
	root string
	cfg  *config.Config
	log  *zap.Logger

	// exitFunc is swapped in tests so RequestRestart does not kill the
	// test process.
	exitFunc func(code int)
}

// New builds a publisher for the configured project.
func New(cfg *config.Config, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{root: cfg.ProjectRoot, cfg: cfg, log: log, exitFunc: os.Exit}
}

// open returns the repository at the project root, initializing one on
// first use.
func (p *Publisher) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(p.root)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	repo, err = git.PlainInit(p.root, false)
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	p.log.Info("initialized git repository", zap.String("path", p.root))
	return repo, nil
}

// ensureRemotes creates any configured remote that the repository does not
// have yet. Existing remotes are left alone even when the URL differs.
func (p *Publisher) ensureRemotes(repo *git.Repository) error {
	for _, rc := range p.cfg.Remotes {
		if _, err := repo.Remote(rc.Name); err == nil {
			continue
		} else if !errors.Is(err, git.ErrRemoteNotFound) {
			return err
		}
		_, err := repo.CreateRemote(&gitcfg.RemoteConfig{
			Name: rc.Name,
			URLs: []string{rc.URL},
		})
		if err != nil {
			return fmt.Errorf("create remote %s: %w", rc.Name, err)
		}
		p.log.Info("remote added", zap.String("name", rc.Name), zap.String("url", rc.URL))
	}
	return nil
}

// Commit stages the given paths (relative to the project root) and commits
// them with the engine's author identity. Returns the commit hash, or an
// empty string with a nil error when there is nothing to commit.
func (p *Publisher) Commit(paths []string, message string) (string, error) {
	repo, err := p.open()
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", err
	}

	for _, rel := range paths {
		if _, err := wt.Add(filepath.FromSlash(rel)); err != nil {
			return "", fmt.Errorf("stage %s: %w", rel, err)
		}
	}

	status, err := wt.Status()
	if err != nil {
		return "", err
	}
	if status.IsClean() {
		p.log.Debug("nothing to commit")
		return "", nil
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  p.cfg.AuthorName,
			Email: p.cfg.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	p.log.Info("committed", zap.String("hash", hash.String()), zap.Int("paths", len(paths)))
	return hash.String(), nil
}

// Push pushes the configured branch to every configured remote. A remote
// that is already up to date counts as success; per-remote failures are
// collected rather than aborting the rest.
func (p *Publisher) Push() ([]PushResult, error) {
	if len(p.cfg.Remotes) == 0 {
		return nil, nil
	}
	repo, err := p.open()
	if err != nil {
		return nil, err
	}
	if err := p.ensureRemotes(repo); err != nil {
		return nil, err
	}

	auth, err := p.auth()
	if err != nil {
		return nil, err
	}

	refspec := gitcfg.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", p.cfg.Branch, p.cfg.Branch))
	results := make([]PushResult, 0, len(p.cfg.Remotes))
	for _, rc := range p.cfg.Remotes {
		res := PushResult{Remote: rc.Name}
		err := repo.Push(&git.PushOptions{
			RemoteName: rc.Name,
			RefSpecs:   []gitcfg.RefSpec{refspec},
			Auth:       auth,
		})
		switch {
		case err == nil:
			res.OK = true
		case errors.Is(err, git.NoErrAlreadyUpToDate):
			res.OK = true
			res.UpToDate = true
		default:
			res.Error = err.Error()
			p.log.Warn("push failed", zap.String("remote", rc.Name), zap.Error(err))
		}
		results = append(results, res)
	}
	return results, nil
}

// auth loads the configured SSH key. No key path means anonymous transport
// (fine for local or https remotes).
func (p *Publisher) auth() (transport.AuthMethod, error) {
	if p.cfg.SSHKeyPath == "" {
		return nil, nil
	}
	keyData, err := os.ReadFile(p.cfg.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}
	return &gitssh.PublicKeys{User: "git", Signer: signer}, nil
}

// RequestRestart signals a process restart. In dev mode it touches the
// restart trigger file and the supervising watcher does the rest; otherwise
// it exits cleanly and relies on the process supervisor to bring the
// service back up.
func (p *Publisher) RequestRestart() error {
	if p.cfg.DevMode {
		trigger := p.cfg.RestartTriggerPath()
		if err := os.MkdirAll(filepath.Dir(trigger), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(trigger, []byte(time.Now().Format(time.RFC3339)+"\n"), 0644); err != nil {
			return fmt.Errorf("touch restart trigger: %w", err)
		}
		p.log.Info("restart trigger touched", zap.String("path", trigger))
		return nil
	}
	p.log.Info("exiting for supervisor restart")
	p.exitFunc(0)
	return nil
}
