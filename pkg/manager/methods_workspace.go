package manager

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentcompany/agentcompany/pkg/rpc"
)

const doctorProbeTimeout = 5 * time.Second

type workspaceInitParams struct {
	Name string `json:"name" validate:"required"`
}

type exportParams struct {
	DestPath string `json:"dest_path" validate:"required"`
}

type importParams struct {
	ArchivePath string `json:"archive_path" validate:"required"`
}

type emptyParams struct{}

func (c *Controller) registerWorkspaceMethods() {
	rpc.Handle(c.router, "workspace.open", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		if err := c.ws.Validate(); err != nil {
			return nil, rpc.UserErrorf("workspace_invalid", "%v", err)
		}
		projects, err := c.ws.ListProjects()
		if err != nil {
			return nil, err
		}
		agents, err := c.ws.ListAgents()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"root":     c.ws.Root,
			"projects": len(projects),
			"agents":   len(agents),
		}, nil
	})

	rpc.Handle(c.router, "workspace.init", func(ctx context.Context, p workspaceInitParams) (interface{}, error) {
		if err := c.ws.Init(p.Name); err != nil {
			return nil, err
		}
		return map[string]string{"root": c.ws.Root}, nil
	})

	rpc.Handle(c.router, "workspace.validate", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		if err := c.ws.Validate(); err != nil {
			return map[string]interface{}{"valid": false, "error": err.Error()}, nil
		}
		return map[string]interface{}{"valid": true}, nil
	})

	rpc.Handle(c.router, "workspace.doctor", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		return c.doctor(ctx), nil
	})

	rpc.Handle(c.router, "workspace.diagnostics", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		return c.diagnostics()
	})

	rpc.Handle(c.router, "workspace.migrate", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		if err := c.ws.EnsureLayout(); err != nil {
			return nil, err
		}
		return map[string]bool{"migrated": true}, nil
	})

	rpc.Handle(c.router, "workspace.export", func(ctx context.Context, p exportParams) (interface{}, error) {
		n, err := c.exportWorkspace(p.DestPath)
		if err != nil {
			return nil, fmt.Errorf("failed to export workspace: %w", err)
		}
		return map[string]interface{}{"dest_path": p.DestPath, "files": n}, nil
	})

	rpc.Handle(c.router, "workspace.import", func(ctx context.Context, p importParams) (interface{}, error) {
		n, err := c.importWorkspace(p.ArchivePath)
		if err != nil {
			return nil, fmt.Errorf("failed to import workspace: %w", err)
		}
		return map[string]interface{}{"files": n}, nil
	})

	rpc.Handle(c.router, "workspace.projects.list", func(ctx context.Context, _ emptyParams) (interface{}, error) {
		return c.ws.ListProjects()
	})
}

// doctor probes each configured provider binary with a hard timeout.
func (c *Controller) doctor(ctx context.Context) map[string]interface{} {
	machine, err := c.ws.LoadMachineConfig()
	if err != nil {
		return map[string]interface{}{"ok": false, "error": err.Error()}
	}

	probes := make(map[string]string)
	ok := true
	for provider, bin := range machine.ProviderBins {
		pctx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
		err := exec.CommandContext(pctx, bin, "--version").Run()
		cancel()
		switch {
		case err == nil:
			probes[provider] = "ok"
		case pctx.Err() == context.DeadlineExceeded:
			probes[provider] = "timeout"
			ok = false
		default:
			probes[provider] = err.Error()
			ok = false
		}
	}
	return map[string]interface{}{"ok": ok, "providers": probes}
}

func (c *Controller) diagnostics() (interface{}, error) {
	projects, err := c.ws.ListProjects()
	if err != nil {
		return nil, err
	}
	var runs, jobs, tasks int
	for _, p := range projects {
		if ids, err := c.ws.ListRuns(p.ID); err == nil {
			runs += len(ids)
		}
		if ids, err := c.ws.ListJobs(p.ID); err == nil {
			jobs += len(ids)
		}
		if ts, err := c.ws.ListTasks(p.ID); err == nil {
			tasks += len(ts)
		}
	}
	counts, err := c.store.TableCounts()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"projects":     len(projects),
		"runs":         runs,
		"jobs":         jobs,
		"tasks":        tasks,
		"index_path":   c.store.Path(),
		"index_counts": counts,
		"uptime_sec":   int(time.Since(c.startedAt).Seconds()),
	}, nil
}

// exportWorkspace writes a tar.gz of the record tree. Derived local
// state (.local) is excluded: the index rebuilds and worktrees are
// host-specific.
func (c *Controller) exportWorkspace(destPath string) (int, error) {
	f, err := os.Create(destPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	count := 0
	err = filepath.Walk(c.ws.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.ws.Root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if strings.HasPrefix(rel, ".local") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		if _, err := io.Copy(tw, src); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

// importWorkspace unpacks an exported archive into the workspace root.
// Entries escaping the root are rejected.
func (c *Controller) importWorkspace(archivePath string) (int, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, err
		}
		dest := filepath.Join(c.ws.Root, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(dest, filepath.Clean(c.ws.Root)+string(os.PathSeparator)) {
			return count, fmt.Errorf("archive entry escapes workspace: %s", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0755); err != nil {
				return count, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
				return count, err
			}
			out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode())
			if err != nil {
				return count, err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return count, err
			}
			out.Close()
			count++
		}
	}
	return count, nil
}
