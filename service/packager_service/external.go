package packager_service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"bundle-packager/conf"
	"bundle-packager/logger"
)

// PROGRESS <percent> <message>
var progressLine = regexp.MustCompile(`^PROGRESS\s+(\d{1,3})(?:\s+(.*))?$`)

const outputTailLines = 20

// externalBuilder drives a platform build tool as a subprocess
type externalBuilder struct {
	basePackager

	// artifactRoots lists extra directories searched for artifacts besides the output dir
	artifactRoots func(req *Request) []string
	// privateTree builds in a copy of the working tree, for tools that write into their project
	privateTree bool
}

func (e *externalBuilder) Initialize(cfg conf.PlatformConfig) error {
	if cfg.Command == "" && cfg.RemoteURL == "" {
		return fmt.Errorf("invalid configuration: no command for %s", e.platform)
	}
	return e.basePackager.Initialize(cfg)
}

// expandArgs substitutes request placeholders in the configured args
func (e *externalBuilder) expandArgs(req *Request, outputDir, logo string) []string {
	r := strings.NewReplacer(
		"{workingPath}", req.WorkingPath,
		"{outputPath}", outputDir,
		"{appName}", req.AppName,
		"{appVersion}", req.AppVersion,
		"{logoPath}", logo,
	)
	args := make([]string, 0, len(e.cfg.Args))
	for _, a := range e.cfg.Args {
		args = append(args, r.Replace(a))
	}
	return args
}

func (e *externalBuilder) environ(req *Request, outputDir, logo string) []string {
	env := append(os.Environ(),
		"PACKAGER_JOB_ID="+req.JobId,
		"PACKAGER_TASK_ID="+req.TaskId,
		"PACKAGER_PLATFORM="+string(e.platform),
		"PACKAGER_APP_NAME="+req.AppName,
		"PACKAGER_APP_VERSION="+req.AppVersion,
		"PACKAGER_WORKING_PATH="+req.WorkingPath,
		"PACKAGER_OUTPUT_PATH="+outputDir,
		"PACKAGER_LOGO_PATH="+logo,
	)
	keys := make([]string, 0, len(req.Options))
	for k := range req.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(k))
		env = append(env, "PACKAGER_OPT_"+name+"="+req.Options[k])
	}
	return env
}

// Package runs the configured command and collects its artifacts
func (e *externalBuilder) Package(ctx context.Context, req *Request, report ProgressFunc) (*Result, error) {
	if report == nil {
		report = func(int, string) {}
	}
	report(10, "preparing build")

	outputDir := e.outputDir(req)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	if e.privateTree {
		workspace := filepath.Join(req.TempPath, "workspace")
		if err := copyTree(ctx, req.WorkingPath, workspace); err != nil {
			return nil, fmt.Errorf("failed to copy working tree: %w", err)
		}
		r := *req
		r.WorkingPath = workspace
		req = &r
	}
	report(25, "workspace ready")

	logo := resolveIcon(req)
	args := e.expandArgs(req, outputDir, logo)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.cfg.Command, args...)
	cmd.Dir = req.WorkingPath
	cmd.Env = e.environ(req, outputDir, logo)
	cmd.Cancel = func() error {
		return killProcessTree(cmd.Process.Pid)
	}
	cmd.WaitDelay = 10 * time.Second

	tail := newLineRing(outputTailLines)
	cmd.Stdout = &lineWriter{fn: func(line string) {
		if m := progressLine.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			if n > 100 {
				n = 100
			}
			msg := m[2]
			if msg == "" {
				msg = "building"
			}
			// tool progress maps into the 50..75 band
			report(50+n*25/100, msg)
			return
		}
		tail.add(line)
	}}
	cmd.Stderr = &lineWriter{fn: tail.add}

	report(40, fmt.Sprintf("starting %s", e.cfg.Command))
	logger.InfoKV(ctx, "Starting build tool", "platform", e.platform, "command", e.cfg.Command, "args", args)
	// from Start until Wait returns, only the stdout writer reports
	report(50, "build running")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", e.cfg.Command, err)
	}

	err := cmd.Wait()
	cmd.Stdout.(*lineWriter).flush()
	cmd.Stderr.(*lineWriter).flush()

	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("%s build timed out after %s: %w", e.platform, e.timeout(), context.DeadlineExceeded)
		default:
			return nil, fmt.Errorf("%s build failed: %w\n%s", e.platform, err, tail.String())
		}
	}
	report(75, "build finished")

	report(90, "collecting artifacts")
	roots := []string{outputDir}
	if e.artifactRoots != nil {
		roots = append(roots, e.artifactRoots(req)...)
	}
	res, err := collectArtifacts(outputDir, roots, e.cfg.ArtifactGlobs)
	if err != nil {
		return nil, err
	}
	report(100, "packaged "+res.Filename)
	return res, nil
}

// collectArtifacts finds files matching globs under roots, copies any found outside
// outputDir into it and describes the largest one as the primary artifact
func collectArtifacts(outputDir string, roots, globs []string) (*Result, error) {
	seen := make(map[string]bool)
	var found []string
	for _, root := range roots {
		_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			rel, _ := filepath.Rel(root, p)
			depth := strings.Count(filepath.ToSlash(rel), "/")
			if d.IsDir() {
				// unpacked app trees are not artifacts
				if p != root && (depth >= 2 || strings.HasSuffix(d.Name(), "-unpacked")) && root == outputDir {
					return filepath.SkipDir
				}
				return nil
			}
			for _, g := range globs {
				if ok, _ := filepath.Match(g, d.Name()); ok && !seen[d.Name()] {
					seen[d.Name()] = true
					found = append(found, p)
					break
				}
			}
			return nil
		})
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w (looked for %s)", ErrNoArtifacts, strings.Join(globs, ", "))
	}

	res := &Result{}
	for _, p := range found {
		if filepath.Dir(p) != outputDir {
			dst := filepath.Join(outputDir, filepath.Base(p))
			if err := copyFile(p, dst); err != nil {
				return nil, err
			}
			p = dst
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat artifact: %w", err)
		}
		res.Packages = append(res.Packages, filepath.Base(p))
		if info.Size() >= res.Size {
			res.Filename = filepath.Base(p)
			res.Path = p
			res.Size = info.Size()
		}
	}
	sort.Strings(res.Packages)
	res.Type = artifactType(res.Filename)
	return res, nil
}

func artifactType(name string) string {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".tar.gz") {
		return "tar.gz"
	}
	return strings.TrimPrefix(filepath.Ext(lower), ".")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create artifact copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy artifact: %w", err)
	}
	return out.Close()
}

// lineWriter splits written bytes into lines
type lineWriter struct {
	fn  func(line string)
	buf bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf.Next(i+1)), "\r\n")
		w.fn(line)
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if w.buf.Len() > 0 {
		w.fn(strings.TrimRight(w.buf.String(), "\r\n"))
		w.buf.Reset()
	}
}

// lineRing keeps the last n lines of build output
type lineRing struct {
	mu    sync.Mutex
	lines []string
	n     int
}

func newLineRing(n int) *lineRing {
	return &lineRing{n: n}
}

func (r *lineRing) add(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.n {
		r.lines = r.lines[len(r.lines)-r.n:]
	}
}

func (r *lineRing) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n")
}
